/*
lifecycle.go - Transaction status graph and stock movement policy

PURPOSE:
  A Lifecycle answers two questions for the transaction service:
  1. Is from -> to an allowed edge?
  2. What does that edge do to stock, for this transaction type?

DEFAULT GRAPH:
  booked         -> cancelled, billed, on_hold
  billed         -> shipped, cancelled
  shipped        -> reached_lorry, returned
  reached_lorry  -> delivery_taken
  delivery_taken -> all_ok, returned
  on_hold        -> booked, cancelled
  returned, all_ok, cancelled: terminal

MOVEMENT POLICY:
  Each type has a direction (+1 stock in, -1 stock out) and the set of
  statuses in which its stock effect is "held". Entering the held set
  applies the effect, leaving it reverses the effect, anything else is 0:

    purchase  +1  held in billed, shipped, reached_lorry, delivery_taken, all_ok
    sales     -1  held in shipped, reached_lorry, delivery_taken, all_ok
    return    -d  held in all_ok (d = direction of the original transaction)

  Because the effect is tied to membership of the held set, an effect can
  only be reversed after it was applied, and only once.

EXAMPLE:
  purchase booked->billed     +qty
  purchase billed->cancelled  -qty
  purchase booked->cancelled   0   (never applied)
  sales    shipped->returned  +qty
*/
package ledger

import "fmt"

// MovementPolicy is the stock effect of one transaction type.
type MovementPolicy struct {
	// Direction is +1 or -1. Zero means "inverse of the original
	// transaction", used by returns.
	Direction int
	Held      []Status
}

func (p MovementPolicy) holds(s Status) bool {
	for _, h := range p.Held {
		if h == s {
			return true
		}
	}
	return false
}

// Lifecycle is an immutable status graph plus per-type movement policies.
type Lifecycle struct {
	edges    map[Status]map[Status]bool
	policies map[TransactionType]MovementPolicy
}

// DefaultEdges is the standard retail status graph.
func DefaultEdges() map[Status][]Status {
	return map[Status][]Status{
		StatusBooked:        {StatusCancelled, StatusBilled, StatusOnHold},
		StatusBilled:        {StatusShipped, StatusCancelled},
		StatusShipped:       {StatusReachedLorry, StatusReturned},
		StatusReachedLorry:  {StatusDeliveryTaken},
		StatusDeliveryTaken: {StatusAllOK, StatusReturned},
		StatusOnHold:        {StatusBooked, StatusCancelled},
	}
}

// DefaultPolicies is the standard stock effect per transaction type.
func DefaultPolicies() map[TransactionType]MovementPolicy {
	return map[TransactionType]MovementPolicy{
		TypePurchase: {
			Direction: +1,
			Held:      []Status{StatusBilled, StatusShipped, StatusReachedLorry, StatusDeliveryTaken, StatusAllOK},
		},
		TypeSales: {
			Direction: -1,
			Held:      []Status{StatusShipped, StatusReachedLorry, StatusDeliveryTaken, StatusAllOK},
		},
		TypeReturn: {
			Direction: 0,
			Held:      []Status{StatusAllOK},
		},
	}
}

func DefaultLifecycle() *Lifecycle {
	l, err := NewLifecycle(DefaultEdges(), DefaultPolicies())
	if err != nil {
		panic(err)
	}
	return l
}

// NewLifecycle builds a Lifecycle from an edge table and movement policies.
// Every status must be known and every transaction type needs a policy.
func NewLifecycle(edges map[Status][]Status, policies map[TransactionType]MovementPolicy) (*Lifecycle, error) {
	l := &Lifecycle{
		edges:    make(map[Status]map[Status]bool, len(edges)),
		policies: make(map[TransactionType]MovementPolicy, len(policies)),
	}
	for from, tos := range edges {
		if !from.Valid() {
			return nil, fmt.Errorf("lifecycle: unknown status %q", from)
		}
		l.edges[from] = make(map[Status]bool, len(tos))
		for _, to := range tos {
			if !to.Valid() {
				return nil, fmt.Errorf("lifecycle: unknown status %q", to)
			}
			if to == from {
				return nil, fmt.Errorf("lifecycle: self edge on %q", from)
			}
			l.edges[from][to] = true
		}
	}
	for _, t := range []TransactionType{TypePurchase, TypeSales, TypeReturn} {
		p, ok := policies[t]
		if !ok {
			return nil, fmt.Errorf("lifecycle: no movement policy for %q", t)
		}
		if p.Direction < -1 || p.Direction > 1 {
			return nil, fmt.Errorf("lifecycle: direction %d for %q, want -1, 0 or +1", p.Direction, t)
		}
		if p.Direction == 0 && t != TypeReturn {
			return nil, fmt.Errorf("lifecycle: only returns may derive their direction")
		}
		for _, s := range p.Held {
			if !s.Valid() {
				return nil, fmt.Errorf("lifecycle: unknown held status %q for %q", s, t)
			}
		}
		l.policies[t] = MovementPolicy{Direction: p.Direction, Held: append([]Status(nil), p.Held...)}
	}
	return l, nil
}

func (l *Lifecycle) CanTransition(from, to Status) bool {
	return l.edges[from][to]
}

// Next lists the statuses reachable from s in one step, in declaration order.
func (l *Lifecycle) Next(s Status) []Status {
	var out []Status
	for _, to := range AllStatuses {
		if l.edges[s][to] {
			out = append(out, to)
		}
	}
	return out
}

func (l *Lifecycle) IsTerminal(s Status) bool { return len(l.edges[s]) == 0 }

// Direction resolves the stock direction of a transaction type. original is
// the type of the transaction a return refers to and is ignored otherwise.
func (l *Lifecycle) Direction(t TransactionType, original TransactionType) int {
	p := l.policies[t]
	if p.Direction != 0 {
		return p.Direction
	}
	return -l.policies[original].Direction
}

// Multiplier is the factor applied to line quantities for the edge from -> to:
// +direction when the effect becomes held, -direction when it stops, else 0.
func (l *Lifecycle) Multiplier(t TransactionType, direction int, from, to Status) int {
	p := l.policies[t]
	wasHeld, isHeld := p.holds(from), p.holds(to)
	switch {
	case !wasHeld && isHeld:
		return direction
	case wasHeld && !isHeld:
		return -direction
	}
	return 0
}

// Holds reports whether a transaction of type t in status s currently has
// its stock effect applied.
func (l *Lifecycle) Holds(t TransactionType, s Status) bool {
	return l.policies[t].holds(s)
}
