/*
Package ledger is the transactional core of the retail administration tool.

PURPOSE:
  The CRUD layer around this package is simple insert/list plumbing for
  master data. This package is the part that has to be right:
  - drive each commercial Transaction through its lifecycle
  - keep (branch, warehouse, item) stock balances consistent with it
  - record every out-of-band correction as an immutable Adjustment
  - reconcile daily cash-drawer counts against system cash

KEY CONCEPTS IN THIS FILE (types.go):
  - Identifiers: type-safe string IDs (uuid text)
  - Master data: Branch, Warehouse, Item, Party, PaymentMethod
  - Transaction + LineItem: the commercial event and its lines
  - StockKey / StockBalance / Movement: the stock ledger rows
  - Expense / CashDrawerDaily: cash drawer inputs and outputs
  - Actor: the opaque identity every mutating call carries

DESIGN PRINCIPLES:
  1. Exactness: Money and Quantity are fixed-point decimals (money.go)
  2. Immutability: movements and adjustments are append-only
  3. Idempotency: every stock delta carries a MovementRef
  4. Explicit identity: no global "current user", an Actor is passed in

SEE ALSO:
  - engine.go:     the operations exposed to the surrounding layer
  - lifecycle.go:  status graph and stock movement policy
  - store.go:      persistence contract
*/
package ledger

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	BranchID        string
	WarehouseID     string
	ItemID          string
	PartyID         string
	PaymentMethodID string
	TransactionID   string
	AdjustmentID    string
	ExpenseID       string
)

// NewID returns a fresh random identifier.
func NewID() string { return uuid.NewString() }

// =============================================================================
// ACTOR - opaque identity supplied by the caller
// =============================================================================

// Actor is who is performing a mutating call. Authorization decisions are
// made before the call reaches the engine; the engine only records PartyID.
type Actor struct {
	PartyID  PartyID `validate:"required"`
	Role     string
	Branches []BranchID
}

// SystemActor is used for scheduled, system-driven work.
func SystemActor(partyID PartyID) Actor {
	return Actor{PartyID: partyID, Role: "system"}
}

// =============================================================================
// MASTER DATA
// =============================================================================

type Branch struct {
	ID       BranchID `yaml:"id"`
	Name     string   `yaml:"name"`
	Code     string   `yaml:"code"`
	IsActive bool     `yaml:"active"`
}

type Warehouse struct {
	ID       WarehouseID `yaml:"id"`
	BranchID BranchID    `yaml:"branch_id"`
	Name     string      `yaml:"name"`
	IsActive bool        `yaml:"active"`
}

type Item struct {
	ID          ItemID   `yaml:"id"`
	Name        string   `yaml:"name"`
	DisplayName string   `yaml:"display_name"`
	SKU         string   `yaml:"sku"`
	Unit        string   `yaml:"unit"`
	TaxPercent  *Percent `yaml:"-"`
	IsActive    bool     `yaml:"active"`
}

type PaymentMethodType string

const (
	PaymentCashDrawer  PaymentMethodType = "cash_drawer"
	PaymentBankAccount PaymentMethodType = "bank_account"
	PaymentCredit      PaymentMethodType = "credit"
	PaymentOther       PaymentMethodType = "other"
)

type PaymentMethod struct {
	ID       PaymentMethodID   `yaml:"id"`
	BranchID BranchID          `yaml:"branch_id"`
	Name     string            `yaml:"name"`
	Type     PaymentMethodType `yaml:"type"`
	IsActive bool              `yaml:"active"`
}

// =============================================================================
// PARTY TYPES - a set, not a list
// =============================================================================

type PartyType uint8

const (
	PartySupplier PartyType = 1 << iota
	PartyCustomer
	PartyEmployee
	PartyGeneral
)

var partyTypeNames = []struct {
	t    PartyType
	name string
}{
	{PartySupplier, "supplier"},
	{PartyCustomer, "customer"},
	{PartyEmployee, "employee"},
	{PartyGeneral, "general"},
}

// PartyTypes is a set of PartyType values.
type PartyTypes uint8

func NewPartyTypes(types ...PartyType) PartyTypes {
	var s PartyTypes
	for _, t := range types {
		s = s.With(t)
	}
	return s
}

func (s PartyTypes) Has(t PartyType) bool        { return uint8(s)&uint8(t) != 0 }
func (s PartyTypes) With(t PartyType) PartyTypes { return PartyTypes(uint8(s) | uint8(t)) }
func (s PartyTypes) IsEmpty() bool               { return s == 0 }

// String renders the set as a comma-separated list in a stable order.
func (s PartyTypes) String() string {
	var names []string
	for _, p := range partyTypeNames {
		if s.Has(p.t) {
			names = append(names, p.name)
		}
	}
	return strings.Join(names, ",")
}

func ParsePartyTypes(s string) (PartyTypes, error) {
	var set PartyTypes
	for _, raw := range strings.Split(s, ",") {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		found := false
		for _, p := range partyTypeNames {
			if p.name == name {
				set = set.With(p.t)
				found = true
				break
			}
		}
		if !found {
			return 0, invalid("party_types", "unknown party type %q", name)
		}
	}
	return set, nil
}

func (s PartyTypes) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *PartyTypes) UnmarshalText(text []byte) error {
	parsed, err := ParsePartyTypes(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type Party struct {
	ID       PartyID    `yaml:"id"`
	Name     string     `yaml:"name"`
	Types    PartyTypes `yaml:"types"`
	IsActive bool       `yaml:"active"`
}

// =============================================================================
// TRANSACTION - a commercial event with line items
// =============================================================================

type TransactionType string

const (
	TypePurchase TransactionType = "purchase"
	TypeSales    TransactionType = "sales"
	TypeReturn   TransactionType = "return"
)

type Status string

const (
	StatusBooked        Status = "booked"
	StatusCancelled     Status = "cancelled"
	StatusBilled        Status = "billed"
	StatusShipped       Status = "shipped"
	StatusReturned      Status = "returned"
	StatusReachedLorry  Status = "reached_lorry"
	StatusDeliveryTaken Status = "delivery_taken"
	StatusOnHold        Status = "on_hold"
	StatusAllOK         Status = "all_ok"
)

// AllStatuses lists every status in declaration order.
var AllStatuses = []Status{
	StatusBooked, StatusCancelled, StatusBilled, StatusShipped, StatusReturned,
	StatusReachedLorry, StatusDeliveryTaken, StatusOnHold, StatusAllOK,
}

func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

type LineItem struct {
	LineNo      int
	ItemID      ItemID
	WarehouseID WarehouseID
	Quantity    Quantity
	UnitPrice   Money
	TaxPercent  *Percent
	Discount    Money
}

// Gross is quantity × unit price.
func (l LineItem) Gross() Money { return LineTotal(l.Quantity, l.UnitPrice) }

// Tax is TaxPercent of Gross, zero when no rate is set.
func (l LineItem) Tax() Money {
	if l.TaxPercent == nil {
		return Money{}
	}
	return l.TaxPercent.Of(l.Gross())
}

// Net is gross plus tax minus discount.
func (l LineItem) Net() Money { return l.Gross().Add(l.Tax()).Sub(l.Discount) }

type TransportDetail struct {
	TransportName string `json:"transport_name"`
	BookedDate    Date   `json:"booked_date,omitempty"`
	LRNumber      string `json:"lr_number,omitempty"`
	FreightAmount *Money `json:"freight_amount,omitempty"`
}

type Attachment struct {
	ID        string    `json:"id,omitempty"`
	FilePath  string    `json:"file_path"`
	FileType  string    `json:"file_type,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type Transaction struct {
	ID              TransactionID
	BranchID        BranchID
	PartyID         PartyID
	EmployeeID      *PartyID
	Type            TransactionType
	Status          Status
	ReturnOf        *TransactionID
	BillNumber      string
	BillDate        Date
	ShippedDate     Date
	PaymentMethodID *PaymentMethodID
	Notes           string
	SystemGenerated bool

	Items       []LineItem
	Transport   *TransportDetail
	Attachments []Attachment

	// Audit fields
	Audited   bool
	AuditedBy *PartyID
	AuditedAt *time.Time
	CreatedBy PartyID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Total is the transaction's computed value: Σ(gross + tax − discount).
func (t *Transaction) Total() Money {
	var total Money
	for _, l := range t.Items {
		total = total.Add(l.Net())
	}
	return total
}

// Line returns the line with the given number.
func (t *Transaction) Line(lineNo int) (*LineItem, bool) {
	for i := range t.Items {
		if t.Items[i].LineNo == lineNo {
			return &t.Items[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate stored state through a returned pointer.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	c := *t
	c.EmployeeID = clonePtr(t.EmployeeID)
	c.ReturnOf = clonePtr(t.ReturnOf)
	c.PaymentMethodID = clonePtr(t.PaymentMethodID)
	c.AuditedBy = clonePtr(t.AuditedBy)
	c.AuditedAt = clonePtr(t.AuditedAt)
	c.Items = make([]LineItem, len(t.Items))
	for i, l := range t.Items {
		l.TaxPercent = clonePtr(l.TaxPercent)
		c.Items[i] = l
	}
	if t.Transport != nil {
		tr := *t.Transport
		tr.FreightAmount = clonePtr(t.Transport.FreightAmount)
		c.Transport = &tr
	}
	c.Attachments = append([]Attachment(nil), t.Attachments...)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// =============================================================================
// STOCK - balances and the movements that produced them
// =============================================================================

// StockKey identifies one stock balance row.
type StockKey struct {
	BranchID    BranchID
	WarehouseID WarehouseID
	ItemID      ItemID
}

func (k StockKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.BranchID, k.WarehouseID, k.ItemID)
}

func (k StockKey) lockKey() string { return "stock:" + k.String() }

func (k StockKey) Less(o StockKey) bool { return k.String() < o.String() }

func sortKeys(keys []StockKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}

type StockBalance struct {
	ID        string
	Key       StockKey
	Quantity  Quantity
	UpdatedAt time.Time
}

// MovementRef identifies the causal event behind a stock delta.
// A (MovementRef, StockKey) pair is applied at most once.
type MovementRef string

// TransitionRef is the movement reference of a status transition edge.
func TransitionRef(id TransactionID, from, to Status) MovementRef {
	return MovementRef(fmt.Sprintf("%s:%s->%s", id, from, to))
}

// AdjustmentRef is the movement reference of a stock correction.
func AdjustmentRef(id AdjustmentID) MovementRef {
	return MovementRef("adjustment:" + string(id))
}

// Movement is an applied stock delta. Append-only.
type Movement struct {
	ID        string
	Key       StockKey
	Delta     Quantity
	Ref       MovementRef
	Balance   Quantity // resulting quantity after this movement
	CreatedAt time.Time
}

// =============================================================================
// CASH - expenses and daily drawers
// =============================================================================

type Expense struct {
	ID              ExpenseID
	BranchID        BranchID
	PartyID         *PartyID
	EmployeeID      *PartyID
	Ledger          string
	Amount          Money
	PaymentMethodID PaymentMethodID
	Notes           string
	BusinessDate    Date
	CreatedBy       PartyID
	CreatedAt       time.Time
}

// CashDrawerDaily is one branch's drawer for one business date.
type CashDrawerDaily struct {
	ID               string
	BranchID         BranchID
	BusinessDate     Date
	OpeningCash      Money
	SystemCash       Money
	ClosingCash      *Money
	AdjustmentReason string
	AuditedBy        *PartyID
	AuditedAt        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Difference is closing − system. It is zero until the drawer is counted.
func (d *CashDrawerDaily) Difference() Money {
	if d.ClosingCash == nil {
		return Money{}
	}
	return d.ClosingCash.Sub(d.SystemCash)
}

func (d *CashDrawerDaily) IsAudited() bool { return d.AuditedAt != nil }
func (d *CashDrawerDaily) IsCounted() bool { return d.ClosingCash != nil }

func drawerLockKey(b BranchID, date Date) string {
	return fmt.Sprintf("drawer:%s@%s", b, date)
}

func (d *CashDrawerDaily) Clone() *CashDrawerDaily {
	if d == nil {
		return nil
	}
	c := *d
	c.ClosingCash = clonePtr(d.ClosingCash)
	c.AuditedBy = clonePtr(d.AuditedBy)
	c.AuditedAt = clonePtr(d.AuditedAt)
	return &c
}
