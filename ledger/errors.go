/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match on the sentinels with errors.Is and pull details out of
  the structured errors with errors.As.

ERROR CATEGORIES:
  1. Lifecycle errors   - InvalidTransition
  2. Stock errors       - InsufficientStock, DuplicateMovement
  3. Reference errors   - UnknownEntity, NotFound
  4. Drawer errors      - AlreadyAudited, NotReconciled
  5. Concurrency errors - Busy, ConcurrentModification
  6. Input errors       - InvalidInput (ValidationError)

RETRY SEMANTICS:
  DuplicateMovement never reaches a caller of the Engine: a replayed
  movement reference is a successful no-op. ConcurrentModification is
  retried internally and surfaces as Busy once the retry budget is spent.
  Everything else is a per-operation failure; nothing here is fatal.
*/
package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidTransition is returned when the requested status edge is not in the lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInsufficientStock is returned when a movement would break the negative-stock policy.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrUnknownEntity is returned when a referenced branch, warehouse, item,
	// party, payment method, transaction or drawer does not exist or is inactive.
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrDuplicateMovement is returned by stores when a movement reference was
	// already applied to a stock key.
	ErrDuplicateMovement = errors.New("duplicate movement reference")

	// ErrAlreadyAudited is returned when reconciling a drawer day that has been audited.
	ErrAlreadyAudited = errors.New("cash drawer already audited")

	// ErrNotReconciled is returned when auditing a drawer day with no physical count.
	ErrNotReconciled = errors.New("cash drawer not reconciled")

	// ErrBusy is returned when a lock or a compare-and-set could not be won within the retry budget.
	ErrBusy = errors.New("resource busy")

	// ErrConcurrentModification is returned by stores when a compare-and-set loses.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInvalidInput is returned for malformed input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is the store-level "no such row". The engine turns it into UnknownEntity.
	ErrNotFound = errors.New("not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type InvalidTransitionError struct {
	TransactionID TransactionID
	From          Status
	To            Status
	// Reason is set when the edge exists but the transaction's state forbids it.
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("invalid transition for transaction %s: %s -> %s", e.TransactionID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// InsufficientStockError provides details about a stock shortage.
type InsufficientStockError struct {
	Key       StockKey
	Available Quantity
	Delta     Quantity
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock at %s: available %s, movement %s",
		e.Key, e.Available, e.Delta)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

type UnknownEntityError struct {
	Kind     string
	ID       string
	Inactive bool
	Detail   string
}

func (e *UnknownEntityError) Error() string {
	msg := fmt.Sprintf("unknown %s %q", e.Kind, e.ID)
	if e.Inactive {
		msg = fmt.Sprintf("inactive %s %q", e.Kind, e.ID)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *UnknownEntityError) Unwrap() error { return ErrUnknownEntity }

type AlreadyAuditedError struct {
	BranchID     BranchID
	BusinessDate Date
	AuditedBy    PartyID
	AuditedAt    time.Time
}

func (e *AlreadyAuditedError) Error() string {
	return fmt.Sprintf("cash drawer %s@%s audited by %s at %s; record an adjustment before reconciling again",
		e.BranchID, e.BusinessDate, e.AuditedBy, e.AuditedAt.Format(time.RFC3339))
}

func (e *AlreadyAuditedError) Unwrap() error { return ErrAlreadyAudited }

type BusyError struct {
	Key      string
	Attempts int
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("busy: %s not acquired after %d attempts", e.Key, e.Attempts)
}

func (e *BusyError) Unwrap() error { return ErrBusy }

// ValidationError describes one or more rejected input fields.
type ValidationError struct {
	Field   string
	Message string
	Fields  []FieldError
}

type FieldError struct {
	Field string
	Rule  string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid input: " + e.Message
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" ("+f.Rule+")")
	}
	return "invalid input: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the same call might succeed later unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy) || errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input or state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrAlreadyAudited) ||
		errors.Is(err, ErrNotReconciled)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUnknownEntity) || errors.Is(err, ErrNotFound)
}
