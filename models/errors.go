package models

import (
	"errors"
	"fmt"
)

// Sentinel errors let callers handle specific business failures
// programmatically with errors.Is.
var (
	// ErrPaymentExceedsBalance rejects a payment that would push an
	// invoice's received amount over its total.
	ErrPaymentExceedsBalance = errors.New("payment exceeds invoice balance")

	// ErrReconciliationConflict signals a concurrent reconciliation pass
	// bumped the invoice version between our read and write. The full
	// recompute is idempotent, so the caller retries it.
	ErrReconciliationConflict = errors.New("invoice was modified concurrently, retry reconciliation")

	// ErrTaxInclusiveImmutable: base prices are back-computed from the
	// inclusive/exclusive flag at entry time, so flipping it after items
	// exist would silently corrupt them.
	ErrTaxInclusiveImmutable = errors.New("is_tax_inclusive cannot be changed after invoice creation")

	// ErrDerivedFieldEdit rejects direct writes to reconciler-owned fields.
	ErrDerivedFieldEdit = errors.New("amount_received and status are derived from payments and cannot be set directly")

	ErrInvoiceHasPayments = errors.New("invoice amounts cannot be edited while payments exist")

	ErrInvalidBilledTo = errors.New("invoice must reference exactly one of customer or party")

	ErrInvalidAmount = errors.New("amount must be a positive number")

	ErrNegativeQuantityOrPrice = errors.New("quantity and unit price must be non-negative")
)

// ValidationError wraps a sentinel error with human-readable details, e.g.
// the concrete balance a payment exceeded.
type ValidationError struct {
	Err     error
	Details string
}

func (e *ValidationError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Details)
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
