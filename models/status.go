package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/billbookhq/billbook_backend/utils"
)

// DeriveInvoiceStatus maps (total, received, due date) to a status. It is a
// pure function with no transition table: status is never mutated directly,
// only recomputed, so there is no illegal-transition concept.
//
// Comparisons use 2-decimal rounded values so floating entry noise cannot
// misclassify a fully-paid invoice as Partial.
//
// Overdue applies only while nothing has been received. A partially-paid
// invoice past its due date stays Partial everywhere (list views included);
// this is a deliberate single policy, not a per-view decision.
func DeriveInvoiceStatus(totalAmount, amountReceived decimal.Decimal, dueDate *time.Time, today time.Time) InvoiceStatus {
	received := utils.Round2(amountReceived)
	total := utils.Round2(totalAmount)

	if received.GreaterThanOrEqual(total) && (received.IsPositive() || total.IsZero()) {
		return InvoiceStatusPaid
	}
	if received.IsPositive() {
		return InvoiceStatusPartial
	}
	if dueDate != nil && dateOnly(*dueDate).Before(dateOnly(today)) {
		return InvoiceStatusOverdue
	}
	return InvoiceStatusPending
}

// due-date comparison is calendar-day granular
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
