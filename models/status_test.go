package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/billbookhq/billbook_backend/models"
)

func TestDeriveInvoiceStatus(t *testing.T) {
	today := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)
	yesterday := today.AddDate(0, 0, -1)
	tomorrow := today.AddDate(0, 0, 1)

	cases := []struct {
		name     string
		total    string
		received string
		dueDate  *time.Time
		expected models.InvoiceStatus
	}{
		{"nothing received, no due date", "1000", "0", nil, models.InvoiceStatusPending},
		{"nothing received, due in future", "1000", "0", &tomorrow, models.InvoiceStatusPending},
		{"nothing received, due today", "1000", "0", &today, models.InvoiceStatusPending},
		{"nothing received, past due", "1000", "0", &yesterday, models.InvoiceStatusOverdue},
		{"partially paid", "1000", "400", nil, models.InvoiceStatusPartial},
		// a partially paid invoice past its due date stays Partial
		{"partially paid and past due", "1000", "400", &yesterday, models.InvoiceStatusPartial},
		{"token payment and past due", "1000", "1", &yesterday, models.InvoiceStatusPartial},
		{"fully paid", "1000", "1000", nil, models.InvoiceStatusPaid},
		{"fully paid past due", "1000", "1000", &yesterday, models.InvoiceStatusPaid},
		{"overpaid", "1000", "1000.01", nil, models.InvoiceStatusPaid},
		// comparison happens after rounding to 2 decimals
		{"paid within rounding tolerance", "1000", "999.996", nil, models.InvoiceStatusPaid},
		{"one cent short", "1000", "999.99", nil, models.InvoiceStatusPartial},
		{"zero-total invoice", "0", "0", nil, models.InvoiceStatusPaid},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := models.DeriveInvoiceStatus(dec(tc.total), dec(tc.received), tc.dueDate, today)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestDeriveInvoiceStatus_DueDateComparesByCalendarDay(t *testing.T) {
	// due late yesterday evening, evaluated early today: overdue by date, not by clock
	today := time.Date(2026, 3, 15, 0, 5, 0, 0, time.UTC)
	due := time.Date(2026, 3, 14, 23, 55, 0, 0, time.UTC)

	got := models.DeriveInvoiceStatus(dec("500"), dec("0"), &due, today)
	assert.Equal(t, models.InvoiceStatusOverdue, got)

	// due later today is not overdue regardless of the hour
	dueToday := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	got = models.DeriveInvoiceStatus(dec("500"), dec("0"), &dueToday, today)
	assert.Equal(t, models.InvoiceStatusPending, got)
}
