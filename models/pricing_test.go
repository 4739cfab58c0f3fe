package models_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billbookhq/billbook_backend/models"
	"github.com/billbookhq/billbook_backend/utils"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestCalculateLineAmounts_Exclusive(t *testing.T) {
	// qty=2, unit=100, rate=18% exclusive -> base 100, tax 36, total 236
	amounts := models.CalculateLineAmounts(dec("2"), dec("100"), dec("18"), false)

	assert.True(t, amounts.BasePrice.Equal(dec("100")), "base price: %s", amounts.BasePrice)
	assert.True(t, amounts.TaxAmount.Equal(dec("36")), "tax: %s", amounts.TaxAmount)
	assert.True(t, amounts.LineTotal.Equal(dec("236")), "total: %s", amounts.LineTotal)
}

func TestCalculateLineAmounts_Inclusive(t *testing.T) {
	// qty=2, unit=118 inclusive of 18% -> base 100, tax 18 per unit, total 236
	amounts := models.CalculateLineAmounts(dec("2"), dec("118"), dec("18"), true)

	assert.True(t, utils.Round2(amounts.BasePrice).Equal(dec("100")), "base price: %s", amounts.BasePrice)
	assert.True(t, utils.Round2(amounts.TaxAmount).Equal(dec("36")), "tax: %s", amounts.TaxAmount)
	assert.True(t, amounts.LineTotal.Equal(dec("236")), "total: %s", amounts.LineTotal)
}

func TestCalculateLineAmounts_ZeroRateDegradesToPlainMultiply(t *testing.T) {
	for _, inclusive := range []bool{true, false} {
		amounts := models.CalculateLineAmounts(dec("3"), dec("49.99"), decimal.Zero, inclusive)
		assert.True(t, amounts.LineTotal.Equal(dec("149.97")), "inclusive=%v total=%s", inclusive, amounts.LineTotal)
		assert.True(t, amounts.TaxAmount.IsZero())
	}
}

func TestCalculateLineAmounts_ZeroQuantityStillParticipates(t *testing.T) {
	// placeholder/service rows: legal, zero-total
	amounts := models.CalculateLineAmounts(decimal.Zero, dec("500"), dec("18"), false)
	assert.True(t, amounts.LineTotal.IsZero())
	assert.True(t, amounts.TaxAmount.IsZero())
	assert.True(t, amounts.BasePrice.Equal(dec("500")))
}

// Exclusive pricing followed by inclusive pricing of the resulting per-unit
// total at the same rate must recover the original unit price within a cent.
func TestLinePricing_InclusiveExclusiveRoundTrip(t *testing.T) {
	prices := []string{"100", "33.33", "7.77", "1249.50", "0.99"}
	rates := []string{"5", "12", "18", "28", "7.5"}

	cent := dec("0.01")
	for _, p := range prices {
		for _, r := range rates {
			unitPrice := dec(p)
			rate := dec(r)

			exclusive := models.CalculateLineAmounts(dec("1"), unitPrice, rate, false)
			inclusive := models.CalculateLineAmounts(dec("1"), exclusive.LineTotal, rate, true)

			diff := inclusive.BasePrice.Sub(unitPrice).Abs()
			assert.True(t, diff.LessThanOrEqual(cent),
				"price=%s rate=%s recovered=%s diff=%s", p, r, inclusive.BasePrice, diff)
		}
	}
}

func TestAggregateInvoiceTotals_Scenario(t *testing.T) {
	amounts := models.CalculateLineAmounts(dec("2"), dec("100"), dec("18"), false)
	items := []models.InvoiceItem{{
		Quantity:        dec("2"),
		UnitPrice:       dec("100"),
		TaxRateSnapshot: dec("18"),
		BasePrice:       amounts.BasePrice,
		TaxAmount:       amounts.TaxAmount,
		LineTotal:       amounts.LineTotal,
	}}

	totals := models.AggregateInvoiceTotals(items, decimal.Zero, decimal.Zero, nil)
	assert.True(t, totals.Subtotal.Equal(dec("200")), "subtotal: %s", totals.Subtotal)
	assert.True(t, totals.Tax.Equal(dec("36")), "tax: %s", totals.Tax)
	assert.True(t, totals.GrandTotal.Equal(dec("236")), "grand total: %s", totals.GrandTotal)
	assert.False(t, totals.DiscountExceedsPayable)
}

func TestAggregateInvoiceTotals_TaxOverrideTakesPrecedence(t *testing.T) {
	amounts := models.CalculateLineAmounts(dec("1"), dec("100"), dec("18"), false)
	items := []models.InvoiceItem{{
		Quantity:  dec("1"),
		UnitPrice: dec("100"),
		BasePrice: amounts.BasePrice,
		TaxAmount: amounts.TaxAmount,
		LineTotal: amounts.LineTotal,
	}}

	override := dec("20")
	totals := models.AggregateInvoiceTotals(items, decimal.Zero, decimal.Zero, &override)
	assert.True(t, totals.Tax.Equal(dec("20")), "tax: %s", totals.Tax)
	assert.True(t, totals.GrandTotal.Equal(dec("120")), "grand total: %s", totals.GrandTotal)
}

func TestAggregateInvoiceTotals_DiscountClampsAtZero(t *testing.T) {
	items := []models.InvoiceItem{{
		Quantity:  dec("1"),
		UnitPrice: dec("50"),
		BasePrice: dec("50"),
		TaxAmount: decimal.Zero,
		LineTotal: dec("50"),
	}}

	totals := models.AggregateInvoiceTotals(items, dec("10"), dec("100"), nil)
	assert.True(t, totals.GrandTotal.IsZero(), "grand total: %s", totals.GrandTotal)
	assert.True(t, totals.DiscountExceedsPayable)
}

func TestAggregateInvoiceTotals_ChargesAndDiscount(t *testing.T) {
	items := []models.InvoiceItem{{
		Quantity:  dec("4"),
		UnitPrice: dec("25"),
		BasePrice: dec("25"),
		TaxAmount: decimal.Zero,
		LineTotal: dec("100"),
	}}

	totals := models.AggregateInvoiceTotals(items, dec("15"), dec("5"), nil)
	require.True(t, totals.GrandTotal.Equal(dec("110")), "grand total: %s", totals.GrandTotal)
}

func TestBalanceDue(t *testing.T) {
	assert.True(t, models.BalanceDue(dec("236"), dec("100")).Equal(dec("136")))
	assert.True(t, models.BalanceDue(dec("236"), dec("236")).IsZero())
	// rounding applies at the comparison boundary
	assert.True(t, models.BalanceDue(dec("100"), dec("99.996")).IsZero())
}
