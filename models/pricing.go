package models

import (
	"github.com/shopspring/decimal"

	"github.com/billbookhq/billbook_backend/config"
	"github.com/billbookhq/billbook_backend/utils"
)

// Pricing is the single place line amounts and invoice totals come from.
// Forms, document templates and reports display these results; they never
// re-derive them.

var decimalOneHundred = decimal.NewFromInt(100)

type LineAmounts struct {
	BasePrice decimal.Decimal
	TaxAmount decimal.Decimal
	LineTotal decimal.Decimal
}

// CalculateLineAmounts prices one line item. unitPrice semantics depend on
// isTaxInclusive, which is fixed per invoice, not per item:
//
//	exclusive: base = unitPrice, tax added on top
//	inclusive: base = unitPrice / (1 + rate/100), tax carved out of unitPrice
//
// Results stay unrounded; rounding to 2 decimals happens at persistence so
// rounding error does not compound across items.
func CalculateLineAmounts(quantity, unitPrice, taxRate decimal.Decimal, isTaxInclusive bool) LineAmounts {
	if taxRate.IsZero() {
		base := unitPrice
		total := unitPrice.Mul(quantity)
		return LineAmounts{BasePrice: base, TaxAmount: decimal.Zero, LineTotal: total}
	}

	if isTaxInclusive {
		divisor := decimal.NewFromInt(1).Add(taxRate.Div(decimalOneHundred))
		base := unitPrice.Div(divisor)
		tax := unitPrice.Sub(base).Mul(quantity)
		total := unitPrice.Mul(quantity)
		return LineAmounts{BasePrice: base, TaxAmount: tax, LineTotal: total}
	}

	base := unitPrice
	tax := base.Mul(quantity).Mul(taxRate).Div(decimalOneHundred)
	total := base.Mul(quantity).Add(tax)
	return LineAmounts{BasePrice: base, TaxAmount: tax, LineTotal: total}
}

type InvoiceTotals struct {
	Subtotal   decimal.Decimal
	Tax        decimal.Decimal
	GrandTotal decimal.Decimal

	// DiscountExceedsPayable reports the grand total was clamped to zero
	// because the discount exceeded subtotal + tax + charges.
	DiscountExceedsPayable bool
}

// AggregateInvoiceTotals sums priced items into invoice-level totals.
// taxOverride, when non-nil, takes precedence over the computed tax sum
// (manual tax adjustments by the caller).
func AggregateInvoiceTotals(items []InvoiceItem, additionalCharges, discount decimal.Decimal, taxOverride *decimal.Decimal) InvoiceTotals {
	var subtotal, tax decimal.Decimal
	for _, item := range items {
		subtotal = subtotal.Add(item.BasePrice.Mul(item.Quantity))
		tax = tax.Add(item.TaxAmount)
	}
	if taxOverride != nil {
		tax = *taxOverride
	}

	totals := InvoiceTotals{Subtotal: subtotal, Tax: tax}
	grand := subtotal.Add(tax).Add(additionalCharges).Sub(discount)
	if grand.IsNegative() {
		totals.DiscountExceedsPayable = true
		grand = decimal.Zero
	}
	totals.GrandTotal = utils.Round2(grand)
	return totals
}

// BalanceDue is the grand total minus the amount received, at display
// precision.
func BalanceDue(grandTotal, amountReceived decimal.Decimal) decimal.Decimal {
	return utils.Round2(grandTotal.Sub(amountReceived))
}

// priceInvoiceItems prices each item in place and returns the aggregated
// totals. Items keep their computed amounts at 2 decimals for persistence;
// aggregation uses the unrounded values.
func priceInvoiceItems(items []InvoiceItem, additionalCharges, discount decimal.Decimal, isTaxInclusive bool, taxOverride *decimal.Decimal) ([]InvoiceItem, InvoiceTotals) {
	priced := make([]InvoiceItem, len(items))
	for i, item := range items {
		amounts := CalculateLineAmounts(item.Quantity, item.UnitPrice, item.TaxRateSnapshot, isTaxInclusive)
		item.BasePrice = amounts.BasePrice
		item.TaxAmount = amounts.TaxAmount
		item.LineTotal = amounts.LineTotal
		priced[i] = item
	}

	totals := AggregateInvoiceTotals(priced, additionalCharges, discount, taxOverride)
	if totals.DiscountExceedsPayable {
		config.LogWarn(config.GetLogger(), "models", "priceInvoiceItems",
			"discount exceeds subtotal + tax + charges; grand total clamped to 0", discount)
	}

	for i := range priced {
		priced[i].BasePrice = utils.Round2(priced[i].BasePrice)
		priced[i].TaxAmount = utils.Round2(priced[i].TaxAmount)
		priced[i].LineTotal = utils.Round2(priced[i].LineTotal)
	}
	return priced, totals
}
