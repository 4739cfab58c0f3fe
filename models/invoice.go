package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/billbookhq/billbook_backend/config"
	"github.com/billbookhq/billbook_backend/utils"
)

type Invoice struct {
	ID                int              `gorm:"primary_key" json:"id"`
	AccountId         string           `gorm:"index;not null" json:"account_id" binding:"required"`
	CustomerId        int              `gorm:"index;default:null" json:"customer_id"`
	PartyId           int              `gorm:"index;default:null" json:"party_id"`
	SequenceNo        int64            `gorm:"not null" json:"sequence_no"`
	InvoiceNumber     string           `gorm:"size:255;not null" json:"invoice_number" binding:"required"`
	IssueDate         time.Time        `gorm:"not null" json:"issue_date" binding:"required"`
	DueDate           *time.Time       `gorm:"default:null" json:"due_date"`
	IsTaxInclusive    *bool            `gorm:"not null;default:false" json:"is_tax_inclusive"`
	CurrencySymbol    string           `gorm:"size:10;default:null" json:"currency_symbol"`
	Notes             string           `gorm:"type:text;default:null" json:"notes"`
	Items             []InvoiceItem    `gorm:"foreignKey:InvoiceId" json:"items"`
	AdditionalCharges decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"additional_charges"`
	Discount          decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"discount"`
	Subtotal          decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"subtotal"`
	Tax               decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"tax"`
	TotalAmount       decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	AmountReceived    decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"amount_received"`
	PaymentsSnapshot  PaymentSnapshots `gorm:"type:json" json:"payments_snapshot"`
	CurrentStatus     InvoiceStatus    `gorm:"type:enum('Pending','Partial','Paid','Overdue');not null" json:"current_status"`
	Version           int              `gorm:"not null;default:0" json:"version"`
	CreatedAt         time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type InvoiceItem struct {
	ID              int             `gorm:"primary_key" json:"id"`
	InvoiceId       int             `gorm:"index;not null" json:"invoice_id"`
	ProductId       int             `gorm:"index;default:null" json:"product_id"`
	Description     string          `gorm:"size:255;default:null" json:"description"`
	Quantity        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	UnitPrice       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	GstRateId       int             `gorm:"default:null" json:"gst_rate_id"`
	TaxRateSnapshot decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax_rate_snapshot"`
	BasePrice       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"base_price"`
	TaxAmount       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax_amount"`
	LineTotal       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"line_total"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewInvoice struct {
	CustomerId        int              `json:"customer_id"`
	PartyId           int              `json:"party_id"`
	InvoiceNumber     string           `json:"invoice_number"`
	IssueDate         time.Time        `json:"issue_date" binding:"required" validate:"required"`
	DueDate           *time.Time       `json:"due_date"`
	IsTaxInclusive    *bool            `json:"is_tax_inclusive" binding:"required" validate:"required"`
	CurrencySymbol    string           `json:"currency_symbol"`
	Notes             string           `json:"notes"`
	AdditionalCharges decimal.Decimal  `json:"additional_charges"`
	Discount          decimal.Decimal  `json:"discount"`
	TaxOverride       *decimal.Decimal `json:"tax_override"`
	Items             []NewInvoiceItem `json:"items"`
}

type NewInvoiceItem struct {
	ProductId   int             `json:"product_id"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	GstRateId   int             `json:"gst_rate_id"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
}

// UpdateInvoice input. Pointer fields distinguish "leave alone" from "set".
// AmountReceived/CurrentStatus are present only so direct writes can be
// rejected explicitly: those fields belong to the reconciler.
type UpdateInvoiceInput struct {
	InvoiceNumber     *string           `json:"invoice_number"`
	IssueDate         *time.Time        `json:"issue_date"`
	DueDate           *time.Time        `json:"due_date"`
	IsTaxInclusive    *bool             `json:"is_tax_inclusive"`
	CurrencySymbol    *string           `json:"currency_symbol"`
	Notes             *string           `json:"notes"`
	AdditionalCharges *decimal.Decimal  `json:"additional_charges"`
	Discount          *decimal.Decimal  `json:"discount"`
	TaxOverride       *decimal.Decimal  `json:"tax_override"`
	Items             *[]NewInvoiceItem `json:"items"`
	AmountReceived    *decimal.Decimal  `json:"amount_received"`
	CurrentStatus     *InvoiceStatus    `json:"current_status"`
	PaymentsSnapshot  *PaymentSnapshots `json:"payments_snapshot"`
}

type InvoiceFilter struct {
	InvoiceNumber *string
	CustomerId    *int
	PartyId       *int
	Status        *InvoiceStatus
	StartDate     *time.Time
	EndDate       *time.Time
	Limit         int
	Offset        int
}

// InvoiceTotalSummary accompanies invoice listings.
type InvoiceTotalSummary struct {
	TotalOutstandingReceivable decimal.Decimal `json:"total_outstanding_receivable"`
	TotalOverdue               decimal.Decimal `json:"total_overdue"`
	DueWithin30Days            decimal.Decimal `json:"due_within_30_days"`
}

func (input NewInvoice) validate(ctx context.Context, accountId string) error {
	// exactly one billed-to reference
	if (input.CustomerId > 0) == (input.PartyId > 0) {
		return &ValidationError{Err: ErrInvalidBilledTo}
	}
	if input.CustomerId > 0 {
		if err := utils.ValidateResourceId[Customer](ctx, accountId, input.CustomerId); err != nil {
			return errors.New("customer not found")
		}
	}
	if input.PartyId > 0 {
		if err := utils.ValidateResourceId[Party](ctx, accountId, input.PartyId); err != nil {
			return errors.New("party not found")
		}
	}
	if input.AdditionalCharges.IsNegative() || input.Discount.IsNegative() {
		return &ValidationError{Err: ErrInvalidAmount, Details: "additional charges and discount cannot be negative"}
	}
	if input.TaxOverride != nil && input.TaxOverride.IsNegative() {
		return &ValidationError{Err: ErrInvalidAmount, Details: "tax override cannot be negative"}
	}
	for _, item := range input.Items {
		if item.Quantity.IsNegative() || item.UnitPrice.IsNegative() {
			return &ValidationError{Err: ErrNegativeQuantityOrPrice, Details: item.Description}
		}
		if item.TaxRate.IsNegative() {
			return &ValidationError{Err: ErrInvalidAmount, Details: "tax rate cannot be negative"}
		}
		if item.ProductId > 0 {
			if err := utils.ValidateResourceId[Product](ctx, accountId, item.ProductId); err != nil {
				return errors.New("product not found")
			}
		}
	}
	return nil
}

// mapNewInvoiceItems resolves weak references and captures the tax rate
// snapshot: once priced, a later GstRate edit never changes this invoice.
func mapNewInvoiceItems(ctx context.Context, accountId string, inputs []NewInvoiceItem) ([]InvoiceItem, error) {
	items := make([]InvoiceItem, 0, len(inputs))
	for _, input := range inputs {
		item := InvoiceItem{
			ProductId:   input.ProductId,
			Description: input.Description,
			Quantity:    input.Quantity,
			UnitPrice:   input.UnitPrice,
			GstRateId:   input.GstRateId,
		}
		if input.ProductId > 0 {
			product, err := utils.FetchModel[Product](ctx, accountId, input.ProductId)
			if err != nil {
				return nil, errors.New("product not found")
			}
			if item.Description == "" {
				item.Description = product.Name
			}
			if item.GstRateId == 0 && input.TaxRate.IsZero() {
				item.GstRateId = product.GstRateId
			}
		}
		if item.GstRateId > 0 {
			gstRate, err := utils.FetchModel[GstRate](ctx, accountId, item.GstRateId)
			if err != nil {
				return nil, errors.New("gst rate not found")
			}
			item.TaxRateSnapshot = gstRate.Rate
		} else {
			item.TaxRateSnapshot = input.TaxRate
		}
		items = append(items, item)
	}
	return items, nil
}

func CreateInvoice(ctx context.Context, input *NewInvoice) (*Invoice, error) {
	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId == "" {
		return nil, errors.New("account id is required")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if input.IsTaxInclusive == nil {
		return nil, errors.New("is_tax_inclusive is required")
	}
	if err := input.validate(ctx, accountId); err != nil {
		return nil, err
	}

	items, err := mapNewInvoiceItems(ctx, accountId, input.Items)
	if err != nil {
		return nil, err
	}
	pricedItems, totals := priceInvoiceItems(items, input.AdditionalCharges, input.Discount, *input.IsTaxInclusive, input.TaxOverride)

	seqNo, err := utils.GetSequence[Invoice](ctx, accountId)
	if err != nil {
		return nil, err
	}
	invoiceNumber := input.InvoiceNumber
	if invoiceNumber == "" {
		invoiceNumber = fmt.Sprintf("INV-%d", seqNo)
	}
	// invoice numbers are unique within an account, not globally
	if err := utils.ValidateUnique[Invoice](ctx, accountId, "invoice_number", invoiceNumber, 0); err != nil {
		return nil, err
	}

	invoice := Invoice{
		AccountId:         accountId,
		CustomerId:        input.CustomerId,
		PartyId:           input.PartyId,
		SequenceNo:        seqNo,
		InvoiceNumber:     invoiceNumber,
		IssueDate:         input.IssueDate,
		DueDate:           input.DueDate,
		IsTaxInclusive:    input.IsTaxInclusive,
		CurrencySymbol:    input.CurrencySymbol,
		Notes:             input.Notes,
		Items:             pricedItems,
		AdditionalCharges: input.AdditionalCharges,
		Discount:          input.Discount,
		Subtotal:          utils.Round2(totals.Subtotal),
		Tax:               utils.Round2(totals.Tax),
		TotalAmount:       totals.GrandTotal,
		AmountReceived:    decimal.Zero,
		PaymentsSnapshot:  PaymentSnapshots{},
		CurrentStatus:     DeriveInvoiceStatus(totals.GrandTotal, decimal.Zero, input.DueDate, time.Now()),
	}

	db := config.GetDB()
	tx := db.Begin()
	defer func() { _ = tx.Rollback().Error }()

	if err := tx.WithContext(ctx).Create(&invoice).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return &invoice, nil
}

func UpdateInvoice(ctx context.Context, id int, input *UpdateInvoiceInput) (*Invoice, error) {
	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId == "" {
		return nil, errors.New("account id is required")
	}

	// same lock the reconciler holds: a payment landing mid-update cannot
	// interleave with the fetch-reprice-write below
	lock, err := utils.ObtainInvoiceLock(ctx, accountId, id, "models", "UpdateInvoice")
	if err != nil {
		return nil, err
	}
	defer utils.ReleaseLock(ctx, lock)

	invoice, err := utils.FetchModel[Invoice](ctx, accountId, id, "Items")
	if err != nil {
		return nil, err
	}

	// reconciler-owned fields are never writable through this path
	if input.AmountReceived != nil || input.CurrentStatus != nil || input.PaymentsSnapshot != nil {
		return nil, &ValidationError{Err: ErrDerivedFieldEdit}
	}
	if input.IsTaxInclusive != nil && *input.IsTaxInclusive != *invoice.IsTaxInclusive {
		return nil, &ValidationError{Err: ErrTaxInclusiveImmutable}
	}

	financialEdit := input.Items != nil || input.AdditionalCharges != nil || input.Discount != nil || input.TaxOverride != nil
	if financialEdit && invoice.AmountReceived.IsPositive() {
		return nil, &ValidationError{Err: ErrInvoiceHasPayments,
			Details: fmt.Sprintf("invoice %s has received %s", invoice.InvoiceNumber, invoice.AmountReceived.StringFixed(2))}
	}

	if input.InvoiceNumber != nil && *input.InvoiceNumber != invoice.InvoiceNumber {
		if err := utils.ValidateUnique[Invoice](ctx, accountId, "invoice_number", *input.InvoiceNumber, id); err != nil {
			return nil, err
		}
		invoice.InvoiceNumber = *input.InvoiceNumber
	}
	if input.IssueDate != nil {
		invoice.IssueDate = *input.IssueDate
	}
	if input.DueDate != nil {
		invoice.DueDate = input.DueDate
	}
	if input.CurrencySymbol != nil {
		invoice.CurrencySymbol = *input.CurrencySymbol
	}
	if input.Notes != nil {
		invoice.Notes = *input.Notes
	}

	var newItems []InvoiceItem
	replaceItems := false
	if financialEdit {
		charges := invoice.AdditionalCharges
		discount := invoice.Discount
		if input.AdditionalCharges != nil {
			if input.AdditionalCharges.IsNegative() {
				return nil, &ValidationError{Err: ErrInvalidAmount, Details: "additional charges cannot be negative"}
			}
			charges = *input.AdditionalCharges
		}
		if input.Discount != nil {
			if input.Discount.IsNegative() {
				return nil, &ValidationError{Err: ErrInvalidAmount, Details: "discount cannot be negative"}
			}
			discount = *input.Discount
		}

		items := invoice.Items
		if input.Items != nil {
			for _, item := range *input.Items {
				if item.Quantity.IsNegative() || item.UnitPrice.IsNegative() {
					return nil, &ValidationError{Err: ErrNegativeQuantityOrPrice, Details: item.Description}
				}
			}
			items, err = mapNewInvoiceItems(ctx, accountId, *input.Items)
			if err != nil {
				return nil, err
			}
			replaceItems = true
		}

		pricedItems, totals := priceInvoiceItems(items, charges, discount, *invoice.IsTaxInclusive, input.TaxOverride)
		if utils.Round2(invoice.AmountReceived).GreaterThan(totals.GrandTotal) {
			return nil, &ValidationError{Err: ErrPaymentExceedsBalance,
				Details: fmt.Sprintf("new total %s is below amount already received %s",
					totals.GrandTotal.StringFixed(2), invoice.AmountReceived.StringFixed(2))}
		}
		invoice.AdditionalCharges = charges
		invoice.Discount = discount
		invoice.Subtotal = utils.Round2(totals.Subtotal)
		invoice.Tax = utils.Round2(totals.Tax)
		invoice.TotalAmount = totals.GrandTotal
		newItems = pricedItems
	}

	// status follows from the current figures, never from the caller
	invoice.CurrentStatus = DeriveInvoiceStatus(invoice.TotalAmount, invoice.AmountReceived, invoice.DueDate, time.Now())

	db := config.GetDB()
	tx := db.Begin()
	defer func() { _ = tx.Rollback().Error }()

	if replaceItems {
		if err := tx.WithContext(ctx).Where("invoice_id = ?", invoice.ID).Delete(&InvoiceItem{}).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		for i := range newItems {
			newItems[i].InvoiceId = invoice.ID
		}
		if len(newItems) > 0 {
			if err := tx.WithContext(ctx).Create(&newItems).Error; err != nil {
				tx.Rollback()
				return nil, err
			}
		}
		invoice.Items = newItems
	} else if financialEdit {
		invoice.Items = newItems
	}

	// explicit column list: amount_received and payments_snapshot stay with
	// the reconciler (status is re-derived above because due date and total
	// may have changed). The version check catches any writer the lock
	// could not see.
	result := tx.WithContext(ctx).Model(&Invoice{}).
		Where("id = ? AND account_id = ? AND version = ?", invoice.ID, accountId, invoice.Version).
		Updates(map[string]interface{}{
			"invoice_number":     invoice.InvoiceNumber,
			"issue_date":         invoice.IssueDate,
			"due_date":           invoice.DueDate,
			"currency_symbol":    invoice.CurrencySymbol,
			"notes":              invoice.Notes,
			"additional_charges": invoice.AdditionalCharges,
			"discount":           invoice.Discount,
			"subtotal":           invoice.Subtotal,
			"tax":                invoice.Tax,
			"total_amount":       invoice.TotalAmount,
			"current_status":     invoice.CurrentStatus,
			"version":            invoice.Version + 1,
		})
	if result.Error != nil {
		tx.Rollback()
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		return nil, ErrReconciliationConflict
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	invoice.Version++

	return invoice, nil
}

// DeleteInvoice removes the invoice and its items. Payments referencing it
// are NOT cascade-deleted: they stay behind as valid direct payments with a
// dangling invoice reference, and reconciliation skips them from then on.
func DeleteInvoice(ctx context.Context, id int) (*Invoice, error) {
	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId == "" {
		return nil, errors.New("account id is required")
	}

	invoice, err := utils.FetchModel[Invoice](ctx, accountId, id, "Items")
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.Begin()
	defer func() { _ = tx.Rollback().Error }()

	if err := tx.WithContext(ctx).Where("invoice_id = ?", invoice.ID).Delete(&InvoiceItem{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.WithContext(ctx).Delete(invoice).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if err := config.RemoveRedisKey(invoicePaymentsCacheKey(accountId, invoice.ID)); err != nil {
		config.LogError(config.GetLogger(), "models", "DeleteInvoice", "redis delete failed", invoice.ID, err)
	}

	return invoice, nil
}

func GetInvoice(ctx context.Context, id int) (*Invoice, error) {
	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId == "" {
		return nil, errors.New("account id is required")
	}
	invoice, err := utils.FetchModel[Invoice](ctx, accountId, id, "Items")
	if err != nil {
		return nil, err
	}
	refreshDisplayStatus(invoice)
	return invoice, nil
}

func GetInvoices(ctx context.Context, filter *InvoiceFilter) ([]*Invoice, *InvoiceTotalSummary, error) {
	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId == "" {
		return nil, nil, errors.New("account id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("account_id = ?", accountId)
	if filter != nil {
		if filter.InvoiceNumber != nil && *filter.InvoiceNumber != "" {
			dbCtx = dbCtx.Where("invoice_number LIKE ?", "%"+*filter.InvoiceNumber+"%")
		}
		if filter.CustomerId != nil && *filter.CustomerId > 0 {
			dbCtx = dbCtx.Where("customer_id = ?", *filter.CustomerId)
		}
		if filter.PartyId != nil && *filter.PartyId > 0 {
			dbCtx = dbCtx.Where("party_id = ?", *filter.PartyId)
		}
		if filter.StartDate != nil && filter.EndDate != nil {
			dbCtx = dbCtx.Where("issue_date BETWEEN ? AND ?", *filter.StartDate, *filter.EndDate)
		}
	}

	var results []*Invoice
	query := dbCtx.Preload("Items").Order("issue_date DESC, id DESC")
	if filter != nil && filter.Limit > 0 {
		query = query.Limit(filter.Limit).Offset(filter.Offset)
	}
	if err := query.Find(&results).Error; err != nil {
		return nil, nil, err
	}

	for _, invoice := range results {
		refreshDisplayStatus(invoice)
	}
	// status filtering happens after the display-status refresh so an
	// invoice that became Overdue by clock alone is matched correctly
	if filter != nil && filter.Status != nil {
		filtered := results[:0]
		for _, invoice := range results {
			if invoice.CurrentStatus == *filter.Status {
				filtered = append(filtered, invoice)
			}
		}
		results = filtered
	}

	summary, err := getInvoiceTotalSummary(ctx, accountId)
	if err != nil {
		return nil, nil, err
	}
	return results, summary, nil
}

// refreshDisplayStatus re-derives the status for a read path: an invoice can
// become Overdue purely by the clock, with no payment mutation to trigger a
// reconciliation. The stored column stays the reconciler's last write.
func refreshDisplayStatus(invoice *Invoice) {
	invoice.CurrentStatus = DeriveInvoiceStatus(invoice.TotalAmount, invoice.AmountReceived, invoice.DueDate, time.Now())
}

func getInvoiceTotalSummary(ctx context.Context, accountId string) (*InvoiceTotalSummary, error) {
	db := config.GetDB()
	var rows []struct {
		TotalAmount    decimal.Decimal
		AmountReceived decimal.Decimal
		DueDate        *time.Time
	}
	if err := db.WithContext(ctx).Model(&Invoice{}).
		Select("total_amount, amount_received, due_date").
		Where("account_id = ?", accountId).
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	summary := InvoiceTotalSummary{}
	now := time.Now()
	horizon := now.AddDate(0, 0, 30)
	for _, row := range rows {
		balance := BalanceDue(row.TotalAmount, row.AmountReceived)
		if !balance.IsPositive() {
			continue
		}
		summary.TotalOutstandingReceivable = summary.TotalOutstandingReceivable.Add(balance)
		if row.DueDate == nil {
			continue
		}
		if dateOnly(*row.DueDate).Before(dateOnly(now)) {
			summary.TotalOverdue = summary.TotalOverdue.Add(balance)
		} else if !dateOnly(*row.DueDate).After(dateOnly(horizon)) {
			summary.DueWithin30Days = summary.DueWithin30Days.Add(balance)
		}
	}
	return &summary, nil
}
