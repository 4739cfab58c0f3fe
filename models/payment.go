package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/billbookhq/billbook_backend/config"
	"github.com/billbookhq/billbook_backend/utils"
)

// Payment records are the single source of truth for how much has been
// received. Invoice.AmountReceived and Invoice.PaymentsSnapshot are caches
// rebuilt from this table, never patched incrementally.
type Payment struct {
	ID              int             `gorm:"primary_key" json:"id"`
	AccountId       string          `gorm:"index;not null" json:"account_id" binding:"required"`
	InvoiceId       int             `gorm:"index;default:null" json:"invoice_id"`
	CustomerId      int             `gorm:"index;default:null" json:"customer_id"`
	PartyId         int             `gorm:"index;default:null" json:"party_id"`
	SequenceNo      int64           `gorm:"not null" json:"sequence_no"`
	PaymentNumber   string          `gorm:"size:255;not null" json:"payment_number"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount" binding:"required"`
	PaymentDate     time.Time       `gorm:"not null" json:"payment_date" binding:"required"`
	PaymentMode     PaymentModeType `gorm:"type:enum('Cash','BankTransfer','Card','Cheque','UPI','Other');default:'Other'" json:"payment_mode"`
	ReferenceNumber string          `gorm:"size:255;default:null" json:"reference_number"`
	Notes           string          `gorm:"type:text;default:null" json:"notes"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewPayment struct {
	InvoiceId       int             `json:"invoice_id"`
	CustomerId      int             `json:"customer_id"`
	PartyId         int             `json:"party_id"`
	Amount          decimal.Decimal `json:"amount" binding:"required" validate:"required"`
	PaymentDate     time.Time       `json:"payment_date" binding:"required" validate:"required"`
	PaymentMode     PaymentModeType `json:"payment_mode"`
	ReferenceNumber string          `json:"reference_number"`
	Notes           string          `json:"notes"`
}

type PaymentFilter struct {
	InvoiceId     *int
	CustomerId    *int
	PartyId       *int
	PaymentNumber *string
	Limit         int
	Offset        int
}

func (input NewPayment) validate(ctx context.Context, accountId string) error {
	if !input.Amount.IsPositive() {
		return &ValidationError{Err: ErrInvalidAmount, Details: "payment amount must be greater than zero"}
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
	return nil
}

func (input NewPayment) paymentMode() PaymentModeType {
	if input.PaymentMode == "" {
		return PaymentModeOther
	}
	return input.PaymentMode
}

// CreatePayment stores a payment and, when it is linked to an invoice,
// reconciles that invoice before returning. The balance check runs under the
// invoice lock BEFORE any write: a payment that would push the received
// amount over the total is rejected, never clamped.
//
// If reconciliation fails after the payment committed, the payment stays (a
// stale derived cache is recoverable, a lost payment is not) and the error is
// returned so the caller can retry the reconcile.
func CreatePayment(ctx context.Context, input *NewPayment) (*Payment, error) {
	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId == "" {
		return nil, errors.New("account id is required")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if err := input.validate(ctx, accountId); err != nil {
		return nil, err
	}

	if input.InvoiceId > 0 {
		lock, err := utils.ObtainInvoiceLock(ctx, accountId, input.InvoiceId, "models", "CreatePayment")
		if err != nil {
			return nil, err
		}
		defer utils.ReleaseLock(ctx, lock)

		if err := validateAgainstInvoiceBalance(ctx, accountId, input.InvoiceId, 0, input.Amount); err != nil {
			return nil, err
		}
		return createPaymentLocked(ctx, accountId, input)
	}
	return createPaymentLocked(ctx, accountId, input)
}

func createPaymentLocked(ctx context.Context, accountId string, input *NewPayment) (*Payment, error) {
	seqNo, err := utils.GetSequence[Payment](ctx, accountId)
	if err != nil {
		return nil, err
	}

	payment := Payment{
		AccountId:       accountId,
		InvoiceId:       input.InvoiceId,
		CustomerId:      input.CustomerId,
		PartyId:         input.PartyId,
		SequenceNo:      seqNo,
		PaymentNumber:   fmt.Sprintf("PAY-%d", seqNo),
		Amount:          input.Amount,
		PaymentDate:     input.PaymentDate,
		PaymentMode:     input.paymentMode(),
		ReferenceNumber: input.ReferenceNumber,
		Notes:           input.Notes,
	}

	db := config.GetDB()
	tx := db.Begin()
	defer func() { _ = tx.Rollback().Error }()

	if err := tx.WithContext(ctx).Create(&payment).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	// payment is durable from here; reconciliation refreshes derived state
	if payment.InvoiceId > 0 {
		if err := reconcileInvoiceLocked(ctx, accountId, payment.InvoiceId); err != nil {
			config.LogError(config.GetLogger(), "models", "CreatePayment", "reconciliation failed after payment write", payment.ID, err)
			return &payment, err
		}
	}
	return &payment, nil
}

// UpdatePayment applies new fields to an existing payment. When the payment
// moves between invoices, BOTH the old and the new invoice are reconciled so
// neither keeps a stale received amount.
func UpdatePayment(ctx context.Context, id int, input *NewPayment) (*Payment, error) {
	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId == "" {
		return nil, errors.New("account id is required")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if err := input.validate(ctx, accountId); err != nil {
		return nil, err
	}

	payment, err := utils.FetchModel[Payment](ctx, accountId, id)
	if err != nil {
		return nil, err
	}

	affected := resolveAffectedInvoiceIds(payment.InvoiceId, input.InvoiceId)

	// locks are taken in ascending id order so two movers cannot deadlock
	locks := make([]*utils.InvoiceLock, 0, len(affected))
	for _, invoiceId := range affected {
		lock, err := utils.ObtainInvoiceLock(ctx, accountId, invoiceId, "models", "UpdatePayment")
		if err != nil {
			for _, held := range locks {
				utils.ReleaseLock(ctx, held)
			}
			return nil, err
		}
		locks = append(locks, lock)
	}
	defer func() {
		for _, held := range locks {
			utils.ReleaseLock(ctx, held)
		}
	}()

	if input.InvoiceId > 0 {
		excludeId := 0
		if input.InvoiceId == payment.InvoiceId {
			excludeId = payment.ID
		}
		if err := validateAgainstInvoiceBalance(ctx, accountId, input.InvoiceId, excludeId, input.Amount); err != nil {
			return nil, err
		}
	}

	payment.InvoiceId = input.InvoiceId
	payment.CustomerId = input.CustomerId
	payment.PartyId = input.PartyId
	payment.Amount = input.Amount
	payment.PaymentDate = input.PaymentDate
	payment.PaymentMode = input.paymentMode()
	payment.ReferenceNumber = input.ReferenceNumber
	payment.Notes = input.Notes

	db := config.GetDB()
	tx := db.Begin()
	defer func() { _ = tx.Rollback().Error }()

	if err := tx.WithContext(ctx).Save(payment).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	for _, invoiceId := range affected {
		if err := reconcileInvoiceLocked(ctx, accountId, invoiceId); err != nil {
			config.LogError(config.GetLogger(), "models", "UpdatePayment", "reconciliation failed after payment write", payment.ID, err)
			return payment, err
		}
	}
	return payment, nil
}

func DeletePayment(ctx context.Context, id int) (*Payment, error) {
	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId == "" {
		return nil, errors.New("account id is required")
	}

	payment, err := utils.FetchModel[Payment](ctx, accountId, id)
	if err != nil {
		return nil, err
	}

	// invoice id is resolved BEFORE removal; the reconcile runs after
	invoiceId := payment.InvoiceId
	if invoiceId > 0 {
		lock, lockErr := utils.ObtainInvoiceLock(ctx, accountId, invoiceId, "models", "DeletePayment")
		if lockErr != nil {
			return nil, lockErr
		}
		defer utils.ReleaseLock(ctx, lock)
	}

	db := config.GetDB()
	tx := db.Begin()
	defer func() { _ = tx.Rollback().Error }()

	if err := tx.WithContext(ctx).Delete(payment).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if invoiceId > 0 {
		if err := reconcileInvoiceLocked(ctx, accountId, invoiceId); err != nil {
			config.LogError(config.GetLogger(), "models", "DeletePayment", "reconciliation failed after payment delete", payment.ID, err)
			return payment, err
		}
	}
	return payment, nil
}

func GetPayment(ctx context.Context, id int) (*Payment, error) {
	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId == "" {
		return nil, errors.New("account id is required")
	}
	return utils.FetchModel[Payment](ctx, accountId, id)
}

func GetPayments(ctx context.Context, filter *PaymentFilter) ([]*Payment, error) {
	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId == "" {
		return nil, errors.New("account id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("account_id = ?", accountId)
	if filter != nil {
		if filter.InvoiceId != nil && *filter.InvoiceId > 0 {
			dbCtx = dbCtx.Where("invoice_id = ?", *filter.InvoiceId)
		}
		if filter.CustomerId != nil && *filter.CustomerId > 0 {
			dbCtx = dbCtx.Where("customer_id = ?", *filter.CustomerId)
		}
		if filter.PartyId != nil && *filter.PartyId > 0 {
			dbCtx = dbCtx.Where("party_id = ?", *filter.PartyId)
		}
		if filter.PaymentNumber != nil && *filter.PaymentNumber != "" {
			dbCtx = dbCtx.Where("payment_number LIKE ?", "%"+*filter.PaymentNumber+"%")
		}
	}

	var results []*Payment
	query := dbCtx.Order("payment_date DESC, id DESC")
	if filter != nil && filter.Limit > 0 {
		query = query.Limit(filter.Limit).Offset(filter.Offset)
	}
	if err := query.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// resolveAffectedInvoiceIds returns the distinct non-zero invoice ids a
// payment mutation touches, ascending. A moved payment affects both sides.
func resolveAffectedInvoiceIds(oldInvoiceId, newInvoiceId int) []int {
	seen := map[int]bool{}
	var ids []int
	for _, id := range []int{oldInvoiceId, newInvoiceId} {
		if id > 0 && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// sumPaymentsForInvoice re-reads the ledger and sums amounts Go-side with
// decimals; excludePaymentId carves out the payment being edited.
func sumPaymentsForInvoice(ctx context.Context, accountId string, invoiceId int, excludePaymentId int) (decimal.Decimal, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).
		Where("account_id = ? AND invoice_id = ?", accountId, invoiceId)
	if excludePaymentId > 0 {
		dbCtx = dbCtx.Where("id != ?", excludePaymentId)
	}
	var payments []*Payment
	if err := dbCtx.Find(&payments).Error; err != nil {
		return decimal.Zero, err
	}
	var total decimal.Decimal
	for _, p := range payments {
		total = total.Add(p.Amount)
	}
	return total, nil
}

// validateAgainstInvoiceBalance fails a mutation that would leave the
// invoice's received amount above its total. Comparison is at 2 decimals.
func validateAgainstInvoiceBalance(ctx context.Context, accountId string, invoiceId int, excludePaymentId int, amount decimal.Decimal) error {
	invoice, err := utils.FetchModel[Invoice](ctx, accountId, invoiceId)
	if err != nil {
		return errors.New("invoice not found")
	}
	received, err := sumPaymentsForInvoice(ctx, accountId, invoiceId, excludePaymentId)
	if err != nil {
		return err
	}
	balance := utils.Round2(invoice.TotalAmount.Sub(received))
	if utils.Round2(received.Add(amount)).GreaterThan(utils.Round2(invoice.TotalAmount)) {
		return &ValidationError{
			Err:     ErrPaymentExceedsBalance,
			Details: fmt.Sprintf("payment exceeds invoice balance of %s for invoice %s", balance.StringFixed(2), invoice.InvoiceNumber),
		}
	}
	return nil
}
