package models

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/billbookhq/billbook_backend/config"
	"github.com/billbookhq/billbook_backend/utils"
)

// The reconciler keeps Invoice.AmountReceived, Invoice.PaymentsSnapshot and
// Invoice.CurrentStatus synchronized with the payment ledger. Every pass is
// a full recompute from the current payment set — nothing is patched
// incrementally, so a pass is idempotent and safe to retry after a conflict.
//
// Two guards serialize concurrent passes on one invoice:
//   - a per-invoice redislock held across the read-sum-write sequence
//   - a version column CAS on the invoice write, so even without Redis a
//     lost update is detected and retried instead of silently applied

const reconcileMaxRetries = 3

// ReconcileInvoice recomputes one invoice's derived fields from its payment
// set. A missing invoice is a deliberate no-op: payments may legitimately
// outlive the invoice they referenced.
func ReconcileInvoice(ctx context.Context, invoiceId int) error {
	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId == "" {
		return errors.New("account id is required")
	}

	lock, err := utils.ObtainInvoiceLock(ctx, accountId, invoiceId, "models", "ReconcileInvoice")
	if err != nil {
		return err
	}
	defer utils.ReleaseLock(ctx, lock)

	return reconcileInvoiceLocked(ctx, accountId, invoiceId)
}

// reconcileInvoiceLocked runs the recompute assuming the caller already
// holds the invoice lock. Version conflicts are retried with a fresh read.
func reconcileInvoiceLocked(ctx context.Context, accountId string, invoiceId int) error {
	var err error
	for attempt := 0; attempt < reconcileMaxRetries; attempt++ {
		err = reconcileOnce(ctx, accountId, invoiceId)
		if err == nil || !errors.Is(err, ErrReconciliationConflict) {
			return err
		}
	}
	return err
}

func reconcileOnce(ctx context.Context, accountId string, invoiceId int) error {
	db := config.GetDB()
	logger := config.GetLogger()

	var invoice Invoice
	if err := db.WithContext(ctx).
		Where("account_id = ?", accountId).
		First(&invoice, invoiceId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// dangling payment reference: skip silently, the payment stays
			// a valid direct record
			return nil
		}
		// anything else is a real failure; the caller must see it so the
		// pass can be retried
		return err
	}

	var payments []*Payment
	if err := db.WithContext(ctx).
		Where("account_id = ? AND invoice_id = ?", accountId, invoiceId).
		Order("payment_date, id").
		Find(&payments).Error; err != nil {
		return err
	}

	received := decimal.Zero
	for _, p := range payments {
		received = received.Add(p.Amount)
	}
	received = utils.Round2(received)

	snapshots := buildPaymentSnapshots(payments)
	status := DeriveInvoiceStatus(invoice.TotalAmount, received, invoice.DueDate, time.Now())

	if received.GreaterThan(utils.Round2(invoice.TotalAmount)) {
		// accepted operations cannot produce this; it means the ledger was
		// altered outside the engine. The cache still has to reflect the
		// ledger, so persist the true sum and flag the drift.
		fields := logrus.Fields{
			"module":         "models",
			"funcName":       "reconcileOnce",
			"correlation_id": correlationIdFromContextOrNew(ctx),
			"invoice_id":     invoiceId,
			"received":       received.StringFixed(2),
			"total":          invoice.TotalAmount.StringFixed(2),
		}
		if userId, ok := utils.GetUserIdFromContext(ctx); ok {
			fields["user_id"] = userId
		}
		if userName, ok := utils.GetUserNameFromContext(ctx); ok {
			fields["user_name"] = userName
		}
		logger.WithFields(fields).Error("ledger sum exceeds invoice total")
	}

	// one conditional write: all three derived fields together, or nothing
	result := db.WithContext(ctx).Model(&Invoice{}).
		Where("id = ? AND account_id = ? AND version = ?", invoice.ID, accountId, invoice.Version).
		Updates(map[string]interface{}{
			"amount_received":   received,
			"payments_snapshot": snapshots,
			"current_status":    status,
			"version":           invoice.Version + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrReconciliationConflict
	}

	// refresh the display cache with the set just written
	cacheKey := invoicePaymentsCacheKey(accountId, invoiceId)
	if err := config.SetRedisObject(cacheKey, snapshots, 10*time.Minute); err != nil {
		config.LogError(logger, "models", "reconcileOnce", "redis write failed", cacheKey, err)
	}
	return nil
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
