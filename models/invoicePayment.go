package models

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/billbookhq/billbook_backend/config"
	"github.com/billbookhq/billbook_backend/utils"
)

// PaymentSnapshot is one row of the denormalized payment summary stored on
// the invoice for fast rendering. The payment records are the source of
// truth; the reconciler rebuilds this whole slice on every ledger change and
// never patches it incrementally.
type PaymentSnapshot struct {
	PaymentId       int             `json:"payment_id"`
	PaymentDate     time.Time       `json:"payment_date"`
	PaymentMode     PaymentModeType `json:"payment_mode"`
	ReferenceNumber string          `json:"reference_number"`
	Amount          decimal.Decimal `json:"amount"`
}

// PaymentSnapshots serializes as a JSON column on the invoice row.
type PaymentSnapshots []PaymentSnapshot

func (ps PaymentSnapshots) Value() (driver.Value, error) {
	if ps == nil {
		ps = PaymentSnapshots{}
	}
	return json.Marshal(ps)
}

func (ps *PaymentSnapshots) Scan(value interface{}) error {
	if value == nil {
		*ps = PaymentSnapshots{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("payments snapshot must be a JSON string")
	}
	if len(data) == 0 {
		*ps = PaymentSnapshots{}
		return nil
	}
	return json.Unmarshal(data, ps)
}

// buildPaymentSnapshots derives the display cache from the full payment set
// read during a reconciliation pass.
func buildPaymentSnapshots(payments []*Payment) PaymentSnapshots {
	snapshots := make(PaymentSnapshots, 0, len(payments))
	for _, p := range payments {
		snapshots = append(snapshots, PaymentSnapshot{
			PaymentId:       p.ID,
			PaymentDate:     p.PaymentDate,
			PaymentMode:     p.PaymentMode,
			ReferenceNumber: p.ReferenceNumber,
			Amount:          p.Amount,
		})
	}
	return snapshots
}

func invoicePaymentsCacheKey(accountId string, invoiceId int) string {
	return fmt.Sprintf("invoice_payments:%s:%d", accountId, invoiceId)
}

// GetInvoicePayments returns the payment summaries for one invoice, serving
// the redis cache when warm and falling back to the ledger.
func GetInvoicePayments(ctx context.Context, invoiceId int) (PaymentSnapshots, error) {
	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId == "" {
		return nil, errors.New("account id is required")
	}

	cacheKey := invoicePaymentsCacheKey(accountId, invoiceId)
	var cached PaymentSnapshots
	found, err := config.GetRedisObject(cacheKey, &cached)
	if err != nil {
		config.LogError(config.GetLogger(), "models", "GetInvoicePayments", "redis read failed", cacheKey, err)
	} else if found {
		return cached, nil
	}

	db := config.GetDB()
	var payments []*Payment
	if err := db.WithContext(ctx).
		Where("account_id = ? AND invoice_id = ?", accountId, invoiceId).
		Order("payment_date, id").
		Find(&payments).Error; err != nil {
		return nil, err
	}

	snapshots := buildPaymentSnapshots(payments)
	if err := config.SetRedisObject(cacheKey, snapshots, 10*time.Minute); err != nil {
		config.LogError(config.GetLogger(), "models", "GetInvoicePayments", "redis write failed", cacheKey, err)
	}
	return snapshots, nil
}
