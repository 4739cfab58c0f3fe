package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/billbookhq/billbook_backend/config"
	"github.com/billbookhq/billbook_backend/utils"
)

// Product is the optional catalog entry behind an invoice item. Items copy
// its description/price/rate at entry time; the reference itself stays weak.
type Product struct {
	ID          int             `gorm:"primary_key" json:"id"`
	AccountId   string          `gorm:"index;not null" json:"account_id" binding:"required"`
	Name        string          `gorm:"size:255;not null" json:"name" binding:"required"`
	Description string          `gorm:"size:255;default:null" json:"description"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	GstRateId   int             `gorm:"default:null" json:"gst_rate_id"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Name        string          `json:"name" binding:"required" validate:"required"`
	Description string          `json:"description"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	GstRateId   int             `json:"gst_rate_id"`
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId == "" {
		return nil, errors.New("account id is required")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if input.UnitPrice.IsNegative() {
		return nil, &ValidationError{Err: ErrNegativeQuantityOrPrice}
	}
	if input.GstRateId > 0 {
		if err := utils.ValidateResourceId[GstRate](ctx, accountId, input.GstRateId); err != nil {
			return nil, errors.New("gst rate not found")
		}
	}

	product := Product{
		AccountId:   accountId,
		Name:        input.Name,
		Description: input.Description,
		UnitPrice:   input.UnitPrice,
		GstRateId:   input.GstRateId,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func GetProduct(ctx context.Context, id int) (*Product, error) {
	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId == "" {
		return nil, errors.New("account id is required")
	}
	return utils.FetchModel[Product](ctx, accountId, id)
}

func GetProducts(ctx context.Context) ([]*Product, error) {
	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId == "" {
		return nil, errors.New("account id is required")
	}
	return utils.FetchAllModels[Product](ctx, accountId)
}
