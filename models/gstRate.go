package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/billbookhq/billbook_backend/config"
	"github.com/billbookhq/billbook_backend/utils"
)

// GstRate is a named flat tax percentage. Invoice items reference it weakly
// and snapshot the rate at save time, so editing a rate never retroactively
// changes past invoices.
type GstRate struct {
	ID        int             `gorm:"primary_key" json:"id"`
	AccountId string          `gorm:"index;not null" json:"account_id" binding:"required"`
	Name      string          `gorm:"size:255;not null" json:"name" binding:"required"`
	Rate      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"rate"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewGstRate struct {
	Name string          `json:"name" binding:"required" validate:"required"`
	Rate decimal.Decimal `json:"rate"`
}

func CreateGstRate(ctx context.Context, input *NewGstRate) (*GstRate, error) {
	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId == "" {
		return nil, errors.New("account id is required")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if input.Rate.IsNegative() {
		return nil, &ValidationError{Err: ErrInvalidAmount, Details: "tax rate cannot be negative"}
	}
	if err := utils.ValidateUnique[GstRate](ctx, accountId, "name", input.Name, 0); err != nil {
		return nil, err
	}

	gstRate := GstRate{
		AccountId: accountId,
		Name:      input.Name,
		Rate:      input.Rate,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&gstRate).Error; err != nil {
		return nil, err
	}
	return &gstRate, nil
}

func GetGstRate(ctx context.Context, id int) (*GstRate, error) {
	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId == "" {
		return nil, errors.New("account id is required")
	}
	return utils.FetchModel[GstRate](ctx, accountId, id)
}

func GetGstRates(ctx context.Context) ([]*GstRate, error) {
	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId == "" {
		return nil, errors.New("account id is required")
	}
	return utils.FetchAllModels[GstRate](ctx, accountId)
}
