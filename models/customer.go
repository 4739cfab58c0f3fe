package models

import (
	"context"
	"errors"
	"time"

	"github.com/billbookhq/billbook_backend/config"
	"github.com/billbookhq/billbook_backend/utils"
)

// Customer and Party are the two billed-to targets. An invoice references
// exactly one of them, never both.

type Customer struct {
	ID        int       `gorm:"primary_key" json:"id"`
	AccountId string    `gorm:"index;not null" json:"account_id" binding:"required"`
	Name      string    `gorm:"size:255;not null" json:"name" binding:"required"`
	Email     string    `gorm:"size:255;default:null" json:"email"`
	Phone     string    `gorm:"size:100;default:null" json:"phone"`
	Address   string    `gorm:"type:text;default:null" json:"address"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Party struct {
	ID        int       `gorm:"primary_key" json:"id"`
	AccountId string    `gorm:"index;not null" json:"account_id" binding:"required"`
	Name      string    `gorm:"size:255;not null" json:"name" binding:"required"`
	Email     string    `gorm:"size:255;default:null" json:"email"`
	Phone     string    `gorm:"size:100;default:null" json:"phone"`
	Address   string    `gorm:"type:text;default:null" json:"address"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewContact struct {
	Name    string `json:"name" binding:"required" validate:"required"`
	Email   string `json:"email" validate:"omitempty,email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

func CreateCustomer(ctx context.Context, input *NewContact) (*Customer, error) {
	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId == "" {
		return nil, errors.New("account id is required")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	customer := Customer{
		AccountId: accountId,
		Name:      input.Name,
		Email:     input.Email,
		Phone:     input.Phone,
		Address:   input.Address,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

func CreateParty(ctx context.Context, input *NewContact) (*Party, error) {
	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId == "" {
		return nil, errors.New("account id is required")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	party := Party{
		AccountId: accountId,
		Name:      input.Name,
		Email:     input.Email,
		Phone:     input.Phone,
		Address:   input.Address,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&party).Error; err != nil {
		return nil, err
	}
	return &party, nil
}

func GetCustomer(ctx context.Context, id int) (*Customer, error) {
	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId == "" {
		return nil, errors.New("account id is required")
	}
	return utils.FetchModel[Customer](ctx, accountId, id)
}

func GetParty(ctx context.Context, id int) (*Party, error) {
	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId == "" {
		return nil, errors.New("account id is required")
	}
	return utils.FetchModel[Party](ctx, accountId, id)
}
