package utils

import (
	"context"
	"errors"
	"reflect"

	"github.com/billbookhq/billbook_backend/config"
)

/* DB fetching */

// fetch model from db
// (ctx's account_id is used in query's WHERE, may return RecordNotFound)
func FetchModel[T any](ctx context.Context, accountId string, id int, associations ...string) (*T, error) {

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("account_id = ?", accountId)
	// preloading
	for _, field := range associations {
		dbCtx = dbCtx.Preload(field)
	}
	var result T
	err := dbCtx.First(&result, id).Error
	if err != nil {
		return nil, ErrorRecordNotFound
	}
	return &result, nil
}

// fetch all models from db
// (ctx's account_id is used in query's WHERE)
func FetchAllModels[T any](ctx context.Context, accountId string, associations ...string) ([]*T, error) {

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("account_id = ?", accountId)
	// preloading
	for _, field := range associations {
		dbCtx = dbCtx.Preload(field)
	}
	var results []*T
	err := dbCtx.Find(&results).Error
	if err != nil {
		return nil, ErrorRecordNotFound
	}
	return results, nil
}

// check if id exists, using account_id in WHERE, returns RecordNotFound error
func ValidateResourceId[T any](ctx context.Context, accountId string, id interface{}) error {

	count, err := ResourceCountWhere[T](ctx, accountId, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}

	return nil
}

func ValidateUnique[T any](ctx context.Context, accountId string, column string, value interface{}, exceptId interface{}) error {
	var count int64
	var err error
	if reflect.ValueOf(exceptId).IsZero() {
		count, err = ResourceCountWhere[T](ctx, accountId, column+" = ?", value)
	} else {
		count, err = ResourceCountWhere[T](ctx, accountId, column+" = ? AND NOT id = ?", value, exceptId)
	}

	if err != nil {
		return err
	}
	if count > 0 {
		return errors.New("duplicate " + column)
	}
	return nil
}

// count records, using WHERE account_id = ? AND $condition
func ResourceCountWhere[T any](ctx context.Context, accountId string, condition string, value ...interface{}) (int64, error) {
	var model T

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&model)
	var count int64
	err := dbCtx.Where("account_id = ?", accountId).Where(condition, value...).Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func GetTypeName[T any]() string {
	var model T
	t := reflect.TypeOf(model)
	if t == nil {
		return ""
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
