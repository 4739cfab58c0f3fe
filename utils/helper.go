package utils

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/billbookhq/billbook_backend/config"
)

var validate = validator.New()

// ValidateStruct runs validator/v10 tag validation on an input struct.
func ValidateStruct(input interface{}) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		return fmt.Errorf("validation failed: %v", ProcessValidationErrors(err))
	}
	return err
}

func ProcessValidationErrors(err error) map[string]string {

	validationErrors := err.(validator.ValidationErrors)

	errorResponse := make(map[string]string)

	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}

	return errorResponse
}

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

// Round2 rounds a money amount to the 2-decimal display/persistence
// convention. Intermediate arithmetic stays unrounded; only values that hit
// the database or a comparison go through here.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// EqualRound2 compares two amounts after rounding both to 2 decimals, so
// near-equal totals are not misclassified.
func EqualRound2(a, b decimal.Decimal) bool {
	return Round2(a).Equal(Round2(b))
}

func ParseDecimal(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, errors.New("empty decimal string")
	}

	dec, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, err
	}

	return dec, nil
}

// InvoiceLock serializes writers on one invoice. It holds either a Redis
// lock (multi-process deployments) or a process-local mutex when Redis is
// not configured. Either way the balance pre-check and the write it guards
// run under mutual exclusion.
type InvoiceLock struct {
	remote *redislock.Lock
	local  *sync.Mutex
}

var (
	localInvoiceLocksMu sync.Mutex
	localInvoiceLocks   = map[string]*sync.Mutex{}
)

func localInvoiceLock(key string) *sync.Mutex {
	localInvoiceLocksMu.Lock()
	defer localInvoiceLocksMu.Unlock()
	mu, ok := localInvoiceLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		localInvoiceLocks[key] = mu
	}
	return mu
}

// ObtainInvoiceLock serializes reconciliation passes for one invoice. The
// caller must Release the returned lock after the read-recompute-write
// sequence completes; the TTL only bounds a crashed holder.
func ObtainInvoiceLock(ctx context.Context, accountId string, invoiceId int, moduleName string, functionName string) (*InvoiceLock, error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	lockKey := fmt.Sprintf("invoice_reconcile:%s:%d", accountId, invoiceId)
	if locker == nil {
		// no Redis: mutual exclusion only holds within this process
		mu := localInvoiceLock(lockKey)
		mu.Lock()
		return &InvoiceLock{local: mu}, nil
	}
	lock, err := locker.Obtain(ctx, lockKey, 30*time.Second, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 20),
	})
	if err == redislock.ErrNotObtained {
		config.LogError(logger, moduleName, functionName, "Could not obtain invoice lock", lockKey, err)
		return nil, errors.New("could not obtain lock for invoice")
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "Error obtaining invoice lock", lockKey, err)
		return nil, err
	}
	return &InvoiceLock{remote: lock}, nil
}

// ReleaseLock releases a lock obtained by ObtainInvoiceLock.
func ReleaseLock(ctx context.Context, lock *InvoiceLock) {
	if lock == nil {
		return
	}
	if lock.remote != nil {
		_ = lock.remote.Release(ctx)
		return
	}
	if lock.local != nil {
		lock.local.Unlock()
	}
}
