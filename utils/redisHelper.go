package utils

import (
	"context"
	"strings"
	"sync"

	"github.com/billbookhq/billbook_backend/config"
)

var mutex sync.Mutex

// GetSequence hands out the next document sequence number for one account.
// The counter lives in Redis; on a cold cache it is seeded from max(sequence_no)
// in the table for T, then bumped until the number is actually unused.
func GetSequence[T any](ctx context.Context, accountId string) (int64, error) {
	var model T
	mutex.Lock()
	defer mutex.Unlock()
	cacheKey := accountId + "-" + strings.ToLower(GetTypeName[T]()) + "_seq"
	var seqNo int64
	var err error
	db := config.GetDB()

	for {
		seqNo, err = config.GetRedisCounter(ctx, cacheKey)
		if err != nil {
			return 0, err
		}
		// if not found in redis (or redis absent), seed from db
		if seqNo <= 1 {
			var dbSeq *int64
			if err := db.WithContext(ctx).Model(&model).Select("max(sequence_no)").
				Where("account_id = ?", accountId).
				Scan(&dbSeq).Error; err != nil {
				return 0, err
			}
			// in case db has no records yet
			if dbSeq == nil {
				seqNo = 0
			} else {
				seqNo = *dbSeq
			}
			seqNo++
			if err := config.SetRedisObject(cacheKey, &seqNo, 0); err != nil {
				return 0, err
			}
		}
		// check if sequence number already exists in db
		err = ValidateUnique[T](ctx, accountId, "sequence_no", seqNo, 0)
		if err == nil {
			return seqNo, nil
		}
	}
}
