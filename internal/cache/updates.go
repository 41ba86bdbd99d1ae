package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	UpdateKeyPrefix = "tg:update:%d"
	UpdateTTL       = 24 * time.Hour
)

func UpdateKey(updateID int) string {
	return fmt.Sprintf(UpdateKeyPrefix, updateID)
}

// MarkUpdateSeen records a webhook update id. It returns false when the id
// was already recorded, meaning the update is a redelivery.
// Without a client every update counts as new.
func MarkUpdateSeen(ctx context.Context, rdb *redis.Client, updateID int) (bool, error) {
	if rdb == nil {
		return true, nil
	}
	return rdb.SetNX(ctx, UpdateKey(updateID), 1, UpdateTTL).Result()
}

// ForgetUpdate removes a recorded update id so a redelivery is processed again.
func ForgetUpdate(ctx context.Context, rdb *redis.Client, updateID int) error {
	if rdb == nil {
		return nil
	}
	return rdb.Del(ctx, UpdateKey(updateID)).Err()
}
