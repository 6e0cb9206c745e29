package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// FireWatermark de-duplicates scanner firings. Claim returns true when the
// caller may fire for key and records the firing for window. Release undoes
// a claim whose firing did not go through.
type FireWatermark interface {
	Claim(ctx context.Context, key string, window time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// WatermarkKey builds the key for one (tenant, trigger, resource) firing.
func WatermarkKey(tenantID, trigger, resourceID string) string {
	return fmt.Sprintf("complyhub:wm:%s:%s:%s", tenantID, trigger, resourceID)
}

// RedisWatermark stores watermarks as expiring keys (SET NX PX).
type RedisWatermark struct {
	client redis.UniversalClient
}

func NewRedisWatermark(client redis.UniversalClient) *RedisWatermark {
	return &RedisWatermark{client: client}
}

func (w *RedisWatermark) Claim(ctx context.Context, key string, window time.Duration) (bool, error) {
	ok, err := w.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), window).Result()
	if err != nil {
		return false, fmt.Errorf("redis watermark: %w", err)
	}
	return ok, nil
}

func (w *RedisWatermark) Release(ctx context.Context, key string) error {
	if err := w.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis watermark: %w", err)
	}
	return nil
}

type watermarkStore interface {
	ClaimWatermark(ctx context.Context, key string, now time.Time, window time.Duration) (bool, error)
	ReleaseWatermark(ctx context.Context, key string) error
}

// DBWatermark keeps watermarks in the fire_watermarks table.
type DBWatermark struct {
	store watermarkStore
	now   func() time.Time
}

func NewDBWatermark(st watermarkStore) *DBWatermark {
	return &DBWatermark{store: st, now: time.Now}
}

func (w *DBWatermark) Claim(ctx context.Context, key string, window time.Duration) (bool, error) {
	return w.store.ClaimWatermark(ctx, key, w.now().UTC(), window)
}

func (w *DBWatermark) Release(ctx context.Context, key string) error {
	return w.store.ReleaseWatermark(ctx, key)
}
