// internal/trigger/watermark.go

package trigger

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	stderrors "notify-engine/internal/common/errors"
)

// WatermarkStore remembers the last local calendar date each kind's daily
// trigger completed, so a restart on the same day does not re-run it.
type WatermarkStore interface {
	LastRun(ctx context.Context, kindID string) (string, error)
	SetLastRun(ctx context.Context, kindID, localDate string) error
}

const watermarkKeyPrefix = "notify:watermark:"

// RedisWatermarks persists watermarks under notify:watermark:<kind>.
type RedisWatermarks struct {
	client *redis.Client
}

func NewRedisWatermarks(client *redis.Client) *RedisWatermarks {
	return &RedisWatermarks{client: client}
}

func (w *RedisWatermarks) LastRun(ctx context.Context, kindID string) (string, error) {
	val, err := w.client.Get(ctx, watermarkKeyPrefix+kindID).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", stderrors.NewStoreUnavailableError(err)
	}
	return val, nil
}

func (w *RedisWatermarks) SetLastRun(ctx context.Context, kindID, localDate string) error {
	if err := w.client.Set(ctx, watermarkKeyPrefix+kindID, localDate, 0).Err(); err != nil {
		return stderrors.NewStoreUnavailableError(err)
	}
	return nil
}

// MemoryWatermarks is the in-process WatermarkStore used in tests.
type MemoryWatermarks struct {
	mu   sync.RWMutex
	last map[string]string
}

func NewMemoryWatermarks() *MemoryWatermarks {
	return &MemoryWatermarks{last: make(map[string]string)}
}

func (w *MemoryWatermarks) LastRun(ctx context.Context, kindID string) (string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.last[kindID], nil
}

func (w *MemoryWatermarks) SetLastRun(ctx context.Context, kindID, localDate string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last[kindID] = localDate
	return nil
}
