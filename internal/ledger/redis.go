// internal/ledger/redis.go
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	stderrors "notify-engine/internal/common/errors"
	"notify-engine/internal/catalog"
	"notify-engine/internal/models"
)

const keyPrefix = "notify:ledger:"

// RedisLedger stores one list of entries per (recipient, kind, referenceDate)
// key. Retention is enforced with a key TTL set at record time.
type RedisLedger struct {
	client    *redis.Client
	catalog   *catalog.Catalog
	retention time.Duration
}

func NewRedisLedger(client *redis.Client, cat *catalog.Catalog, retention time.Duration) *RedisLedger {
	return &RedisLedger{client: client, catalog: cat, retention: retention}
}

func entryKey(recipientKey, kindID, referenceDate string) string {
	return fmt.Sprintf("%s%s:%s:%s", keyPrefix, recipientKey, kindID, referenceDate)
}

func (l *RedisLedger) canonical(kindID string) string {
	if c, ok := l.catalog.Canonicalize(kindID); ok {
		return c
	}
	return kindID
}

func (l *RedisLedger) WasDelivered(ctx context.Context, q Query) (bool, error) {
	q.KindID = l.canonical(q.KindID)

	if q.ReferenceDate != "" {
		return l.scanKey(ctx, entryKey(q.RecipientKey, q.KindID, q.ReferenceDate), q)
	}

	// No reference date supplied: the fact may live under any date key.
	pattern := fmt.Sprintf("%s%s:%s:*", keyPrefix, q.RecipientKey, q.KindID)
	var cursor uint64
	for {
		keys, next, err := l.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return false, stderrors.NewLedgerUnavailableError(err)
		}
		for _, key := range keys {
			found, err := l.scanKey(ctx, key, q)
			if err != nil {
				return false, err
			}
			if found {
				return true, nil
			}
		}
		cursor = next
		if cursor == 0 {
			return false, nil
		}
	}
}

func (l *RedisLedger) scanKey(ctx context.Context, key string, q Query) (bool, error) {
	raws, err := l.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, stderrors.NewLedgerUnavailableError(err)
	}
	for _, raw := range raws {
		var e models.DeduplicationEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		if matches(q, e) {
			return true, nil
		}
	}
	return false, nil
}

func (l *RedisLedger) Record(ctx context.Context, entry models.DeduplicationEntry) error {
	entry.KindID = l.canonical(entry.KindID)
	if entry.LoggedAt.IsZero() {
		entry.LoggedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	key := entryKey(entry.RecipientKey, entry.KindID, entry.ReferenceDate)
	pipe := l.client.TxPipeline()
	pipe.RPush(ctx, key, raw)
	if l.retention > 0 {
		pipe.Expire(ctx, key, l.retention)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return stderrors.NewLedgerUnavailableError(err)
	}
	return nil
}
