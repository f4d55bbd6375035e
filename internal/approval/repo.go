// internal/approval/repo.go

// Package approval holds notifications intercepted by preview mode until an
// operator approves, rejects, or edits them.
package approval

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"

	stderrors "notify-engine/internal/common/errors"
	"notify-engine/internal/models"
)

// PreviewRepo stores pending preview entries keyed by notification id.
type PreviewRepo interface {
	Save(ctx context.Context, entry models.PreviewEntry) error
	Get(ctx context.Context, id string) (models.PreviewEntry, bool, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]models.PreviewEntry, error)
}

const previewKeyPrefix = "notify:preview:"

// RedisPreviewRepo persists entries as JSON values under notify:preview:<id>.
type RedisPreviewRepo struct {
	client *redis.Client
}

func NewRedisPreviewRepo(client *redis.Client) *RedisPreviewRepo {
	return &RedisPreviewRepo{client: client}
}

func (r *RedisPreviewRepo) Save(ctx context.Context, entry models.PreviewEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return stderrors.NewStoreUnavailableError(err)
	}
	if err := r.client.Set(ctx, previewKeyPrefix+entry.Notification.ID, payload, 0).Err(); err != nil {
		return stderrors.NewStoreUnavailableError(err)
	}
	return nil
}

func (r *RedisPreviewRepo) Get(ctx context.Context, id string) (models.PreviewEntry, bool, error) {
	payload, err := r.client.Get(ctx, previewKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return models.PreviewEntry{}, false, nil
	}
	if err != nil {
		return models.PreviewEntry{}, false, stderrors.NewStoreUnavailableError(err)
	}
	var entry models.PreviewEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return models.PreviewEntry{}, false, stderrors.NewStoreUnavailableError(err)
	}
	return entry, true, nil
}

func (r *RedisPreviewRepo) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, previewKeyPrefix+id).Err(); err != nil {
		return stderrors.NewStoreUnavailableError(err)
	}
	return nil
}

func (r *RedisPreviewRepo) List(ctx context.Context) ([]models.PreviewEntry, error) {
	var entries []models.PreviewEntry
	iter := r.client.Scan(ctx, 0, previewKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		payload, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, stderrors.NewStoreUnavailableError(err)
		}
		var entry models.PreviewEntry
		if err := json.Unmarshal(payload, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := iter.Err(); err != nil {
		return nil, stderrors.NewStoreUnavailableError(err)
	}
	sortByTrigger(entries)
	return entries, nil
}

// MemoryPreviewRepo is the in-process PreviewRepo used in tests.
type MemoryPreviewRepo struct {
	mu      sync.RWMutex
	entries map[string]models.PreviewEntry
}

func NewMemoryPreviewRepo() *MemoryPreviewRepo {
	return &MemoryPreviewRepo{entries: make(map[string]models.PreviewEntry)}
}

func (m *MemoryPreviewRepo) Save(ctx context.Context, entry models.PreviewEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.Notification.ID] = entry
	return nil
}

func (m *MemoryPreviewRepo) Get(ctx context.Context, id string) (models.PreviewEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[id]
	return entry, ok, nil
}

func (m *MemoryPreviewRepo) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *MemoryPreviewRepo) List(ctx context.Context) ([]models.PreviewEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]models.PreviewEntry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	sortByTrigger(entries)
	return entries, nil
}

func sortByTrigger(entries []models.PreviewEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].Notification, entries[j].Notification
		if !a.TriggerAt.Equal(b.TriggerAt) {
			return a.TriggerAt.Before(b.TriggerAt)
		}
		return a.ID < b.ID
	})
}
