// internal/settings/redis.go

package settings

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	stderrors "notify-engine/internal/common/errors"
	"notify-engine/internal/common/logger"
	"notify-engine/internal/models"
)

const settingsKey = "notify:settings"

const (
	fieldGlobalEnabled = "global_enabled"
	fieldPreviewMode   = "preview_mode"
	kindFieldPrefix    = "kind:"
	svcFieldPrefix     = "svc:"
	schedFieldPrefix   = "sched:"
)

// RedisSettings stores the gating configuration in a single redis hash and
// serves reads from a TTL-cached snapshot. Writers call Invalidate so the
// next read observes the change immediately instead of waiting out the TTL.
type RedisSettings struct {
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger

	mu       sync.RWMutex
	cached   Snapshot
	cachedAt time.Time
	haveOne  bool
}

// NewRedisSettings builds the service. ttl bounds snapshot staleness; a
// zero ttl disables caching entirely.
func NewRedisSettings(client *redis.Client, ttl time.Duration, log logger.Logger) *RedisSettings {
	return &RedisSettings{client: client, ttl: ttl, logger: log}
}

// Snapshot returns the cached view when it is fresh, otherwise reloads the
// hash. When the reload fails but a previous snapshot exists, the stale
// snapshot is returned so a redis blip does not take gating down.
func (s *RedisSettings) Snapshot(ctx context.Context) (Snapshot, error) {
	s.mu.RLock()
	if s.haveOne && s.ttl > 0 && time.Since(s.cachedAt) < s.ttl {
		snap := s.cached
		s.mu.RUnlock()
		return snap, nil
	}
	s.mu.RUnlock()

	snap, err := s.load(ctx)
	if err != nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.haveOne {
			s.logger.Warn("settings reload failed, serving stale snapshot", map[string]interface{}{
				"error": err.Error(),
				"age":   time.Since(s.cachedAt).String(),
			})
			return s.cached, nil
		}
		return Snapshot{}, stderrors.NewSettingsUnavailableError(err)
	}

	s.mu.Lock()
	s.cached = snap
	s.cachedAt = time.Now()
	s.haveOne = true
	s.mu.Unlock()
	return snap, nil
}

func (s *RedisSettings) load(ctx context.Context) (Snapshot, error) {
	fields, err := s.client.HGetAll(ctx, settingsKey).Result()
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		GlobalEnabled: true,
		kindActive:    make(map[string]bool),
		serviceMap:    make(map[string]bool),
		schedules:     make(map[string]models.KindSchedule),
	}
	for field, value := range fields {
		switch {
		case field == fieldGlobalEnabled:
			snap.GlobalEnabled = value == "1"
		case field == fieldPreviewMode:
			snap.PreviewMode = value == "1"
		case strings.HasPrefix(field, kindFieldPrefix):
			snap.kindActive[strings.TrimPrefix(field, kindFieldPrefix)] = value == "1"
		case strings.HasPrefix(field, svcFieldPrefix):
			snap.serviceMap[strings.TrimPrefix(field, svcFieldPrefix)] = value == "1"
		case strings.HasPrefix(field, schedFieldPrefix):
			var sched models.KindSchedule
			if err := json.Unmarshal([]byte(value), &sched); err != nil {
				s.logger.Warn("dropping malformed schedule override", map[string]interface{}{
					"field": field,
					"error": err.Error(),
				})
				continue
			}
			snap.schedules[strings.TrimPrefix(field, schedFieldPrefix)] = sched
		}
	}
	return snap, nil
}

func (s *RedisSettings) setField(ctx context.Context, field, value string) error {
	if err := s.client.HSet(ctx, settingsKey, field, value).Err(); err != nil {
		return stderrors.NewSettingsUnavailableError(err)
	}
	s.Invalidate()
	return nil
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func (s *RedisSettings) SetGlobalEnabled(ctx context.Context, enabled bool) error {
	return s.setField(ctx, fieldGlobalEnabled, boolField(enabled))
}

func (s *RedisSettings) SetPreviewMode(ctx context.Context, enabled bool) error {
	return s.setField(ctx, fieldPreviewMode, boolField(enabled))
}

func (s *RedisSettings) SetKindActive(ctx context.Context, kindID string, active bool) error {
	return s.setField(ctx, kindFieldPrefix+kindID, boolField(active))
}

func (s *RedisSettings) SetServiceMapping(ctx context.Context, serviceID, kindID string, enabled bool) error {
	return s.setField(ctx, svcFieldPrefix+serviceKey(serviceID, kindID), boolField(enabled))
}

func (s *RedisSettings) UpsertSchedule(ctx context.Context, sched models.KindSchedule) error {
	payload, err := json.Marshal(sched)
	if err != nil {
		return stderrors.NewSettingsUnavailableError(err)
	}
	return s.setField(ctx, schedFieldPrefix+sched.KindID, string(payload))
}

// SeedDefaults writes the boot defaults for fields no operator has touched
// yet. Existing values always win, so toggles survive restarts.
func (s *RedisSettings) SeedDefaults(ctx context.Context, globalEnabled, previewMode bool) error {
	if err := s.client.HSetNX(ctx, settingsKey, fieldGlobalEnabled, boolField(globalEnabled)).Err(); err != nil {
		return stderrors.NewSettingsUnavailableError(err)
	}
	if err := s.client.HSetNX(ctx, settingsKey, fieldPreviewMode, boolField(previewMode)).Err(); err != nil {
		return stderrors.NewSettingsUnavailableError(err)
	}
	s.Invalidate()
	return nil
}

// Invalidate drops the cached snapshot.
func (s *RedisSettings) Invalidate() {
	s.mu.Lock()
	s.haveOne = false
	s.mu.Unlock()
}
