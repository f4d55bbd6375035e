// internal/settings/settings_test.go
package settings

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notify-engine/internal/catalog"
	stderrors "notify-engine/internal/common/errors"
	"notify-engine/internal/common/logger"
	"notify-engine/internal/models"
)

func newRedisSettings(t *testing.T, ttl time.Duration) (*RedisSettings, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisSettings(client, ttl, logger.NewTestLogger(t)), mr
}

func TestSnapshotDefaults(t *testing.T) {
	svc, _ := newRedisSettings(t, 0)
	snap, err := svc.Snapshot(context.Background())
	require.NoError(t, err)

	assert.True(t, snap.GlobalEnabled)
	assert.False(t, snap.PreviewMode)
	assert.True(t, snap.KindActive("reminder_24h"), "unset kinds default to active")
	assert.True(t, snap.ServiceAllows("svc_hair", "reminder_24h"), "unmapped pairs default to enabled")
	_, ok := snap.Schedule("reminder_24h")
	assert.False(t, ok)
}

func TestTogglesRoundTrip(t *testing.T) {
	svc, _ := newRedisSettings(t, 0)
	ctx := context.Background()

	require.NoError(t, svc.SetGlobalEnabled(ctx, false))
	require.NoError(t, svc.SetPreviewMode(ctx, true))
	require.NoError(t, svc.SetKindActive(ctx, "reminder_24h", false))
	require.NoError(t, svc.SetServiceMapping(ctx, "svc_hair", "feedback_request", false))
	require.NoError(t, svc.UpsertSchedule(ctx, models.KindSchedule{
		KindID: "reminder_24h", Enabled: true, SendTime: "16:30", Timezone: "Asia/Beirut",
	}))

	snap, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, snap.GlobalEnabled)
	assert.True(t, snap.PreviewMode)
	assert.False(t, snap.KindActive("reminder_24h"))
	assert.True(t, snap.KindActive("feedback_request"))
	assert.False(t, snap.ServiceAllows("svc_hair", "feedback_request"))
	assert.True(t, snap.ServiceAllows("svc_hair", "reminder_24h"))

	sched, ok := snap.Schedule("reminder_24h")
	require.True(t, ok)
	assert.Equal(t, "16:30", sched.SendTime)
}

func TestWriteInvalidatesCachedSnapshot(t *testing.T) {
	svc, _ := newRedisSettings(t, time.Minute)
	ctx := context.Background()

	snap, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, snap.GlobalEnabled)

	// Within the TTL but after a write, the change must be visible.
	require.NoError(t, svc.SetGlobalEnabled(ctx, false))
	snap, err = svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, snap.GlobalEnabled)
}

func TestStaleSnapshotServedWhenRedisDown(t *testing.T) {
	svc, mr := newRedisSettings(t, time.Nanosecond)
	ctx := context.Background()

	require.NoError(t, svc.SetGlobalEnabled(ctx, false))
	_, err := svc.Snapshot(ctx)
	require.NoError(t, err)

	mr.Close()
	time.Sleep(time.Millisecond)

	snap, err := svc.Snapshot(ctx)
	require.NoError(t, err, "a redis blip must not take gating down")
	assert.False(t, snap.GlobalEnabled)
}

func TestSeedDefaultsDoesNotOverrideOperatorChanges(t *testing.T) {
	svc, _ := newRedisSettings(t, 0)
	ctx := context.Background()

	require.NoError(t, svc.SetGlobalEnabled(ctx, false))
	require.NoError(t, svc.SeedDefaults(ctx, true, true))

	snap, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, snap.GlobalEnabled, "seed must not flip an operator decision")
	assert.True(t, snap.PreviewMode, "untouched fields take the seed value")
}

func TestMemorySettingsSnapshotIsIsolated(t *testing.T) {
	svc := NewMemorySettings()
	ctx := context.Background()

	snap, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.SetKindActive(ctx, "reminder_24h", false))

	assert.True(t, snap.KindActive("reminder_24h"), "an existing snapshot never mutates")
	snap, _ = svc.Snapshot(ctx)
	assert.False(t, snap.KindActive("reminder_24h"))
}

func TestValidateSchedule(t *testing.T) {
	cat := catalog.New("Asia/Beirut")

	tests := []struct {
		name  string
		sched models.KindSchedule
		code  stderrors.ErrorCode
	}{
		{"valid", models.KindSchedule{KindID: "reminder_24h", SendTime: "15:00", Timezone: "Asia/Beirut"}, ""},
		{"valid via alias", models.KindSchedule{KindID: "appointment_reminder", SendTime: "08:05", Timezone: "Europe/Paris"}, ""},
		{"unknown kind", models.KindSchedule{KindID: "nope", SendTime: "15:00", Timezone: "Asia/Beirut"}, stderrors.ErrCodeUnknownKind},
		{"campaign-only kind", models.KindSchedule{KindID: "campaign_promo", SendTime: "15:00", Timezone: "Asia/Beirut"}, stderrors.ErrCodeScheduleInvalid},
		{"bad hour", models.KindSchedule{KindID: "reminder_24h", SendTime: "25:00", Timezone: "Asia/Beirut"}, stderrors.ErrCodeScheduleInvalid},
		{"bad minute", models.KindSchedule{KindID: "reminder_24h", SendTime: "15:60", Timezone: "Asia/Beirut"}, stderrors.ErrCodeScheduleInvalid},
		{"twelve hour format", models.KindSchedule{KindID: "reminder_24h", SendTime: "3:00 PM", Timezone: "Asia/Beirut"}, stderrors.ErrCodeScheduleInvalid},
		{"bogus timezone", models.KindSchedule{KindID: "reminder_24h", SendTime: "15:00", Timezone: "Mars/Olympus"}, stderrors.ErrCodeScheduleInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSchedule(cat, tt.sched)
			if tt.code == "" {
				assert.NoError(t, err)
			} else {
				assert.True(t, stderrors.HasCode(err, tt.code))
			}
		})
	}
}
