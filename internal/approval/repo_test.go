// internal/approval/repo_test.go
package approval

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notify-engine/internal/models"
)

func newRedisRepo(t *testing.T) *RedisPreviewRepo {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisPreviewRepo(client)
}

func TestRedisPreviewRepoRoundTrip(t *testing.T) {
	repo := newRedisRepo(t)
	ctx := context.Background()

	entry := models.PreviewEntry{
		Notification: models.ScheduledNotification{
			ID:        "ntf_abc",
			KindID:    "reminder_24h",
			TriggerAt: time.Date(2026, 8, 27, 15, 0, 0, 0, time.UTC),
			Status:    models.StatusPendingApproval,
		},
		RenderedContent: "Hi Jane",
	}
	require.NoError(t, repo.Save(ctx, entry))

	got, ok, err := repo.Get(ctx, "ntf_abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry.RenderedContent, got.RenderedContent)
	assert.True(t, entry.Notification.TriggerAt.Equal(got.Notification.TriggerAt))

	require.NoError(t, repo.Delete(ctx, "ntf_abc"))
	_, ok, err = repo.Get(ctx, "ntf_abc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisPreviewRepoListSortsByTrigger(t *testing.T) {
	repo := newRedisRepo(t)
	ctx := context.Background()

	for i, id := range []string{"ntf_c", "ntf_a", "ntf_b"} {
		require.NoError(t, repo.Save(ctx, models.PreviewEntry{
			Notification: models.ScheduledNotification{
				ID:        id,
				TriggerAt: time.Date(2026, 8, 27, 15, 3-i, 0, 0, time.UTC),
			},
		}))
	}

	entries, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "ntf_b", entries[0].Notification.ID)
	assert.Equal(t, "ntf_a", entries[1].Notification.ID)
	assert.Equal(t, "ntf_c", entries[2].Notification.ID)
}
