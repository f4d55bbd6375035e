// internal/ledger/redis_test.go
package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notify-engine/internal/catalog"
	"notify-engine/internal/models"
)

func newTestLedger(t *testing.T) (*RedisLedger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLedger(client, catalog.New("Asia/Beirut"), 90*24*time.Hour), mr
}

func entry(recipient, kind, refDate string) models.DeduplicationEntry {
	return models.DeduplicationEntry{
		RecipientKey:  recipient,
		KindID:        kind,
		ReferenceDate: refDate,
		LoggedAt:      time.Now().UTC(),
	}
}

func TestRecordThenWasDelivered(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, entry("+96170123456", "reminder_24h", "2026-08-27")))

	found, err := l.WasDelivered(ctx, Query{
		RecipientKey:  "+96170123456",
		KindID:        "reminder_24h",
		ReferenceDate: "2026-08-27",
	})
	require.NoError(t, err)
	assert.True(t, found)
}

func TestTupleFieldsMustMatch(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Record(ctx, entry("+96170123456", "reminder_24h", "2026-08-27")))

	tests := []struct {
		name  string
		query Query
		found bool
	}{
		{"same tuple", Query{RecipientKey: "+96170123456", KindID: "reminder_24h", ReferenceDate: "2026-08-27"}, true},
		{"different recipient", Query{RecipientKey: "+96170999999", KindID: "reminder_24h", ReferenceDate: "2026-08-27"}, false},
		{"different kind", Query{RecipientKey: "+96170123456", KindID: "feedback_request", ReferenceDate: "2026-08-27"}, false},
		{"different date", Query{RecipientKey: "+96170123456", KindID: "reminder_24h", ReferenceDate: "2026-08-28"}, false},
		{"no date matches any", Query{RecipientKey: "+96170123456", KindID: "reminder_24h"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found, err := l.WasDelivered(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.found, found)
		})
	}
}

func TestAliasRecordedAndQueriedAsCanonicalKind(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	// Recorded under a legacy alias, queried under another.
	require.NoError(t, l.Record(ctx, entry("+96170123456", "appointment_reminder", "2026-08-27")))

	found, err := l.WasDelivered(ctx, Query{
		RecipientKey:  "+96170123456",
		KindID:        "reminder24",
		ReferenceDate: "2026-08-27",
	})
	require.NoError(t, err)
	assert.True(t, found)
}

func TestOptionalIdentifiersMatchOnlyWhenSupplied(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	e := entry("+96170123456", "campaign_promo", "2026-08-01")
	e.CampaignID = "cmp_1"
	require.NoError(t, l.Record(ctx, e))

	// Query without campaign id still matches.
	found, err := l.WasDelivered(ctx, Query{RecipientKey: "+96170123456", KindID: "campaign_promo"})
	require.NoError(t, err)
	assert.True(t, found)

	// Query pinned to a different campaign does not.
	found, err = l.WasDelivered(ctx, Query{RecipientKey: "+96170123456", KindID: "campaign_promo", CampaignID: "cmp_2"})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRetentionSetsKeyTTL(t *testing.T) {
	l, mr := newTestLedger(t)
	require.NoError(t, l.Record(context.Background(), entry("+96170123456", "reminder_24h", "2026-08-27")))

	key := "notify:ledger:+96170123456:reminder_24h:2026-08-27"
	assert.Greater(t, mr.TTL(key), time.Duration(0))

	// Past the retention window the fact is gone.
	mr.FastForward(91 * 24 * time.Hour)
	found, err := l.WasDelivered(context.Background(), Query{
		RecipientKey:  "+96170123456",
		KindID:        "reminder_24h",
		ReferenceDate: "2026-08-27",
	})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryLedgerPrune(t *testing.T) {
	m := NewMemoryLedger(catalog.New("Asia/Beirut"))
	ctx := context.Background()

	old := entry("+96170123456", "reminder_24h", "2026-05-01")
	old.LoggedAt = time.Now().Add(-100 * 24 * time.Hour)
	require.NoError(t, m.Record(ctx, old))
	require.NoError(t, m.Record(ctx, entry("+96170123456", "reminder_24h", "2026-08-27")))

	removed := m.Prune(90 * 24 * time.Hour)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, m.Len())

	found, err := m.WasDelivered(ctx, Query{RecipientKey: "+96170123456", KindID: "reminder_24h", ReferenceDate: "2026-05-01"})
	require.NoError(t, err)
	assert.False(t, found)
}
