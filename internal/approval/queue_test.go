// internal/approval/queue_test.go
package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notify-engine/internal/catalog"
	stderrors "notify-engine/internal/common/errors"
	"notify-engine/internal/common/logger"
	"notify-engine/internal/models"
	"notify-engine/internal/store"
)

func newTestQueue(t *testing.T) (*Queue, *MemoryPreviewRepo, *store.MemoryStore) {
	t.Helper()
	repo := NewMemoryPreviewRepo()
	st := store.NewMemoryStore()
	q := NewQueue(repo, st, catalog.New("Asia/Beirut"), logger.NewTestLogger(t))
	return q, repo, st
}

func pendingEntry(t *testing.T, st *store.MemoryStore, repo *MemoryPreviewRepo, recipient string, triggerAt time.Time) models.PreviewEntry {
	t.Helper()
	n := models.ScheduledNotification{
		ID:           models.NotificationID("reminder_24h", recipient, triggerAt),
		Recipient:    recipient,
		RecipientKey: recipient,
		KindID:       "reminder_24h",
		TriggerAt:    triggerAt,
		Params:       map[string]string{"name": "Jane", "date": "2026-08-27", "time": "10:00"},
		Language:     "en",
		Status:       models.StatusPendingApproval,
	}
	_, _, err := st.Upsert(context.Background(), n)
	require.NoError(t, err)

	entry := models.PreviewEntry{Notification: n, RenderedContent: "Hi Jane"}
	require.NoError(t, repo.Save(context.Background(), entry))
	return entry
}

func TestApproveWritesStoreStatusFirst(t *testing.T) {
	q, repo, st := newTestQueue(t)
	ctx := context.Background()
	entry := pendingEntry(t, st, repo, "+96170123456", time.Now().Add(time.Hour))

	approved, err := q.Approve(ctx, entry.Notification.ID)
	require.NoError(t, err)
	assert.NotNil(t, approved.ApprovedAt)

	stored, _, _ := st.Get(ctx, entry.Notification.ID)
	assert.Equal(t, models.StatusApproved, stored.Status)

	_, ok, _ := repo.Get(ctx, entry.Notification.ID)
	assert.False(t, ok, "resolved entries leave the queue")
}

func TestRejectIsTerminal(t *testing.T) {
	q, repo, st := newTestQueue(t)
	ctx := context.Background()
	entry := pendingEntry(t, st, repo, "+96170123456", time.Now().Add(time.Hour))

	rejected, err := q.Reject(ctx, entry.Notification.ID, "wrong audience")
	require.NoError(t, err)
	assert.Equal(t, "wrong audience", rejected.RejectionReason)

	stored, _, _ := st.Get(ctx, entry.Notification.ID)
	assert.Equal(t, models.StatusRejected, stored.Status)

	// A rejected notification cannot be approved afterwards.
	err = st.UpdateStatus(ctx, entry.Notification.ID, models.StatusApproved, "")
	assert.True(t, stderrors.HasCode(err, stderrors.ErrCodeInvalidTransition))
}

func TestApproveUnknownID(t *testing.T) {
	q, _, _ := newTestQueue(t)
	_, err := q.Approve(context.Background(), "ntf_missing")
	assert.True(t, stderrors.HasCode(err, stderrors.ErrCodeNotFound))
}

func TestEditReRendersAndStaysAdvisory(t *testing.T) {
	q, repo, st := newTestQueue(t)
	ctx := context.Background()
	entry := pendingEntry(t, st, repo, "+96170123456", time.Now().Add(time.Hour))

	// Drop a required param; validation must flag it but editing succeeds.
	edited, err := q.Edit(ctx, entry.Notification.ID, EditPatch{
		Params: map[string]string{"name": "Jane Doe"},
	})
	require.NoError(t, err)
	assert.True(t, edited.Edited)
	assert.Contains(t, edited.RenderedContent, "Jane Doe")
	assert.False(t, edited.Validation.Valid)

	// The store carries the edited params for delivery.
	stored, _, _ := st.Get(ctx, entry.Notification.ID)
	assert.Equal(t, "Jane Doe", stored.Params["name"])

	// Approval is not blocked by the failing validation.
	_, err = q.Approve(ctx, entry.Notification.ID)
	assert.NoError(t, err)
}

func TestEditSwitchesLanguage(t *testing.T) {
	q, repo, st := newTestQueue(t)
	ctx := context.Background()
	entry := pendingEntry(t, st, repo, "+96170123456", time.Now().Add(time.Hour))

	edited, err := q.Edit(ctx, entry.Notification.ID, EditPatch{Language: "ar"})
	require.NoError(t, err)
	assert.Equal(t, "ar", edited.Notification.Language)
	assert.NotContains(t, edited.RenderedContent, "reminder of your")
}

func TestListPendingOrdersByTriggerTime(t *testing.T) {
	q, repo, st := newTestQueue(t)
	ctx := context.Background()

	later := pendingEntry(t, st, repo, "+96170222222", time.Date(2026, 8, 28, 15, 0, 0, 0, time.UTC))
	sooner := pendingEntry(t, st, repo, "+96170111111", time.Date(2026, 8, 27, 15, 0, 0, 0, time.UTC))

	pending, err := q.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, sooner.Notification.ID, pending[0].Notification.ID)
	assert.Equal(t, later.Notification.ID, pending[1].Notification.ID)
}

func TestBatchDecisionsContinuePastFailures(t *testing.T) {
	q, repo, st := newTestQueue(t)
	ctx := context.Background()
	entry := pendingEntry(t, st, repo, "+96170123456", time.Now().Add(time.Hour))

	results := q.BatchApprove(ctx, []string{"ntf_missing", entry.Notification.ID})
	require.Len(t, results, 2)
	assert.False(t, results[0].OK)
	assert.NotEmpty(t, results[0].Error)
	assert.True(t, results[1].OK)

	stored, _, _ := st.Get(ctx, entry.Notification.ID)
	assert.Equal(t, models.StatusApproved, stored.Status)
}
