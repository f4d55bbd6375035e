// internal/store/postgres_test.go
package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stderrors "notify-engine/internal/common/errors"
	"notify-engine/internal/models"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func notificationColumns() []string {
	return []string{
		"id", "recipient", "recipient_key", "kind_id", "trigger_at", "params", "language",
		"service_id", "reference_date", "appointment_id", "campaign_id", "origin",
		"status", "created_at", "sent_at", "last_error",
	}
}

func TestPostgresUpsertInsertsNewRecord(t *testing.T) {
	s, mock := newMockStore(t)
	n := testNotification("reminder_24h", "+96170123456", time.Date(2026, 8, 26, 15, 0, 0, 0, time.UTC))

	mock.ExpectExec(`INSERT INTO scheduled_notifications`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	stored, created, err := s.Upsert(context.Background(), n)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, n.ID, stored.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertDuplicateReturnsExisting(t *testing.T) {
	s, mock := newMockStore(t)
	triggerAt := time.Date(2026, 8, 26, 15, 0, 0, 0, time.UTC)
	n := testNotification("reminder_24h", "+96170123456", triggerAt)

	mock.ExpectExec(`INSERT INTO scheduled_notifications`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .+ FROM scheduled_notifications WHERE id = \$1`).
		WithArgs(n.ID).
		WillReturnRows(sqlmock.NewRows(notificationColumns()).AddRow(
			n.ID, n.Recipient, n.RecipientKey, n.KindID, triggerAt,
			[]byte(`{"name":"Jane"}`), "en", "", "2026-08-26", "", "", "daily_trigger",
			"scheduled", triggerAt, nil, ""))

	stored, created, err := s.Upsert(context.Background(), n)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, models.StatusScheduled, stored.Status)
	assert.Equal(t, "Jane", stored.Params["name"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateStatusRejectsBadTransition(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM scheduled_notifications WHERE id = \$1 FOR UPDATE`).
		WithArgs("ntf_1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("sent"))
	mock.ExpectRollback()

	err := s.UpdateStatus(context.Background(), "ntf_1", models.StatusScheduled, "")
	assert.True(t, stderrors.HasCode(err, stderrors.ErrCodeInvalidTransition))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateStatusSentSetsSentAt(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM scheduled_notifications WHERE id = \$1 FOR UPDATE`).
		WithArgs("ntf_1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("scheduled"))
	mock.ExpectExec(`UPDATE scheduled_notifications SET status = \$2, last_error = \$3, sent_at = now\(\) WHERE id = \$1`).
		WithArgs("ntf_1", "sent", "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.UpdateStatus(context.Background(), "ntf_1", models.StatusSent, ""))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresClaim(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE scheduled_notifications SET status = \$2\s+WHERE id = \$1 AND status = ANY\(\$3\)`).
		WithArgs("ntf_1", "sending", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE scheduled_notifications SET status = \$2\s+WHERE id = \$1 AND status = ANY\(\$3\)`).
		WithArgs("ntf_1", "sending", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err := s.Claim(context.Background(), "ntf_1")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = s.Claim(context.Background(), "ntf_1")
	require.NoError(t, err)
	assert.False(t, claimed, "the second claimant loses the conditional update")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindActive(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("+96170123456", "reminder_24h", "2026-08-27", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	active, err := s.FindActive(context.Background(), "+96170123456", "reminder_24h", "2026-08-27")
	require.NoError(t, err)
	assert.True(t, active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetKindActive(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE scheduled_notifications SET status = \$3`).
		WithArgs("reminder_24h", "scheduled", "deactivated").
		WillReturnResult(sqlmock.NewResult(0, 7))

	moved, err := s.SetKindActive(context.Background(), "reminder_24h", false)
	require.NoError(t, err)
	assert.Equal(t, 7, moved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCancelForSource(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE scheduled_notifications SET status = \$2`).
		WithArgs("apt_42", "cancelled", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	cancelled, err := s.CancelForSource(context.Background(), "apt_42")
	require.NoError(t, err)
	assert.Equal(t, 2, cancelled)
	assert.NoError(t, mock.ExpectationsWereMet())
}
