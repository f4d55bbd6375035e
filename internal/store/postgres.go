// internal/store/postgres.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/lib/pq"

	stderrors "notify-engine/internal/common/errors"
	"notify-engine/internal/models"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS scheduled_notifications (
	id             TEXT PRIMARY KEY,
	recipient      TEXT NOT NULL,
	recipient_key  TEXT NOT NULL,
	kind_id        TEXT NOT NULL,
	trigger_at     TIMESTAMPTZ NOT NULL,
	params         JSONB NOT NULL DEFAULT '{}',
	language       TEXT NOT NULL DEFAULT 'en',
	service_id     TEXT NOT NULL DEFAULT '',
	reference_date TEXT NOT NULL DEFAULT '',
	appointment_id TEXT NOT NULL DEFAULT '',
	campaign_id    TEXT NOT NULL DEFAULT '',
	origin         TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	sent_at        TIMESTAMPTZ,
	last_error     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_notifications_status_trigger ON scheduled_notifications (status, trigger_at);
CREATE INDEX IF NOT EXISTS idx_notifications_tuple ON scheduled_notifications (recipient_key, kind_id, reference_date);
CREATE INDEX IF NOT EXISTS idx_notifications_appointment ON scheduled_notifications (appointment_id);

CREATE TABLE IF NOT EXISTS campaign_runs (
	id            TEXT PRIMARY KEY,
	kind_id       TEXT NOT NULL,
	filters       JSONB NOT NULL DEFAULT '{}',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	scheduled_for TIMESTAMPTZ,
	sent_count    INT NOT NULL DEFAULT 0,
	failed_count  INT NOT NULL DEFAULT 0,
	preview_count INT NOT NULL DEFAULT 0,
	queued_count  INT NOT NULL DEFAULT 0,
	status        TEXT NOT NULL
);
`

const selectColumns = `id, recipient, recipient_key, kind_id, trigger_at, params, language,
	service_id, reference_date, appointment_id, campaign_id, origin, status, created_at, sent_at, last_error`

// PostgresStore is the durable Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return stderrors.NewStoreUnavailableError(err)
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, n models.ScheduledNotification) (models.ScheduledNotification, bool, error) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	paramsJSON, err := json.Marshal(n.Params)
	if err != nil {
		return models.ScheduledNotification{}, false, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_notifications
			(id, recipient, recipient_key, kind_id, trigger_at, params, language,
			 service_id, reference_date, appointment_id, campaign_id, origin, status, created_at, last_error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id) DO NOTHING`,
		n.ID, n.Recipient, n.RecipientKey, n.KindID, n.TriggerAt, paramsJSON, n.Language,
		n.ServiceID, n.Metadata.ReferenceDate, n.Metadata.AppointmentID, n.Metadata.CampaignID,
		n.Metadata.Origin, string(n.Status), n.CreatedAt, n.LastError)
	if err != nil {
		return models.ScheduledNotification{}, false, stderrors.NewStoreUnavailableError(err)
	}

	affected, _ := res.RowsAffected()
	if affected == 1 {
		return n, true, nil
	}

	// Duplicate id: the insert lost; return the existing record.
	existing, ok, err := s.Get(ctx, n.ID)
	if err != nil {
		return models.ScheduledNotification{}, false, err
	}
	if !ok {
		return models.ScheduledNotification{}, false, stderrors.NewNotFoundError("notification", n.ID)
	}
	return existing, false, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (models.ScheduledNotification, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM scheduled_notifications WHERE id = $1`, id)
	n, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return models.ScheduledNotification{}, false, nil
	}
	if err != nil {
		return models.ScheduledNotification{}, false, stderrors.NewStoreUnavailableError(err)
	}
	return n, true, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(row rowScanner) (models.ScheduledNotification, error) {
	var (
		n          models.ScheduledNotification
		paramsJSON []byte
		status     string
		sentAt     sql.NullTime
	)
	err := row.Scan(&n.ID, &n.Recipient, &n.RecipientKey, &n.KindID, &n.TriggerAt,
		&paramsJSON, &n.Language, &n.ServiceID, &n.Metadata.ReferenceDate,
		&n.Metadata.AppointmentID, &n.Metadata.CampaignID, &n.Metadata.Origin,
		&status, &n.CreatedAt, &sentAt, &n.LastError)
	if err != nil {
		return models.ScheduledNotification{}, err
	}
	n.Status = models.Status(status)
	if len(paramsJSON) > 0 {
		_ = json.Unmarshal(paramsJSON, &n.Params)
	}
	if sentAt.Valid {
		t := sentAt.Time
		n.SentAt = &t
	}
	return n, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status models.Status, lastError string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stderrors.NewStoreUnavailableError(err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM scheduled_notifications WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return stderrors.NewNotFoundError("notification", id)
	}
	if err != nil {
		return stderrors.NewStoreUnavailableError(err)
	}

	if !models.Status(current).CanTransitionTo(status) {
		return stderrors.NewInvalidTransitionError(id, current, string(status))
	}

	if status == models.StatusSent {
		_, err = tx.ExecContext(ctx,
			`UPDATE scheduled_notifications SET status = $2, last_error = $3, sent_at = now() WHERE id = $1`,
			id, string(status), lastError)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE scheduled_notifications SET status = $2, last_error = $3 WHERE id = $1`,
			id, string(status), lastError)
	}
	if err != nil {
		return stderrors.NewStoreUnavailableError(err)
	}
	if err := tx.Commit(); err != nil {
		return stderrors.NewStoreUnavailableError(err)
	}
	return nil
}

func (s *PostgresStore) UpdateParams(ctx context.Context, id string, params map[string]string, language string) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return err
	}

	var res sql.Result
	if language != "" {
		res, err = s.db.ExecContext(ctx,
			`UPDATE scheduled_notifications SET params = $2, language = $3 WHERE id = $1`,
			id, paramsJSON, language)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE scheduled_notifications SET params = $2 WHERE id = $1`,
			id, paramsJSON)
	}
	if err != nil {
		return stderrors.NewStoreUnavailableError(err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return stderrors.NewNotFoundError("notification", id)
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, f QueryFilter) ([]models.ScheduledNotification, error) {
	query := `SELECT ` + selectColumns + ` FROM scheduled_notifications WHERE 1=1`
	args := []interface{}{}
	idx := 1

	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		query += ` AND status = ANY($` + strconv.Itoa(idx) + `)`
		args = append(args, pq.Array(statuses))
		idx++
	}
	if f.KindID != "" {
		query += ` AND kind_id = $` + strconv.Itoa(idx)
		args = append(args, f.KindID)
		idx++
	}
	if f.RecipientKey != "" {
		query += ` AND recipient_key = $` + strconv.Itoa(idx)
		args = append(args, f.RecipientKey)
		idx++
	}
	if f.CampaignID != "" {
		query += ` AND campaign_id = $` + strconv.Itoa(idx)
		args = append(args, f.CampaignID)
		idx++
	}
	if f.From != nil {
		query += ` AND trigger_at >= $` + strconv.Itoa(idx)
		args = append(args, *f.From)
		idx++
	}
	if f.To != nil {
		query += ` AND trigger_at <= $` + strconv.Itoa(idx)
		args = append(args, *f.To)
		idx++
	}
	query += ` ORDER BY trigger_at ASC`
	if f.Limit > 0 {
		query += ` LIMIT $` + strconv.Itoa(idx)
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, stderrors.NewStoreUnavailableError(err)
	}
	defer rows.Close()

	var out []models.ScheduledNotification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, stderrors.NewStoreUnavailableError(err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Due(ctx context.Context, now time.Time, limit int) ([]models.ScheduledNotification, error) {
	return s.Query(ctx, QueryFilter{
		Statuses: []models.Status{models.StatusScheduled, models.StatusApproved},
		To:       &now,
		Limit:    limit,
	})
}

func (s *PostgresStore) Claim(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_notifications SET status = $2
		WHERE id = $1 AND status = ANY($3)`,
		id, string(models.StatusSending),
		pq.Array([]string{string(models.StatusScheduled), string(models.StatusApproved)}))
	if err != nil {
		return false, stderrors.NewStoreUnavailableError(err)
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

func (s *PostgresStore) FindActive(ctx context.Context, recipientKey, kindID, referenceDate string) (bool, error) {
	terminal := []string{
		string(models.StatusSent), string(models.StatusRejected),
		string(models.StatusCancelled), string(models.StatusFailed),
	}
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM scheduled_notifications
			WHERE recipient_key = $1 AND kind_id = $2 AND reference_date = $3
			  AND status <> ALL($4)
		)`, recipientKey, kindID, referenceDate, pq.Array(terminal)).Scan(&exists)
	if err != nil {
		return false, stderrors.NewStoreUnavailableError(err)
	}
	return exists, nil
}

func (s *PostgresStore) CancelForSource(ctx context.Context, appointmentID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_notifications SET status = $2
		WHERE appointment_id = $1 AND status = ANY($3)`,
		appointmentID, string(models.StatusCancelled),
		pq.Array([]string{string(models.StatusScheduled), string(models.StatusDeactivated)}))
	if err != nil {
		return 0, stderrors.NewStoreUnavailableError(err)
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

func (s *PostgresStore) SetKindActive(ctx context.Context, kindID string, active bool) (int, error) {
	from, to := models.StatusScheduled, models.StatusDeactivated
	if active {
		from, to = models.StatusDeactivated, models.StatusScheduled
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_notifications SET status = $3
		WHERE kind_id = $1 AND status = $2`,
		kindID, string(from), string(to))
	if err != nil {
		return 0, stderrors.NewStoreUnavailableError(err)
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

func (s *PostgresStore) CreateCampaignRun(ctx context.Context, run models.CampaignRun) error {
	filtersJSON, err := json.Marshal(run.Filters)
	if err != nil {
		return err
	}
	var scheduledFor sql.NullTime
	if run.ScheduledFor != nil {
		scheduledFor = sql.NullTime{Time: *run.ScheduledFor, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO campaign_runs (id, kind_id, filters, created_at, scheduled_for, status)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		run.ID, run.KindID, filtersJSON, run.CreatedAt, scheduledFor, run.Status)
	if err != nil {
		return stderrors.NewStoreUnavailableError(err)
	}
	return nil
}

func (s *PostgresStore) FinalizeCampaignRun(ctx context.Context, run models.CampaignRun) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaign_runs
		SET sent_count = $2, failed_count = $3, preview_count = $4, queued_count = $5, status = $6
		WHERE id = $1`,
		run.ID, run.SentCount, run.FailedCount, run.PreviewCount, run.QueuedCount, run.Status)
	if err != nil {
		return stderrors.NewStoreUnavailableError(err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return stderrors.NewNotFoundError("campaign run", run.ID)
	}
	return nil
}

func (s *PostgresStore) GetCampaignRun(ctx context.Context, id string) (models.CampaignRun, bool, error) {
	var (
		run          models.CampaignRun
		filtersJSON  []byte
		scheduledFor sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind_id, filters, created_at, scheduled_for,
		       sent_count, failed_count, preview_count, queued_count, status
		FROM campaign_runs WHERE id = $1`, id).
		Scan(&run.ID, &run.KindID, &filtersJSON, &run.CreatedAt, &scheduledFor,
			&run.SentCount, &run.FailedCount, &run.PreviewCount, &run.QueuedCount, &run.Status)
	if err == sql.ErrNoRows {
		return models.CampaignRun{}, false, nil
	}
	if err != nil {
		return models.CampaignRun{}, false, stderrors.NewStoreUnavailableError(err)
	}
	if len(filtersJSON) > 0 {
		_ = json.Unmarshal(filtersJSON, &run.Filters)
	}
	if scheduledFor.Valid {
		t := scheduledFor.Time
		run.ScheduledFor = &t
	}
	return run, true, nil
}
