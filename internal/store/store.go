// internal/store/store.go

// Package store owns ScheduledNotification records and their state machine.
// All mutation goes through this contract; collaborators never touch the
// backing storage directly.
package store

import (
	"context"
	"time"

	"notify-engine/internal/models"
)

// QueryFilter selects notifications. Zero fields are ignored.
type QueryFilter struct {
	Statuses     []models.Status
	KindID       string
	RecipientKey string
	CampaignID   string
	From         *time.Time // TriggerAt >= From
	To           *time.Time // TriggerAt <= To
	Limit        int
}

// Store is the durable notification store.
type Store interface {
	// Upsert inserts the notification keyed by its deterministic id. When a
	// record with that id already exists the call is a no-op returning the
	// existing record and created=false; duplicates are never an error.
	Upsert(ctx context.Context, n models.ScheduledNotification) (models.ScheduledNotification, bool, error)

	Get(ctx context.Context, id string) (models.ScheduledNotification, bool, error)

	// UpdateStatus applies a state-machine transition. Disallowed
	// transitions return ErrCodeInvalidTransition.
	UpdateStatus(ctx context.Context, id string, status models.Status, lastError string) error

	// UpdateParams replaces rendering parameters (operator edit path).
	UpdateParams(ctx context.Context, id string, params map[string]string, language string) error

	Query(ctx context.Context, f QueryFilter) ([]models.ScheduledNotification, error)

	// Due returns scheduled/approved records whose trigger instant has
	// passed, oldest first.
	Due(ctx context.Context, now time.Time, limit int) ([]models.ScheduledNotification, error)

	// Claim atomically moves a scheduled/approved record to sending.
	// Exactly one concurrent caller gets true and owns the transport
	// attempt; everyone else gets false, never an error.
	Claim(ctx context.Context, id string) (bool, error)

	// FindActive reports whether a non-terminal record exists for the
	// tuple; the trigger scheduler checks this in addition to the ledger.
	FindActive(ctx context.Context, recipientKey, kindID, referenceDate string) (bool, error)

	// CancelForSource cancels every scheduled/deactivated record tied to an
	// appointment and returns the count.
	CancelForSource(ctx context.Context, appointmentID string) (int, error)

	// SetKindActive bulk-transitions records of a kind: scheduled ->
	// deactivated when turned off, deactivated -> scheduled when turned on.
	SetKindActive(ctx context.Context, kindID string, active bool) (int, error)

	CreateCampaignRun(ctx context.Context, run models.CampaignRun) error
	FinalizeCampaignRun(ctx context.Context, run models.CampaignRun) error
	GetCampaignRun(ctx context.Context, id string) (models.CampaignRun, bool, error)
}
