// internal/ledger/ledger.go

// Package ledger is the append-only record of delivered notifications,
// queried before admission to prevent double-sends across restarts.
package ledger

import (
	"context"

	"notify-engine/internal/models"
)

// Query asks whether a delivery fact exists. RecipientKey and KindID are
// mandatory; ReferenceDate must match when set; AppointmentID and CampaignID
// match only when the caller supplies a non-empty value.
type Query struct {
	RecipientKey  string
	KindID        string
	ReferenceDate string
	AppointmentID string
	CampaignID    string
}

// Ledger is the durable deduplication log. Entries are never mutated;
// cleanup only removes entries older than the retention window.
type Ledger interface {
	WasDelivered(ctx context.Context, q Query) (bool, error)
	Record(ctx context.Context, entry models.DeduplicationEntry) error
}

// matches applies the tuple-matching rule to one stored entry. Kind ids are
// expected to be canonical on both sides by the time they get here.
func matches(q Query, e models.DeduplicationEntry) bool {
	if e.RecipientKey != q.RecipientKey || e.KindID != q.KindID {
		return false
	}
	if q.ReferenceDate != "" && e.ReferenceDate != q.ReferenceDate {
		return false
	}
	if q.AppointmentID != "" && e.AppointmentID != q.AppointmentID {
		return false
	}
	if q.CampaignID != "" && e.CampaignID != q.CampaignID {
		return false
	}
	return true
}
