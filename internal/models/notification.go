// internal/models/notification.go
package models

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"
)

// Status is the delivery state of a ScheduledNotification.
type Status string

const (
	StatusScheduled        Status = "scheduled"
	StatusPendingApproval  Status = "pending_approval"
	StatusApproved         Status = "approved"
	StatusSending          Status = "sending"
	StatusRejected         Status = "rejected"
	StatusDeactivated      Status = "deactivated"
	StatusSkippedService   Status = "skipped_service_mismatch"
	StatusDisabledGlobally Status = "disabled_globally"
	StatusCancelled        Status = "cancelled"
	StatusSent             Status = "sent"
	StatusFailed           Status = "failed"
)

// transitions lists the allowed next states per state. Absent states have
// no outgoing transitions.
var transitions = map[Status][]Status{
	StatusScheduled: {
		StatusPendingApproval, StatusDeactivated, StatusSkippedService,
		StatusDisabledGlobally, StatusCancelled, StatusSending,
		StatusSent, StatusFailed,
	},
	StatusPendingApproval: {StatusApproved, StatusRejected},
	StatusApproved:        {StatusSending, StatusSent, StatusFailed},
	StatusDeactivated:     {StatusScheduled, StatusCancelled},
	// sending is the delivery claim: exactly one caller wins the transition
	// into it, owns the transport attempt, and writes the terminal outcome.
	// sending -> scheduled requeues a claim orphaned by a crash.
	StatusSending: {StatusSent, StatusFailed, StatusScheduled},
}

// Terminal reports whether no further transition is possible. A failed
// notification may be re-admitted as a fresh record but is never retried
// in place.
func (s Status) Terminal() bool {
	switch s {
	case StatusSent, StatusRejected, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine allows moving to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Origin values recorded on notification metadata.
const (
	OriginDailyTrigger = "daily_trigger"
	OriginCampaign     = "campaign"
	OriginManual       = "manual"
)

// Metadata carries the provenance of a scheduled notification.
type Metadata struct {
	ReferenceDate string `json:"referenceDate"` // YYYY-MM-DD, the date the event pertains to
	AppointmentID string `json:"appointmentId,omitempty"`
	CampaignID    string `json:"campaignId,omitempty"`
	Origin        string `json:"origin"`
}

// ScheduledNotification is one outbound notification and its delivery state.
type ScheduledNotification struct {
	ID           string            `json:"id"`
	Recipient    string            `json:"recipient"`    // dialable address (phone or email)
	RecipientKey string            `json:"recipientKey"` // normalized identity key
	KindID       string            `json:"kindId"`       // canonical kind id
	TriggerAt    time.Time         `json:"triggerAt"`
	Params       map[string]string `json:"params"` // template substitution values
	Language     string            `json:"language"`
	ServiceID    string            `json:"serviceId,omitempty"`
	Metadata     Metadata          `json:"metadata"`
	Status       Status            `json:"status"`
	CreatedAt    time.Time         `json:"createdAt"`
	SentAt       *time.Time        `json:"sentAt,omitempty"`
	LastError    string            `json:"lastError,omitempty"`
}

// NotificationID derives the deterministic record id. Re-deriving the id for
// the same (recipient, kind, trigger-instant) yields the same value, which is
// what makes upserts replay-safe across restarts.
func NotificationID(kindID, recipientKey string, triggerAt time.Time) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%s|%d", kindID, recipientKey, triggerAt.UTC().Unix())))
	return "ntf_" + hex.EncodeToString(sum[:])[:24]
}

// DeduplicationEntry is an immutable fact that a notification was delivered.
type DeduplicationEntry struct {
	RecipientKey  string    `json:"recipientKey"`
	KindID        string    `json:"kindId"`
	ReferenceDate string    `json:"referenceDate"`
	AppointmentID string    `json:"appointmentId,omitempty"`
	CampaignID    string    `json:"campaignId,omitempty"`
	LoggedAt      time.Time `json:"loggedAt"`
}

// ValidationResult is the advisory outcome of preview content validation.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// PreviewEntry wraps a notification awaiting a human decision.
type PreviewEntry struct {
	Notification    ScheduledNotification `json:"notification"`
	RenderedContent string                `json:"renderedContent"`
	Validation      ValidationResult      `json:"validation"`
	ApprovedAt      *time.Time            `json:"approvedAt,omitempty"`
	RejectedAt      *time.Time            `json:"rejectedAt,omitempty"`
	RejectionReason string                `json:"rejectionReason,omitempty"`
	Edited          bool                  `json:"edited"`
}
