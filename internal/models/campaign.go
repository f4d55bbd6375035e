// internal/models/campaign.go
package models

import "time"

// Campaign run statuses.
const (
	CampaignStatusCreated   = "created"
	CampaignStatusScheduled = "scheduled"
	CampaignStatusCompleted = "completed"
)

// CampaignFilters selects the recipient population for a campaign run.
type CampaignFilters struct {
	FromDate  string `json:"fromDate"` // YYYY-MM-DD inclusive
	ToDate    string `json:"toDate"`   // YYYY-MM-DD inclusive
	Status    string `json:"status,omitempty"`
	ServiceID string `json:"serviceId,omitempty"`
	Branch    string `json:"branch,omitempty"`
}

// CampaignRun is the aggregate record of one campaign execution. It is
// opened before execution and finalized exactly once with counts.
type CampaignRun struct {
	ID           string          `json:"id"`
	KindID       string          `json:"kindId"`
	Filters      CampaignFilters `json:"filters"`
	CreatedAt    time.Time       `json:"createdAt"`
	ScheduledFor *time.Time      `json:"scheduledFor,omitempty"`
	SentCount    int             `json:"sentCount"`
	FailedCount  int             `json:"failedCount"`
	PreviewCount int             `json:"previewCount"`
	QueuedCount  int             `json:"queuedCount"`
	Status       string          `json:"status"`
}
