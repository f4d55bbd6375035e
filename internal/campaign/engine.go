// internal/campaign/engine.go

// Package campaign runs ad-hoc bulk sends against an operator-selected
// recipient population drawn from historical calendar data.
package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	stderrors "notify-engine/internal/common/errors"
	"notify-engine/internal/calendar"
	"notify-engine/internal/catalog"
	"notify-engine/internal/common/logger"
	"notify-engine/internal/gating"
	"notify-engine/internal/ledger"
	"notify-engine/internal/models"
	"notify-engine/internal/phone"
	"notify-engine/internal/store"
)

// Deliverer sends one notification synchronously. A nil error means the
// transport confirmed the send.
type Deliverer interface {
	Deliver(ctx context.Context, n models.ScheduledNotification) error
}

// Recipient is one deduplicated member of a campaign population, keeping the
// most recent appointment seen in the filter window.
type Recipient struct {
	Recipient    string `json:"recipient"`
	RecipientKey string `json:"recipientKey"`
	Name         string `json:"name"`
	ServiceID    string `json:"serviceId"`
	ServiceName  string `json:"serviceName"`
	Branch       string `json:"branch"`
	LastVisit    string `json:"lastVisit"` // YYYY-MM-DD
	Language     string `json:"language"`
}

// ExecuteRequest describes one campaign execution.
type ExecuteRequest struct {
	KindID       string
	Filters      models.CampaignFilters
	Params       map[string]string // merged over per-recipient params
	ScheduledFor *time.Time        // nil means send now
}

// Engine previews and executes campaigns.
type Engine struct {
	catalog   *catalog.Catalog
	source    calendar.Source
	store     store.Store
	ledger    ledger.Ledger
	pipeline  *gating.Pipeline
	deliverer Deliverer
	logger    logger.Logger

	defaultLang string
	now         func() time.Time
}

func NewEngine(cat *catalog.Catalog, src calendar.Source, st store.Store, led ledger.Ledger, pipe *gating.Pipeline, del Deliverer, defaultLang string, log logger.Logger) *Engine {
	return &Engine{
		catalog:     cat,
		source:      src,
		store:       st,
		ledger:      led,
		pipeline:    pipe,
		deliverer:   del,
		logger:      log,
		defaultLang: defaultLang,
		now:         time.Now,
	}
}

// Preview resolves the filter window into the deduplicated recipient
// population without creating any notification.
func (e *Engine) Preview(ctx context.Context, filters models.CampaignFilters) ([]Recipient, error) {
	from, err := time.Parse("2006-01-02", filters.FromDate)
	if err != nil {
		return nil, stderrors.NewInvalidTimestampError(fmt.Sprintf("fromDate %q: %v", filters.FromDate, err))
	}
	to, err := time.Parse("2006-01-02", filters.ToDate)
	if err != nil {
		return nil, stderrors.NewInvalidTimestampError(fmt.Sprintf("toDate %q: %v", filters.ToDate, err))
	}
	if to.Before(from) {
		return nil, stderrors.NewInvalidTimestampError("toDate precedes fromDate")
	}

	status := filters.Status
	if status == "" {
		status = catalog.AppointmentCompleted
	}

	// Iterating dates in ascending order means a later row for the same
	// recipient overwrites the earlier one, keeping the most recent visit.
	byKey := make(map[string]Recipient)
	var order []string
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		rows, err := e.source.Query(ctx, day.Format("2006-01-02"), status)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if filters.ServiceID != "" && row.ServiceID != filters.ServiceID {
				continue
			}
			if filters.Branch != "" && row.Branch != filters.Branch {
				continue
			}
			raw := row.Phone
			if raw == "" {
				raw = row.Email
			}
			key := phone.Normalize(raw)
			if !phone.IsValid(key) {
				continue
			}
			if _, seen := byKey[key]; !seen {
				order = append(order, key)
			}
			byKey[key] = Recipient{
				Recipient:    raw,
				RecipientKey: key,
				Name:         row.CustomerName,
				ServiceID:    row.ServiceID,
				ServiceName:  row.ServiceName,
				Branch:       row.Branch,
				LastVisit:    row.Date,
				Language:     row.Language,
			}
		}
	}

	out := make([]Recipient, 0, len(byKey))
	for _, key := range order {
		out = append(out, byKey[key])
	}
	return out, nil
}

// Execute runs a campaign: it opens a run record, admits one notification
// per recipient through the gating pipeline, delivers immediately when no
// schedule instant was requested, and finalizes the run with counts. A
// failed recipient never aborts the rest of the population.
func (e *Engine) Execute(ctx context.Context, req ExecuteRequest) (models.CampaignRun, error) {
	kindID, ok := e.catalog.Canonicalize(req.KindID)
	if !ok {
		return models.CampaignRun{}, stderrors.NewUnknownKindError(req.KindID)
	}

	recipients, err := e.Preview(ctx, req.Filters)
	if err != nil {
		return models.CampaignRun{}, err
	}

	run := models.CampaignRun{
		ID:           "cmp_" + uuid.New().String(),
		KindID:       kindID,
		Filters:      req.Filters,
		CreatedAt:    e.now().UTC(),
		ScheduledFor: req.ScheduledFor,
		Status:       models.CampaignStatusCreated,
	}
	if err := e.store.CreateCampaignRun(ctx, run); err != nil {
		return models.CampaignRun{}, err
	}

	triggerAt := e.now().UTC()
	sendNow := req.ScheduledFor == nil
	if !sendNow {
		triggerAt = req.ScheduledFor.UTC()
	}

	for _, r := range recipients {
		n := e.buildNotification(kindID, run.ID, r, req.Params, triggerAt)

		// A recipient already messaged for this kind about the same visit is
		// skipped, which makes re-running an equivalent window idempotent.
		dup, err := e.ledger.WasDelivered(ctx, ledger.Query{
			RecipientKey:  r.RecipientKey,
			KindID:        kindID,
			ReferenceDate: r.LastVisit,
		})
		if err != nil {
			run.FailedCount++
			e.logger.Error("campaign dedup check failed", map[string]interface{}{
				"run":       run.ID,
				"recipient": r.RecipientKey,
				"error":     err.Error(),
			})
			continue
		}
		if dup {
			continue
		}

		decision, err := e.pipeline.Admit(ctx, n)
		if err != nil {
			run.FailedCount++
			e.logger.Error("campaign admission failed", map[string]interface{}{
				"run":       run.ID,
				"recipient": r.RecipientKey,
				"error":     err.Error(),
			})
			continue
		}
		if !decision.Created {
			continue
		}

		switch decision.Notification.Status {
		case models.StatusPendingApproval:
			run.PreviewCount++
		case models.StatusScheduled:
			if sendNow {
				if err := e.deliverer.Deliver(ctx, decision.Notification); err != nil {
					run.FailedCount++
				} else {
					run.SentCount++
				}
			} else {
				run.QueuedCount++
			}
		default:
			// Suppressed by gating; counted as neither sent nor failed.
		}
	}

	run.Status = models.CampaignStatusCompleted
	if !sendNow {
		run.Status = models.CampaignStatusScheduled
	}
	if err := e.store.FinalizeCampaignRun(ctx, run); err != nil {
		return run, err
	}

	e.logger.Info("campaign run finished", map[string]interface{}{
		"run":      run.ID,
		"kind":     kindID,
		"sent":     run.SentCount,
		"failed":   run.FailedCount,
		"queued":   run.QueuedCount,
		"preview":  run.PreviewCount,
		"status":   run.Status,
		"audience": len(recipients),
	})
	return run, nil
}

func (e *Engine) buildNotification(kindID, runID string, r Recipient, extra map[string]string, triggerAt time.Time) models.ScheduledNotification {
	params := map[string]string{
		"name":    r.Name,
		"service": r.ServiceName,
		"branch":  r.Branch,
	}
	if params["name"] == "" {
		params["name"] = "customer"
	}
	for k, v := range extra {
		params[k] = v
	}

	language := r.Language
	if language == "" {
		language = e.defaultLang
	}

	return models.ScheduledNotification{
		ID:           models.NotificationID(kindID, r.RecipientKey, triggerAt),
		Recipient:    r.Recipient,
		RecipientKey: r.RecipientKey,
		KindID:       kindID,
		TriggerAt:    triggerAt,
		Params:       params,
		Language:     language,
		ServiceID:    r.ServiceID,
		Metadata: models.Metadata{
			ReferenceDate: r.LastVisit,
			CampaignID:    runID,
			Origin:        models.OriginCampaign,
		},
		CreatedAt: e.now().UTC(),
	}
}
