// internal/gating/pipeline.go

// Package gating decides the initial status of every notification candidate
// before it reaches the store. Every candidate is persisted regardless of
// the decision, so suppressed records remain auditable.
package gating

import (
	"context"
	"sync"

	stderrors "notify-engine/internal/common/errors"
	"notify-engine/internal/catalog"
	"notify-engine/internal/common/logger"
	"notify-engine/internal/common/metrics"
	"notify-engine/internal/models"
	"notify-engine/internal/render"
	"notify-engine/internal/settings"
	"notify-engine/internal/store"
)

// Decision is the outcome of admitting one candidate.
type Decision struct {
	Notification models.ScheduledNotification
	Created      bool
	// Preview is set when the candidate was routed to the approval queue.
	Preview *models.PreviewEntry
}

// Pipeline runs the gating checks in a fixed order: global switch, kind
// activation, service mapping, preview mode. Per-kind reader/writer locks
// make kind toggles atomic with respect to in-flight admissions: Admit holds
// the read side while deciding and persisting, SetKindActive holds the write
// side across the settings flip and the bulk status transition, so no
// candidate can slip through with the old status during a toggle.
type Pipeline struct {
	catalog  *catalog.Catalog
	settings settings.Service
	store    store.Store
	previews func(ctx context.Context, entry models.PreviewEntry) error
	logger   logger.Logger

	mu        sync.Mutex
	kindLocks map[string]*sync.RWMutex
}

// NewPipeline builds the pipeline. savePreview receives entries routed to
// the approval queue; pass nil to disable preview interception entirely.
func NewPipeline(cat *catalog.Catalog, svc settings.Service, st store.Store, savePreview func(ctx context.Context, entry models.PreviewEntry) error, log logger.Logger) *Pipeline {
	return &Pipeline{
		catalog:   cat,
		settings:  svc,
		store:     st,
		previews:  savePreview,
		logger:    log,
		kindLocks: make(map[string]*sync.RWMutex),
	}
}

func (p *Pipeline) kindLock(kindID string) *sync.RWMutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.kindLocks[kindID]
	if !ok {
		l = &sync.RWMutex{}
		p.kindLocks[kindID] = l
	}
	return l
}

// Admit decides and persists one candidate. The candidate's KindID may be a
// legacy alias; it is canonicalized before any check or storage write.
func (p *Pipeline) Admit(ctx context.Context, n models.ScheduledNotification) (Decision, error) {
	canonical, ok := p.catalog.Canonicalize(n.KindID)
	if !ok {
		return Decision{}, stderrors.NewUnknownKindError(n.KindID)
	}
	n.KindID = canonical
	if n.ID == "" {
		n.ID = models.NotificationID(n.KindID, n.RecipientKey, n.TriggerAt)
	}

	lock := p.kindLock(canonical)
	lock.RLock()
	defer lock.RUnlock()

	snap, err := p.settings.Snapshot(ctx)
	if err != nil {
		return Decision{}, err
	}

	status, reason := p.decide(snap, n)
	n.Status = status

	stored, created, err := p.store.Upsert(ctx, n)
	if err != nil {
		return Decision{}, err
	}
	if !created {
		metrics.CandidatesSkipped.WithLabelValues(n.KindID, "duplicate").Inc()
		return Decision{Notification: stored, Created: false}, nil
	}

	metrics.CandidatesAdmitted.WithLabelValues(n.KindID, string(status)).Inc()
	if reason != "" {
		metrics.CandidatesSkipped.WithLabelValues(n.KindID, reason).Inc()
		p.logger.Info("candidate suppressed", map[string]interface{}{
			"id":     stored.ID,
			"kind":   n.KindID,
			"status": string(status),
			"reason": reason,
		})
	}

	decision := Decision{Notification: stored, Created: true}
	if status == models.StatusPendingApproval && p.previews != nil {
		entry := p.buildPreview(stored)
		if err := p.previews(ctx, entry); err != nil {
			return Decision{}, err
		}
		decision.Preview = &entry
	}
	return decision, nil
}

// decide returns the initial status and, for suppressed candidates, the
// metric reason label. Check order matters: the global switch wins over
// everything, then kind activation, then the service mapping, then preview.
func (p *Pipeline) decide(snap settings.Snapshot, n models.ScheduledNotification) (models.Status, string) {
	if !snap.GlobalEnabled {
		return models.StatusDisabledGlobally, "global_disabled"
	}
	if !snap.KindActive(n.KindID) {
		return models.StatusDeactivated, "kind_inactive"
	}
	if n.ServiceID != "" && !snap.ServiceAllows(n.ServiceID, n.KindID) {
		return models.StatusSkippedService, "service_mismatch"
	}
	if snap.PreviewMode && p.previews != nil {
		return models.StatusPendingApproval, ""
	}
	return models.StatusScheduled, ""
}

func (p *Pipeline) buildPreview(n models.ScheduledNotification) models.PreviewEntry {
	entry := models.PreviewEntry{Notification: n}
	tmpl, ok := p.catalog.Template(n.KindID)
	if !ok {
		return entry
	}
	entry.RenderedContent = render.Render(tmpl.BodyFor(n.Language), n.Params)
	entry.Validation = render.Validate(n.RecipientKey, entry.RenderedContent, tmpl, n.Params)
	return entry
}

// SetKindActive flips a kind's activation and bulk-transitions its stored
// records in one critical section. Returns the number of records moved.
func (p *Pipeline) SetKindActive(ctx context.Context, kindID string, active bool) (int, error) {
	canonical, ok := p.catalog.Canonicalize(kindID)
	if !ok {
		return 0, stderrors.NewUnknownKindError(kindID)
	}

	lock := p.kindLock(canonical)
	lock.Lock()
	defer lock.Unlock()

	if err := p.settings.SetKindActive(ctx, canonical, active); err != nil {
		return 0, err
	}
	moved, err := p.store.SetKindActive(ctx, canonical, active)
	if err != nil {
		return 0, err
	}

	p.logger.Info("kind activation changed", map[string]interface{}{
		"kind":   canonical,
		"active": active,
		"moved":  moved,
	})
	return moved, nil
}
