// internal/approval/queue.go

package approval

import (
	"context"
	"time"

	stderrors "notify-engine/internal/common/errors"
	"notify-engine/internal/catalog"
	"notify-engine/internal/common/logger"
	"notify-engine/internal/models"
	"notify-engine/internal/render"
	"notify-engine/internal/store"
)

// BatchResult reports a per-id outcome of a batch decision.
type BatchResult struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// EditPatch is an operator edit. Nil Params leaves them untouched; an empty
// Language keeps the current one.
type EditPatch struct {
	Params   map[string]string `json:"params,omitempty"`
	Language string            `json:"language,omitempty"`
}

// Queue applies operator decisions to previewed notifications. The durable
// status write happens before the preview entry is resolved, so a crash in
// between leaves a stale preview entry rather than a lost decision.
type Queue struct {
	repo    PreviewRepo
	store   store.Store
	catalog *catalog.Catalog
	logger  logger.Logger
}

func NewQueue(repo PreviewRepo, st store.Store, cat *catalog.Catalog, log logger.Logger) *Queue {
	return &Queue{repo: repo, store: st, catalog: cat, logger: log}
}

// ListPending returns unresolved preview entries ordered by trigger time.
func (q *Queue) ListPending(ctx context.Context) ([]models.PreviewEntry, error) {
	entries, err := q.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	pending := entries[:0]
	for _, e := range entries {
		if e.ApprovedAt == nil && e.RejectedAt == nil {
			pending = append(pending, e)
		}
	}
	return pending, nil
}

// Approve releases a previewed notification back into the delivery path.
func (q *Queue) Approve(ctx context.Context, id string) (models.PreviewEntry, error) {
	entry, ok, err := q.repo.Get(ctx, id)
	if err != nil {
		return models.PreviewEntry{}, err
	}
	if !ok {
		return models.PreviewEntry{}, stderrors.NewNotFoundError("preview entry", id)
	}

	if err := q.store.UpdateStatus(ctx, id, models.StatusApproved, ""); err != nil {
		return models.PreviewEntry{}, err
	}

	now := time.Now().UTC()
	entry.ApprovedAt = &now
	entry.Notification.Status = models.StatusApproved
	if err := q.repo.Delete(ctx, id); err != nil {
		// The status write already landed; the orphaned entry is only
		// cosmetic and will be skipped by ListPending after restart.
		q.logger.Warn("approved notification left stale preview entry", map[string]interface{}{
			"id":    id,
			"error": err.Error(),
		})
	}

	q.logger.Info("notification approved", map[string]interface{}{
		"id":   id,
		"kind": entry.Notification.KindID,
	})
	return entry, nil
}

// Reject terminally refuses a previewed notification.
func (q *Queue) Reject(ctx context.Context, id, reason string) (models.PreviewEntry, error) {
	entry, ok, err := q.repo.Get(ctx, id)
	if err != nil {
		return models.PreviewEntry{}, err
	}
	if !ok {
		return models.PreviewEntry{}, stderrors.NewNotFoundError("preview entry", id)
	}

	if err := q.store.UpdateStatus(ctx, id, models.StatusRejected, reason); err != nil {
		return models.PreviewEntry{}, err
	}

	now := time.Now().UTC()
	entry.RejectedAt = &now
	entry.RejectionReason = reason
	entry.Notification.Status = models.StatusRejected
	if err := q.repo.Delete(ctx, id); err != nil {
		q.logger.Warn("rejected notification left stale preview entry", map[string]interface{}{
			"id":    id,
			"error": err.Error(),
		})
	}

	q.logger.Info("notification rejected", map[string]interface{}{
		"id":     id,
		"kind":   entry.Notification.KindID,
		"reason": reason,
	})
	return entry, nil
}

// Edit updates a pending entry's params and language, then re-renders and
// re-validates. Validation stays advisory: a failing result never blocks a
// later Approve.
func (q *Queue) Edit(ctx context.Context, id string, patch EditPatch) (models.PreviewEntry, error) {
	entry, ok, err := q.repo.Get(ctx, id)
	if err != nil {
		return models.PreviewEntry{}, err
	}
	if !ok {
		return models.PreviewEntry{}, stderrors.NewNotFoundError("preview entry", id)
	}
	if entry.ApprovedAt != nil || entry.RejectedAt != nil {
		return models.PreviewEntry{}, stderrors.NewInvalidTransitionError(id, string(entry.Notification.Status), "edit")
	}

	if patch.Params != nil {
		entry.Notification.Params = patch.Params
	}
	if patch.Language != "" {
		entry.Notification.Language = patch.Language
	}
	if err := q.store.UpdateParams(ctx, id, entry.Notification.Params, entry.Notification.Language); err != nil {
		return models.PreviewEntry{}, err
	}

	tmpl, ok := q.catalog.Template(entry.Notification.KindID)
	if !ok {
		return models.PreviewEntry{}, stderrors.NewUnknownKindError(entry.Notification.KindID)
	}
	entry.RenderedContent = render.Render(tmpl.BodyFor(entry.Notification.Language), entry.Notification.Params)
	entry.Validation = render.Validate(entry.Notification.RecipientKey, entry.RenderedContent, tmpl, entry.Notification.Params)
	entry.Edited = true

	if err := q.repo.Save(ctx, entry); err != nil {
		return models.PreviewEntry{}, err
	}
	return entry, nil
}

// BatchApprove applies Approve to each id, continuing past failures.
func (q *Queue) BatchApprove(ctx context.Context, ids []string) []BatchResult {
	return q.batch(ctx, ids, func(id string) error {
		_, err := q.Approve(ctx, id)
		return err
	})
}

// BatchReject applies Reject to each id, continuing past failures.
func (q *Queue) BatchReject(ctx context.Context, ids []string, reason string) []BatchResult {
	return q.batch(ctx, ids, func(id string) error {
		_, err := q.Reject(ctx, id, reason)
		return err
	})
}

func (q *Queue) batch(ctx context.Context, ids []string, apply func(string) error) []BatchResult {
	results := make([]BatchResult, 0, len(ids))
	for _, id := range ids {
		if err := apply(id); err != nil {
			results = append(results, BatchResult{ID: id, Error: err.Error()})
			continue
		}
		results = append(results, BatchResult{ID: id, OK: true})
	}
	return results
}
