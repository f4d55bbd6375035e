// internal/store/memory.go
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	stderrors "notify-engine/internal/common/errors"
	"notify-engine/internal/models"
)

// MemoryStore keeps everything behind one RWMutex, which makes the bulk
// kind toggle trivially atomic with respect to concurrent upserts.
type MemoryStore struct {
	mu            sync.RWMutex
	notifications map[string]models.ScheduledNotification
	campaigns     map[string]models.CampaignRun
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		notifications: make(map[string]models.ScheduledNotification),
		campaigns:     make(map[string]models.CampaignRun),
	}
}

func (s *MemoryStore) Upsert(_ context.Context, n models.ScheduledNotification) (models.ScheduledNotification, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.notifications[n.ID]; ok {
		return existing, false, nil
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	s.notifications[n.ID] = n
	return n, true, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (models.ScheduledNotification, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notifications[id]
	return n, ok, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status models.Status, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return stderrors.NewNotFoundError("notification", id)
	}
	if !n.Status.CanTransitionTo(status) {
		return stderrors.NewInvalidTransitionError(id, string(n.Status), string(status))
	}

	n.Status = status
	n.LastError = lastError
	if status == models.StatusSent {
		now := time.Now().UTC()
		n.SentAt = &now
	}
	s.notifications[id] = n
	return nil
}

func (s *MemoryStore) UpdateParams(_ context.Context, id string, params map[string]string, language string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return stderrors.NewNotFoundError("notification", id)
	}
	n.Params = params
	if language != "" {
		n.Language = language
	}
	s.notifications[id] = n
	return nil
}

func (s *MemoryStore) Query(_ context.Context, f QueryFilter) ([]models.ScheduledNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ScheduledNotification
	for _, n := range s.notifications {
		if !matchesFilter(n, f) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggerAt.Before(out[j].TriggerAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matchesFilter(n models.ScheduledNotification, f QueryFilter) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if n.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.KindID != "" && n.KindID != f.KindID {
		return false
	}
	if f.RecipientKey != "" && n.RecipientKey != f.RecipientKey {
		return false
	}
	if f.CampaignID != "" && n.Metadata.CampaignID != f.CampaignID {
		return false
	}
	if f.From != nil && n.TriggerAt.Before(*f.From) {
		return false
	}
	if f.To != nil && n.TriggerAt.After(*f.To) {
		return false
	}
	return true
}

func (s *MemoryStore) Due(ctx context.Context, now time.Time, limit int) ([]models.ScheduledNotification, error) {
	return s.Query(ctx, QueryFilter{
		Statuses: []models.Status{models.StatusScheduled, models.StatusApproved},
		To:       &now,
		Limit:    limit,
	})
}

func (s *MemoryStore) Claim(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return false, nil
	}
	if n.Status != models.StatusScheduled && n.Status != models.StatusApproved {
		return false, nil
	}
	n.Status = models.StatusSending
	s.notifications[id] = n
	return true, nil
}

func (s *MemoryStore) FindActive(_ context.Context, recipientKey, kindID, referenceDate string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, n := range s.notifications {
		if n.RecipientKey == recipientKey &&
			n.KindID == kindID &&
			n.Metadata.ReferenceDate == referenceDate &&
			!n.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) CancelForSource(_ context.Context, appointmentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, n := range s.notifications {
		if n.Metadata.AppointmentID != appointmentID {
			continue
		}
		if n.Status != models.StatusScheduled && n.Status != models.StatusDeactivated {
			continue
		}
		n.Status = models.StatusCancelled
		s.notifications[id] = n
		count++
	}
	return count, nil
}

func (s *MemoryStore) SetKindActive(_ context.Context, kindID string, active bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, to := models.StatusScheduled, models.StatusDeactivated
	if active {
		from, to = models.StatusDeactivated, models.StatusScheduled
	}

	count := 0
	for id, n := range s.notifications {
		if n.KindID != kindID || n.Status != from {
			continue
		}
		n.Status = to
		s.notifications[id] = n
		count++
	}
	return count, nil
}

func (s *MemoryStore) CreateCampaignRun(_ context.Context, run models.CampaignRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[run.ID] = run
	return nil
}

func (s *MemoryStore) FinalizeCampaignRun(_ context.Context, run models.CampaignRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[run.ID]; !ok {
		return stderrors.NewNotFoundError("campaign run", run.ID)
	}
	s.campaigns[run.ID] = run
	return nil
}

func (s *MemoryStore) GetCampaignRun(_ context.Context, id string) (models.CampaignRun, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.campaigns[id]
	return run, ok, nil
}
