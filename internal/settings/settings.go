// internal/settings/settings.go

// Package settings holds the mutable gating configuration: the global
// enable flag, preview-before-send, per-kind activation, the service->kind
// mapping, and KindSchedule overrides. Reads go through an in-memory
// snapshot with a short TTL so a storage round-trip never sits on the
// gating pipeline's hot path.
package settings

import (
	"context"
	"fmt"
	"regexp"
	"time"

	stderrors "notify-engine/internal/common/errors"
	"notify-engine/internal/catalog"
	"notify-engine/internal/models"
)

var sendTimePattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// Snapshot is an immutable view of the gating configuration.
type Snapshot struct {
	GlobalEnabled bool
	PreviewMode   bool

	// kindActive and serviceMap default to enabled when unset.
	kindActive map[string]bool
	serviceMap map[string]bool
	schedules  map[string]models.KindSchedule
}

// KindActive reports whether a kind is administratively active.
func (s Snapshot) KindActive(kindID string) bool {
	if v, ok := s.kindActive[kindID]; ok {
		return v
	}
	return true
}

// ServiceAllows reports whether the service->kind mapping permits the kind
// for a service. Unmapped pairs default to enabled.
func (s Snapshot) ServiceAllows(serviceID, kindID string) bool {
	if v, ok := s.serviceMap[serviceKey(serviceID, kindID)]; ok {
		return v
	}
	return true
}

// Schedule returns the kind's schedule override, if one exists.
func (s Snapshot) Schedule(kindID string) (models.KindSchedule, bool) {
	sched, ok := s.schedules[kindID]
	return sched, ok
}

func serviceKey(serviceID, kindID string) string {
	return serviceID + "|" + kindID
}

// Service reads and mutates the gating configuration.
type Service interface {
	Snapshot(ctx context.Context) (Snapshot, error)
	SetGlobalEnabled(ctx context.Context, enabled bool) error
	SetPreviewMode(ctx context.Context, enabled bool) error
	SetKindActive(ctx context.Context, kindID string, active bool) error
	SetServiceMapping(ctx context.Context, serviceID, kindID string, enabled bool) error
	UpsertSchedule(ctx context.Context, sched models.KindSchedule) error
	// Invalidate drops the cached snapshot so the next read is fresh.
	Invalidate()
}

// ValidateSchedule checks the KindSchedule invariants against the catalog.
func ValidateSchedule(cat *catalog.Catalog, sched models.KindSchedule) error {
	canonical, ok := cat.Canonicalize(sched.KindID)
	if !ok {
		return stderrors.NewUnknownKindError(sched.KindID)
	}
	if k, _ := cat.Get(canonical); !k.DailyTriggered {
		return stderrors.NewScheduleInvalidError(fmt.Sprintf("kind %s is not daily triggered", canonical))
	}
	if !sendTimePattern.MatchString(sched.SendTime) {
		return stderrors.NewScheduleInvalidError(fmt.Sprintf("sendTime %q is not 24-hour HH:MM", sched.SendTime))
	}
	if _, err := time.LoadLocation(sched.Timezone); err != nil {
		return stderrors.NewScheduleInvalidError(fmt.Sprintf("timezone %q does not resolve: %v", sched.Timezone, err))
	}
	return nil
}
