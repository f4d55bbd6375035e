// internal/settings/memory.go

package settings

import (
	"context"
	"sync"

	"notify-engine/internal/models"
)

// MemorySettings is the in-process Service used in tests and single-node
// setups without redis.
type MemorySettings struct {
	mu            sync.RWMutex
	globalEnabled bool
	previewMode   bool
	kindActive    map[string]bool
	serviceMap    map[string]bool
	schedules     map[string]models.KindSchedule
}

func NewMemorySettings() *MemorySettings {
	return &MemorySettings{
		globalEnabled: true,
		kindActive:    make(map[string]bool),
		serviceMap:    make(map[string]bool),
		schedules:     make(map[string]models.KindSchedule),
	}
}

func (m *MemorySettings) Snapshot(ctx context.Context) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		GlobalEnabled: m.globalEnabled,
		PreviewMode:   m.previewMode,
		kindActive:    make(map[string]bool, len(m.kindActive)),
		serviceMap:    make(map[string]bool, len(m.serviceMap)),
		schedules:     make(map[string]models.KindSchedule, len(m.schedules)),
	}
	for k, v := range m.kindActive {
		snap.kindActive[k] = v
	}
	for k, v := range m.serviceMap {
		snap.serviceMap[k] = v
	}
	for k, v := range m.schedules {
		snap.schedules[k] = v
	}
	return snap, nil
}

func (m *MemorySettings) SetGlobalEnabled(ctx context.Context, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.globalEnabled = enabled
	return nil
}

func (m *MemorySettings) SetPreviewMode(ctx context.Context, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.previewMode = enabled
	return nil
}

func (m *MemorySettings) SetKindActive(ctx context.Context, kindID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kindActive[kindID] = active
	return nil
}

func (m *MemorySettings) SetServiceMapping(ctx context.Context, serviceID, kindID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serviceMap[serviceKey(serviceID, kindID)] = enabled
	return nil
}

func (m *MemorySettings) UpsertSchedule(ctx context.Context, sched models.KindSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[sched.KindID] = sched
	return nil
}

func (m *MemorySettings) Invalidate() {}
