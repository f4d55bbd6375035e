// internal/ledger/memory.go
package ledger

import (
	"context"
	"sync"
	"time"

	"notify-engine/internal/catalog"
	"notify-engine/internal/models"
)

// MemoryLedger keeps the deduplication log in memory. Used in tests and for
// running without redis.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries []models.DeduplicationEntry
	catalog *catalog.Catalog
}

func NewMemoryLedger(cat *catalog.Catalog) *MemoryLedger {
	return &MemoryLedger{catalog: cat}
}

func (l *MemoryLedger) canonical(kindID string) string {
	if c, ok := l.catalog.Canonicalize(kindID); ok {
		return c
	}
	return kindID
}

func (l *MemoryLedger) WasDelivered(_ context.Context, q Query) (bool, error) {
	q.KindID = l.canonical(q.KindID)

	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.entries {
		if matches(q, e) {
			return true, nil
		}
	}
	return false, nil
}

func (l *MemoryLedger) Record(_ context.Context, entry models.DeduplicationEntry) error {
	entry.KindID = l.canonical(entry.KindID)
	if entry.LoggedAt.IsZero() {
		entry.LoggedAt = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

// Prune removes entries older than the retention window.
func (l *MemoryLedger) Prune(olderThan time.Duration) int {
	cutoff := time.Now().UTC().Add(-olderThan)

	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.entries[:0]
	removed := 0
	for _, e := range l.entries {
		if e.LoggedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	return removed
}

// Len returns the number of stored entries.
func (l *MemoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
