// internal/coalesce/buffer.go

// Package coalesce debounces bursts of inbound fragments per recipient:
// each new fragment restarts a countdown, and once the recipient goes quiet
// the fragments are delivered as one combined callback.
package coalesce

import (
	"strings"
	"sync"
	"time"

	"notify-engine/internal/common/logger"
	"notify-engine/internal/common/metrics"
)

// KindText is the only fragment kind that gets buffered; anything else
// (media, location, interactive replies) bypasses the buffer.
const KindText = "text"

// DefaultDebounce is the quiet interval before the combined callback fires.
const DefaultDebounce = 3 * time.Second

type session struct {
	mu        sync.Mutex
	fragments []string
	timer     *time.Timer
	gen       uint64
	onReady   func(string)
}

// Buffer is the per-recipient coalescing buffer. The top-level mutex only
// guards session map access; each session carries its own lock.
type Buffer struct {
	mu       sync.Mutex
	sessions map[string]*session
	delay    time.Duration
	logger   logger.Logger
}

func New(delay time.Duration, log logger.Logger) *Buffer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Buffer{
		sessions: make(map[string]*session),
		delay:    delay,
		logger:   log.WithFields(map[string]interface{}{"component": "coalesce"}),
	}
}

// Submit appends a fragment to the recipient's session and restarts the
// countdown. Non-text kinds invoke onReady immediately and return false;
// buffered fragments return true. The callback registered with the most
// recent fragment wins.
func (b *Buffer) Submit(recipientKey, fragment, kind string, onReady func(string)) bool {
	if kind != KindText {
		b.invoke(onReady, fragment)
		return false
	}

	b.mu.Lock()
	s, ok := b.sessions[recipientKey]
	if !ok {
		s = &session{}
		b.sessions[recipientKey] = s
		metrics.CoalesceSessionsActive.Inc()
	}

	s.mu.Lock()
	b.mu.Unlock()

	s.fragments = append(s.fragments, fragment)
	s.onReady = onReady
	s.gen++
	myGen := s.gen

	// Restarting the countdown: stopping the previous timer is best-effort —
	// if its callback already ran past the generation check, the combine
	// wins and this submission lands in a fresh session.
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(b.delay, func() {
		b.fire(recipientKey, myGen)
	})
	s.mu.Unlock()

	return true
}

// fire combines and clears the session if gen still matches, then invokes
// the callback outside all locks.
func (b *Buffer) fire(recipientKey string, gen uint64) {
	b.mu.Lock()
	s, ok := b.sessions[recipientKey]
	if !ok {
		b.mu.Unlock()
		return
	}

	s.mu.Lock()
	if s.gen != gen {
		// A newer fragment rearmed the countdown; this fire is cancelled.
		s.mu.Unlock()
		b.mu.Unlock()
		return
	}

	combined := collapse(s.fragments)
	cb := s.onReady
	delete(b.sessions, recipientKey)
	metrics.CoalesceSessionsActive.Dec()
	s.mu.Unlock()
	b.mu.Unlock()

	metrics.CoalesceFlushesTotal.Inc()
	b.invoke(cb, combined)
}

// Clear drops the recipient's session without firing.
func (b *Buffer) Clear(recipientKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions[recipientKey]
	if !ok {
		return
	}
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++ // invalidate any in-flight fire
	s.mu.Unlock()
	delete(b.sessions, recipientKey)
	metrics.CoalesceSessionsActive.Dec()
}

// Pending returns the number of open sessions.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// invoke runs the callback, recovering panics so a misbehaving consumer
// cannot take the buffer down. The session is already cleared at this point.
func (b *Buffer) invoke(cb func(string), text string) {
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("coalesce callback panicked", map[string]interface{}{
				"panic": r,
			})
		}
	}()
	cb(text)
}

// collapse joins fragments in arrival order and collapses runs of
// whitespace to single spaces.
func collapse(fragments []string) string {
	joined := strings.Join(fragments, " ")
	return strings.Join(strings.Fields(joined), " ")
}
