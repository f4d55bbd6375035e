// internal/trigger/scheduler.go

// Package trigger runs the daily notification kinds: once per local day, at
// each kind's configured send time, it walks the calendar rows for the
// kind's reference date and feeds candidates through the gating pipeline.
package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"notify-engine/internal/calendar"
	"notify-engine/internal/catalog"
	"notify-engine/internal/common/crm"
	stderrors "notify-engine/internal/common/errors"
	"notify-engine/internal/common/logger"
	"notify-engine/internal/common/metrics"
	"notify-engine/internal/common/observability"
	"notify-engine/internal/gating"
	"notify-engine/internal/ledger"
	"notify-engine/internal/models"
	"notify-engine/internal/phone"
	"notify-engine/internal/settings"
	"notify-engine/internal/store"
)

// RunStats summarizes one kind's trigger run.
type RunStats struct {
	KindID    string
	LocalDate string
	RefDate   string
	Rows      int
	Admitted  int
	Deduped   int
	Invalid   int
	Errors    int
}

// Scheduler evaluates the daily kinds on every Tick. The clock is
// injectable so tests can pin the instant.
type Scheduler struct {
	catalog    *catalog.Catalog
	settings   settings.Service
	store      store.Store
	ledger     ledger.Ledger
	source     calendar.Source
	pipeline   *gating.Pipeline
	watermarks WatermarkStore
	resolver   *crm.Resolver
	obs        *observability.Observability
	logger     logger.Logger

	defaultTZ   string
	defaultLang string
	now         func() time.Time

	mu      sync.Mutex
	running map[string]bool
}

type Options struct {
	Catalog    *catalog.Catalog
	Settings   settings.Service
	Store      store.Store
	Ledger     ledger.Ledger
	Source     calendar.Source
	Pipeline   *gating.Pipeline
	Watermarks WatermarkStore
	Resolver   *crm.Resolver // optional
	Obs        *observability.Observability
	Logger     logger.Logger

	DefaultTimezone string
	DefaultLanguage string
	Now             func() time.Time // optional, defaults to time.Now
}

func NewScheduler(opts Options) *Scheduler {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		catalog:     opts.Catalog,
		settings:    opts.Settings,
		store:       opts.Store,
		ledger:      opts.Ledger,
		source:      opts.Source,
		pipeline:    opts.Pipeline,
		watermarks:  opts.Watermarks,
		resolver:    opts.Resolver,
		obs:         opts.Obs,
		logger:      opts.Logger,
		defaultTZ:   opts.DefaultTimezone,
		defaultLang: opts.DefaultLanguage,
		now:         now,
		running:     make(map[string]bool),
	}
}

// Tick checks every daily kind against its schedule and runs those that are
// due. Due means: enabled, local wall-clock minute equals the send time, and
// the watermark has not yet advanced to today's local date.
func (s *Scheduler) Tick(ctx context.Context) {
	instant := s.now()
	for _, kind := range s.catalog.DailyKinds() {
		if err := s.tickKind(ctx, kind, instant); err != nil {
			s.logger.Error("trigger tick failed", map[string]interface{}{
				"kind":  kind.ID,
				"error": err.Error(),
			})
		}
	}
}

func (s *Scheduler) tickKind(ctx context.Context, kind catalog.Kind, instant time.Time) error {
	sched := s.scheduleFor(ctx, kind)
	if !sched.Enabled {
		return nil
	}

	loc, err := time.LoadLocation(sched.Timezone)
	if err != nil {
		s.logger.Warn("kind timezone does not resolve, using default", map[string]interface{}{
			"kind":     kind.ID,
			"timezone": sched.Timezone,
		})
		loc, err = time.LoadLocation(s.defaultTZ)
		if err != nil {
			return fmt.Errorf("default timezone %q does not resolve: %w", s.defaultTZ, err)
		}
	}

	local := instant.In(loc)
	if local.Format("15:04") != sched.SendTime {
		return nil
	}
	localDate := local.Format("2006-01-02")

	last, err := s.watermarks.LastRun(ctx, kind.ID)
	if err != nil {
		return err
	}
	if last == localDate {
		return nil
	}

	s.mu.Lock()
	if s.running[kind.ID] {
		s.mu.Unlock()
		return nil
	}
	s.running[kind.ID] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, kind.ID)
		s.mu.Unlock()
	}()

	stats, err := s.run(ctx, kind, sched, loc, local)
	status := "completed"
	if err != nil {
		status = "failed"
	}
	metrics.TriggerRunsTotal.WithLabelValues(kind.ID).Inc()
	if s.obs != nil {
		s.obs.RecordTick(ctx, status)
		s.obs.RecordTickDuration(ctx, time.Since(instant), status)
	}
	if err != nil {
		// Watermark stays behind so the next tick on the same send-time
		// minute (or a manual re-run) can retry; dedup makes the retry safe.
		return err
	}

	if err := s.watermarks.SetLastRun(ctx, kind.ID, localDate); err != nil {
		return err
	}

	s.logger.Info("daily trigger completed", map[string]interface{}{
		"kind":     stats.KindID,
		"date":     stats.LocalDate,
		"refDate":  stats.RefDate,
		"rows":     stats.Rows,
		"admitted": stats.Admitted,
		"deduped":  stats.Deduped,
		"invalid":  stats.Invalid,
		"errors":   stats.Errors,
	})
	return nil
}

// scheduleFor returns the settings override when one exists, otherwise the
// catalog default.
func (s *Scheduler) scheduleFor(ctx context.Context, kind catalog.Kind) models.KindSchedule {
	// kind comes straight from the catalog, so the lookup cannot miss.
	fallback, _ := s.catalog.DefaultScheduleFor(kind.ID)
	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		s.logger.Warn("settings unavailable, using default schedule", map[string]interface{}{
			"kind":  kind.ID,
			"error": err.Error(),
		})
		return fallback
	}
	if override, ok := snap.Schedule(kind.ID); ok {
		return override
	}
	return fallback
}

// run executes one kind's daily pass. Invalid calendar rows are skipped and
// counted; a row-level admission failure never aborts the remaining rows.
func (s *Scheduler) run(ctx context.Context, kind catalog.Kind, sched models.KindSchedule, loc *time.Location, local time.Time) (RunStats, error) {
	stats := RunStats{
		KindID:    kind.ID,
		LocalDate: local.Format("2006-01-02"),
		RefDate:   s.catalog.ReferenceDate(kind, local),
	}

	rows, err := s.source.Query(ctx, stats.RefDate, kind.CalendarStatus)
	if err != nil {
		return stats, err
	}
	stats.Rows = len(rows)

	// TriggerAt is pinned to the send-time on today's local date, so a mid-
	// run restart re-derives identical notification ids and the store upsert
	// deduplicates.
	triggerAt, err := sendInstant(local, sched.SendTime, loc)
	if err != nil {
		return stats, err
	}

	for _, row := range rows {
		recipient, recipientKey, rowErr := validateRow(row)
		if rowErr != nil {
			stats.Invalid++
			metrics.CandidatesSkipped.WithLabelValues(kind.ID, "invalid_row").Inc()
			s.logger.Warn("skipping invalid calendar row", map[string]interface{}{
				"kind":        kind.ID,
				"appointment": row.AppointmentID,
				"reason":      rowErr.Error(),
			})
			continue
		}

		dup, err := s.alreadyHandled(ctx, recipientKey, kind.ID, stats.RefDate)
		if err != nil {
			stats.Errors++
			s.logger.Error("dedup check failed", map[string]interface{}{
				"kind":      kind.ID,
				"recipient": recipientKey,
				"error":     err.Error(),
			})
			continue
		}
		if dup {
			stats.Deduped++
			metrics.CandidatesSkipped.WithLabelValues(kind.ID, "deduplicated").Inc()
			continue
		}

		candidate := s.buildCandidate(ctx, kind, row, recipient, recipientKey, triggerAt, stats.RefDate)
		if _, err := s.pipeline.Admit(ctx, candidate); err != nil {
			stats.Errors++
			s.logger.Error("candidate admission failed", map[string]interface{}{
				"kind":      kind.ID,
				"recipient": recipientKey,
				"error":     err.Error(),
			})
			continue
		}
		stats.Admitted++
	}
	return stats, nil
}

// alreadyHandled consults both dedup layers: the delivery ledger (facts that
// survive store cleanup) and the live store (records not yet delivered).
func (s *Scheduler) alreadyHandled(ctx context.Context, recipientKey, kindID, refDate string) (bool, error) {
	delivered, err := s.ledger.WasDelivered(ctx, ledger.Query{
		RecipientKey:  recipientKey,
		KindID:        kindID,
		ReferenceDate: refDate,
	})
	if err != nil {
		return false, err
	}
	if delivered {
		return true, nil
	}
	return s.store.FindActive(ctx, recipientKey, kindID, refDate)
}

func (s *Scheduler) buildCandidate(ctx context.Context, kind catalog.Kind, row calendar.AppointmentRow, recipient, recipientKey string, triggerAt time.Time, refDate string) models.ScheduledNotification {
	name := row.CustomerName
	if name == "" && s.resolver != nil {
		if contact := s.resolver.Resolve(ctx, recipientKey); contact.Exists {
			name = contact.DisplayName
		}
	}
	if name == "" {
		name = "customer"
	}

	language := row.Language
	if language == "" {
		language = s.defaultLang
	}

	return models.ScheduledNotification{
		ID:           models.NotificationID(kind.ID, recipientKey, triggerAt),
		Recipient:    recipient,
		RecipientKey: recipientKey,
		KindID:       kind.ID,
		TriggerAt:    triggerAt,
		Params: map[string]string{
			"name":    name,
			"service": row.ServiceName,
			"date":    row.Date,
			"time":    row.Time,
			"branch":  row.Branch,
		},
		Language:  language,
		ServiceID: row.ServiceID,
		Metadata: models.Metadata{
			ReferenceDate: refDate,
			AppointmentID: row.AppointmentID,
			Origin:        models.OriginDailyTrigger,
		},
		CreatedAt: time.Now().UTC(),
	}
}

// validateRow picks the row's contact address, preferring phone, normalizes
// it, and checks that the appointment instant parses. An invalid row is
// skipped and counted, never rendered into a customer message.
func validateRow(row calendar.AppointmentRow) (recipient, recipientKey string, err error) {
	raw := row.Phone
	if raw == "" {
		raw = row.Email
	}
	if raw == "" {
		return "", "", stderrors.NewInvalidRecipientError("no contact address")
	}
	key := phone.Normalize(raw)
	if !phone.IsValid(key) {
		return "", "", stderrors.NewInvalidRecipientError(fmt.Sprintf("unparseable contact address %q", raw))
	}
	if _, perr := time.Parse("2006-01-02", row.Date); perr != nil {
		return "", "", stderrors.NewInvalidTimestampError(fmt.Sprintf("appointment date %q does not parse", row.Date))
	}
	if row.Time != "" {
		if _, perr := time.Parse("15:04", row.Time); perr != nil {
			return "", "", stderrors.NewInvalidTimestampError(fmt.Sprintf("appointment time %q does not parse", row.Time))
		}
	}
	return raw, key, nil
}

// sendInstant builds the absolute trigger instant for HH:MM on local's date.
func sendInstant(local time.Time, sendTime string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("15:04", sendTime, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("send time %q does not parse: %w", sendTime, err)
	}
	return time.Date(local.Year(), local.Month(), local.Day(), t.Hour(), t.Minute(), 0, 0, loc), nil
}
