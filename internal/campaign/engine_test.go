// internal/campaign/engine_test.go
package campaign

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notify-engine/internal/calendar"
	"notify-engine/internal/catalog"
	"notify-engine/internal/common/logger"
	"notify-engine/internal/gating"
	"notify-engine/internal/ledger"
	"notify-engine/internal/models"
	"notify-engine/internal/settings"
	"notify-engine/internal/store"
)

type fakeSource struct {
	rows map[string][]calendar.AppointmentRow
}

func (f *fakeSource) Query(_ context.Context, referenceDate, status string) ([]calendar.AppointmentRow, error) {
	return f.rows[referenceDate+"|"+status], nil
}

// fakeDeliverer fails recipients listed in failFor and records the rest.
type fakeDeliverer struct {
	store     *store.MemoryStore
	ledger    ledger.Ledger
	failFor   map[string]bool
	delivered []string
}

func (f *fakeDeliverer) Deliver(ctx context.Context, n models.ScheduledNotification) error {
	if f.failFor[n.RecipientKey] {
		_ = f.store.UpdateStatus(ctx, n.ID, models.StatusFailed, "transport error")
		return errors.New("transport error")
	}
	_ = f.store.UpdateStatus(ctx, n.ID, models.StatusSent, "")
	_ = f.ledger.Record(ctx, models.DeduplicationEntry{
		RecipientKey:  n.RecipientKey,
		KindID:        n.KindID,
		ReferenceDate: n.Metadata.ReferenceDate,
		CampaignID:    n.Metadata.CampaignID,
		LoggedAt:      time.Now().UTC(),
	})
	f.delivered = append(f.delivered, n.RecipientKey)
	return nil
}

type fixture struct {
	engine    *Engine
	source    *fakeSource
	store     *store.MemoryStore
	ledger    *ledger.MemoryLedger
	settings  settings.Service
	deliverer *fakeDeliverer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat := catalog.New("Asia/Beirut")
	svc := settings.NewMemorySettings()
	st := store.NewMemoryStore()
	led := ledger.NewMemoryLedger(cat)
	src := &fakeSource{rows: make(map[string][]calendar.AppointmentRow)}
	pipe := gating.NewPipeline(cat, svc, st, nil, logger.NewTestLogger(t))
	del := &fakeDeliverer{store: st, ledger: led, failFor: make(map[string]bool)}

	return &fixture{
		engine:    NewEngine(cat, src, st, led, pipe, del, "en", logger.NewTestLogger(t)),
		source:    src,
		store:     st,
		ledger:    led,
		settings:  svc,
		deliverer: del,
	}
}

func visit(phone, date string) calendar.AppointmentRow {
	return calendar.AppointmentRow{
		AppointmentID: "apt_" + phone + "_" + date,
		CustomerName:  "Jane",
		Phone:         phone,
		ServiceID:     "svc_hair",
		ServiceName:   "Haircut",
		Branch:        "Downtown",
		Date:          date,
		Status:        "Completed",
	}
}

func filters(from, to string) models.CampaignFilters {
	return models.CampaignFilters{FromDate: from, ToDate: to}
}

func TestPreviewDeduplicatesKeepingMostRecentVisit(t *testing.T) {
	f := newFixture(t)
	f.source.rows["2026-08-01|Completed"] = []calendar.AppointmentRow{visit("+96170111111", "2026-08-01")}
	f.source.rows["2026-08-02|Completed"] = []calendar.AppointmentRow{
		visit("+96170111111", "2026-08-02"),
		visit("+96170222222", "2026-08-02"),
	}

	recipients, err := f.engine.Preview(context.Background(), filters("2026-08-01", "2026-08-03"))
	require.NoError(t, err)
	require.Len(t, recipients, 2)
	assert.Equal(t, "+96170111111", recipients[0].RecipientKey)
	assert.Equal(t, "2026-08-02", recipients[0].LastVisit, "later visit wins")
}

func TestPreviewAppliesFilters(t *testing.T) {
	f := newFixture(t)
	other := visit("+96170222222", "2026-08-01")
	other.Branch = "Uptown"
	f.source.rows["2026-08-01|Completed"] = []calendar.AppointmentRow{
		visit("+96170111111", "2026-08-01"),
		other,
	}

	flt := filters("2026-08-01", "2026-08-01")
	flt.Branch = "Downtown"
	recipients, err := f.engine.Preview(context.Background(), flt)
	require.NoError(t, err)
	require.Len(t, recipients, 1)
	assert.Equal(t, "+96170111111", recipients[0].RecipientKey)
}

func TestPreviewRejectsInvertedWindow(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Preview(context.Background(), filters("2026-08-05", "2026-08-01"))
	assert.Error(t, err)
}

func TestExecuteSendNowCountsOutcomes(t *testing.T) {
	f := newFixture(t)
	f.source.rows["2026-08-01|Completed"] = []calendar.AppointmentRow{
		visit("+96170111111", "2026-08-01"),
		visit("+96170222222", "2026-08-01"),
		visit("+96170333333", "2026-08-01"),
	}
	f.deliverer.failFor["+96170222222"] = true

	run, err := f.engine.Execute(context.Background(), ExecuteRequest{
		KindID:  "promo",
		Filters: filters("2026-08-01", "2026-08-01"),
		Params:  map[string]string{"offer": "20% off this week"},
	})
	require.NoError(t, err)

	assert.Equal(t, "campaign_promo", run.KindID)
	assert.Equal(t, 2, run.SentCount)
	assert.Equal(t, 1, run.FailedCount, "one failure never aborts the rest")
	assert.Equal(t, models.CampaignStatusCompleted, run.Status)
	assert.Len(t, f.deliverer.delivered, 2)

	stored, ok, _ := f.store.GetCampaignRun(context.Background(), run.ID)
	require.True(t, ok)
	assert.Equal(t, 2, stored.SentCount)
}

func TestExecuteRerunSkipsAlreadyMessagedRecipients(t *testing.T) {
	f := newFixture(t)
	f.source.rows["2026-08-01|Completed"] = []calendar.AppointmentRow{
		visit("+96170111111", "2026-08-01"),
		visit("+96170222222", "2026-08-01"),
	}

	req := ExecuteRequest{
		KindID:  "campaign_promo",
		Filters: filters("2026-08-01", "2026-08-01"),
		Params:  map[string]string{"offer": "20% off"},
	}
	first, err := f.engine.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 2, first.SentCount)

	// The same window re-run resolves the same (recipient, kind, last-visit)
	// tuples; the ledger suppresses every one of them.
	second, err := f.engine.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, second.SentCount)
	assert.Equal(t, 0, second.FailedCount)
	assert.Len(t, f.deliverer.delivered, 2, "no repeat transport calls")
}

func TestExecuteScheduledQueuesForLater(t *testing.T) {
	f := newFixture(t)
	f.source.rows["2026-08-01|Completed"] = []calendar.AppointmentRow{visit("+96170111111", "2026-08-01")}

	later := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	run, err := f.engine.Execute(context.Background(), ExecuteRequest{
		KindID:       "campaign_promo",
		Filters:      filters("2026-08-01", "2026-08-01"),
		Params:       map[string]string{"offer": "autumn deal"},
		ScheduledFor: &later,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, run.QueuedCount)
	assert.Equal(t, 0, run.SentCount)
	assert.Equal(t, models.CampaignStatusScheduled, run.Status)
	assert.Empty(t, f.deliverer.delivered)

	pending, _ := f.store.Query(context.Background(), store.QueryFilter{CampaignID: run.ID})
	require.Len(t, pending, 1)
	assert.Equal(t, models.StatusScheduled, pending[0].Status)
	assert.True(t, pending[0].TriggerAt.Equal(later))
}

func TestExecuteInPreviewModeRoutesToApproval(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.settings.SetPreviewMode(context.Background(), true))
	f.source.rows["2026-08-01|Completed"] = []calendar.AppointmentRow{visit("+96170111111", "2026-08-01")}

	// Rebuild the pipeline with a preview sink so interception is active.
	cat := catalog.New("Asia/Beirut")
	var intercepted []models.PreviewEntry
	pipe := gating.NewPipeline(cat, f.settings, f.store, func(_ context.Context, e models.PreviewEntry) error {
		intercepted = append(intercepted, e)
		return nil
	}, logger.NewTestLogger(t))
	engine := NewEngine(cat, f.source, f.store, f.ledger, pipe, f.deliverer, "en", logger.NewTestLogger(t))

	run, err := engine.Execute(context.Background(), ExecuteRequest{
		KindID:  "campaign_promo",
		Filters: filters("2026-08-01", "2026-08-01"),
		Params:  map[string]string{"offer": "20% off"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, run.PreviewCount)
	assert.Equal(t, 0, run.SentCount)
	require.Len(t, intercepted, 1)
	assert.Empty(t, f.deliverer.delivered)
}

func TestExecuteUnknownKind(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Execute(context.Background(), ExecuteRequest{
		KindID:  "no_such_kind",
		Filters: filters("2026-08-01", "2026-08-01"),
	})
	assert.Error(t, err)
}
