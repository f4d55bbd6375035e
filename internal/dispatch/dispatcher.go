// internal/dispatch/dispatcher.go

package dispatch

import (
	"context"
	"errors"
	"time"

	stderrors "notify-engine/internal/common/errors"
	"notify-engine/internal/catalog"
	"notify-engine/internal/common/logger"
	"notify-engine/internal/common/metrics"
	"notify-engine/internal/ledger"
	"notify-engine/internal/models"
	"notify-engine/internal/render"
	"notify-engine/internal/store"
)

const defaultBatchSize = 200

// Dispatcher polls the store for due notifications and delivers them. Every
// attempt ends in a terminal status write; the delivery fact is appended to
// the ledger only after the transport confirms success.
type Dispatcher struct {
	store     store.Store
	ledger    ledger.Ledger
	catalog   *catalog.Catalog
	transport Transport
	logger    logger.Logger

	interval time.Duration
	timeout  time.Duration
	stopChan chan struct{}
}

func NewDispatcher(st store.Store, led ledger.Ledger, cat *catalog.Catalog, tr Transport, interval, timeout time.Duration, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		store:     st,
		ledger:    led,
		catalog:   cat,
		transport: tr,
		logger:    log,
		interval:  interval,
		timeout:   timeout,
		stopChan:  make(chan struct{}),
	}
}

// Start runs the poll loop until Stop is called or ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	if requeued, err := d.RequeueStale(ctx); err != nil {
		d.logger.Error("stale claim requeue failed", map[string]interface{}{
			"error": err.Error(),
		})
	} else if requeued > 0 {
		d.logger.Warn("requeued orphaned claims", map[string]interface{}{
			"count": requeued,
		})
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("dispatcher started", map[string]interface{}{
		"interval": d.interval.String(),
	})
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopChan:
			return
		case <-ticker.C:
			if err := d.RunOnce(ctx); err != nil {
				d.logger.Error("dispatch cycle failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}

// Stop terminates the poll loop.
func (d *Dispatcher) Stop() {
	close(d.stopChan)
}

// RunOnce delivers every currently-due notification. A single failed
// delivery is recorded and never aborts the rest of the batch.
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	due, err := d.store.Due(ctx, time.Now(), defaultBatchSize)
	if err != nil {
		return err
	}
	for _, n := range due {
		// Per-notification outcomes are recorded and logged inside Deliver.
		_ = d.Deliver(ctx, n)
	}
	return nil
}

// RequeueStale returns sending records to scheduled. A claim only outlives
// its transport attempt when the process died mid-send, so this runs once
// before the poll loop starts.
func (d *Dispatcher) RequeueStale(ctx context.Context) (int, error) {
	stale, err := d.store.Query(ctx, store.QueryFilter{
		Statuses: []models.Status{models.StatusSending},
	})
	if err != nil {
		return 0, err
	}
	requeued := 0
	for _, n := range stale {
		if err := d.store.UpdateStatus(ctx, n.ID, models.StatusScheduled, ""); err != nil {
			return requeued, err
		}
		requeued++
	}
	return requeued, nil
}

// Deliver claims, renders and sends one notification, writing the terminal
// status. The claim guarantees at most one transport attempt per record even
// when the poll loop and a synchronous caller race. The returned error
// reports the delivery outcome; the status and ledger writes have already
// happened either way.
func (d *Dispatcher) Deliver(ctx context.Context, n models.ScheduledNotification) error {
	start := time.Now()

	claimed, err := d.store.Claim(ctx, n.ID)
	if err != nil {
		return err
	}
	if !claimed {
		// Another caller owns the attempt and will write the outcome.
		d.logger.Debug("delivery already claimed", map[string]interface{}{
			"id": n.ID,
		})
		return nil
	}

	text, subject, err := d.renderContent(n)
	if err != nil {
		d.finishFailed(ctx, n, err)
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	result, err := d.transport.Deliver(sendCtx, n.Recipient, subject, text)
	cancel()

	metrics.DeliveryDuration.WithLabelValues(n.KindID).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = stderrors.NewTransportTimeoutError(err.Error())
		} else {
			err = stderrors.NewTransportSendFailedError(err)
		}
		d.finishFailed(ctx, n, err)
		return err
	}

	if err := d.store.UpdateStatus(ctx, n.ID, models.StatusSent, ""); err != nil {
		d.logger.Error("sent notification status write failed", map[string]interface{}{
			"id":    n.ID,
			"error": err.Error(),
		})
	}
	if err := d.ledger.Record(ctx, models.DeduplicationEntry{
		RecipientKey:  n.RecipientKey,
		KindID:        n.KindID,
		ReferenceDate: n.Metadata.ReferenceDate,
		AppointmentID: n.Metadata.AppointmentID,
		CampaignID:    n.Metadata.CampaignID,
		LoggedAt:      time.Now().UTC(),
	}); err != nil {
		d.logger.Error("delivery ledger append failed", map[string]interface{}{
			"id":    n.ID,
			"error": err.Error(),
		})
	}

	metrics.DeliveriesTotal.WithLabelValues(n.KindID, "sent").Inc()
	d.logger.Info("notification delivered", map[string]interface{}{
		"id":                n.ID,
		"kind":              n.KindID,
		"providerMessageId": result.ProviderMessageID,
	})
	return nil
}

func (d *Dispatcher) finishFailed(ctx context.Context, n models.ScheduledNotification, cause error) {
	metrics.DeliveriesTotal.WithLabelValues(n.KindID, "failed").Inc()
	if err := d.store.UpdateStatus(ctx, n.ID, models.StatusFailed, cause.Error()); err != nil {
		d.logger.Error("failed notification status write failed", map[string]interface{}{
			"id":    n.ID,
			"error": err.Error(),
		})
	}
	d.logger.Error("notification delivery failed", map[string]interface{}{
		"id":    n.ID,
		"kind":  n.KindID,
		"error": cause.Error(),
	})
}

func (d *Dispatcher) renderContent(n models.ScheduledNotification) (text, subject string, err error) {
	tmpl, ok := d.catalog.Template(n.KindID)
	if !ok {
		return "", "", stderrors.NewUnknownKindError(n.KindID)
	}
	kind, _ := d.catalog.Get(n.KindID)
	return render.Render(tmpl.BodyFor(n.Language), n.Params), kind.DisplayName, nil
}
