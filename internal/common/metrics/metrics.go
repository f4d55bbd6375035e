// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TriggerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_trigger_runs_total",
			Help: "Total number of daily trigger runs per kind",
		},
		[]string{"kind"},
	)

	CandidatesAdmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_candidates_admitted_total",
			Help: "Candidates admitted through the gating pipeline by resulting status",
		},
		[]string{"kind", "status"},
	)

	CandidatesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_candidates_skipped_total",
			Help: "Candidates skipped before admission",
		},
		[]string{"kind", "reason"},
	)

	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_deliveries_total",
			Help: "Transport delivery attempts by outcome",
		},
		[]string{"kind", "status"},
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "notify_delivery_duration_seconds",
			Help: "Duration of transport delivery calls in seconds",
		},
		[]string{"kind"},
	)

	CoalesceSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notify_coalesce_sessions_active",
			Help: "Number of open coalescing sessions",
		},
	)

	CoalesceFlushesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_coalesce_flushes_total",
			Help: "Total number of coalesced callbacks fired",
		},
	)
)
