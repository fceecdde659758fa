package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the request-pipeline's Prometheus collectors, grounded on
// the teacher's internal/observability.Metrics (same promauto construction
// style, same naming convention, narrowed to this server's own concerns).
type Metrics struct {
	// SessionsStarted counts admitted sessions.
	SessionsStarted prometheus.Counter

	// SessionsBusy counts admission attempts that timed out waiting for a
	// semaphore slot (spec.md §8 property 8).
	SessionsBusy prometheus.Counter

	// SessionDuration measures wall-clock time from admission to a
	// terminal event, labeled by outcome.
	SessionDuration *prometheus.HistogramVec

	// RoundsPerSession measures how many orchestrator rounds a session ran.
	RoundsPerSession prometheus.Histogram

	// ToolDispatches counts tool dispatches by tool name and outcome.
	ToolDispatches *prometheus.CounterVec

	// ActiveSessions is a gauge of sessions currently in flight.
	ActiveSessions prometheus.Gauge

	// AvailableSlots is a gauge of unused admission-semaphore capacity.
	AvailableSlots prometheus.Gauge
}

// NewMetrics registers the gateway's collectors with the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "evidence_agent_sessions_started_total",
			Help: "Total number of admitted reasoning sessions.",
		}),
		SessionsBusy: promauto.NewCounter(prometheus.CounterOpts{
			Name: "evidence_agent_sessions_busy_total",
			Help: "Total number of admission attempts that timed out waiting for a slot.",
		}),
		SessionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evidence_agent_session_duration_seconds",
			Help:    "Session duration from admission to terminal event, by outcome.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 900},
		}, []string{"outcome"}),
		RoundsPerSession: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "evidence_agent_rounds_per_session",
			Help:    "Number of reasoning rounds consumed per session.",
			Buckets: []float64{1, 2, 3, 5, 8, 10, 15, 20},
		}),
		ToolDispatches: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "evidence_agent_tool_dispatches_total",
			Help: "Total number of tool dispatches by tool name and outcome.",
		}, []string{"tool_name", "outcome"}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "evidence_agent_active_sessions",
			Help: "Number of sessions currently in flight.",
		}),
		AvailableSlots: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "evidence_agent_available_slots",
			Help: "Number of unused admission-semaphore slots.",
		}),
	}
}
