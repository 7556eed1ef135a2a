package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session lifecycle events reported to a MetricsRecorder.
const (
	EventCacheHit           = "session.cache_hit"
	EventRefresh            = "session.refresh"
	EventRefreshFailed      = "session.refresh_failed"
	EventExchangeSuccess    = "session.exchange_success"
	EventExchangeFailed     = "session.exchange_failed"
	EventLogout             = "session.logout"
	EventIdentityResolved   = "identity.resolved"
	EventStorageUnavailable = "identity.storage_unavailable"
)

// MetricsRecorder increments counters for session events.
type MetricsRecorder interface {
	Increment(event string)
}

type noopMetrics struct{}

func (noopMetrics) Increment(string) {}

// PrometheusMetrics exports session events as highland_session_events_total{event}.
type PrometheusMetrics struct {
	events *prometheus.CounterVec
}

// NewPrometheusMetrics registers the session event counter with registerer.
// A nil registerer uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &PrometheusMetrics{
		events: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Namespace: "highland",
			Subsystem: "session",
			Name:      "events_total",
			Help:      "Session lifecycle events by kind.",
		}, []string{"event"}),
	}
}

// Increment increases the counter for the given event.
func (recorder *PrometheusMetrics) Increment(event string) {
	recorder.events.WithLabelValues(event).Inc()
}
