package credcache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// EventTypeHit is recorded when a cached client is returned as is.
	EventTypeHit = "cache_hit"
	// EventTypeMiss is recorded when a client request has to wait for a refresh.
	EventTypeMiss = "cache_miss"
	// StatusSuccess is the status for successful refreshes.
	StatusSuccess = "success"
	// StatusFailure is the status for failed refreshes.
	StatusFailure = "failure"
)

// Metrics holds the collectors shared by every Cache of a process. A nil
// *Metrics records nothing.
type Metrics struct {
	clientEvents    *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	refreshDuration *prometheus.HistogramVec
	expiry          *prometheus.GaugeVec
}

// NewMetrics creates the credential cache collectors and registers them with reg.
// A nil reg creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		clientEvents: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "simplebox_credential_client_events_total",
				Help: "Total number of client requests partitioned by cache hit or miss.",
			},
			[]string{"service", "event_type"},
		),
		refreshes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "simplebox_credential_refreshes_total",
				Help: "Total number of role assumptions partitioned by success or failure.",
			},
			[]string{"service", "status"},
		),
		refreshDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "simplebox_credential_refresh_duration_seconds",
				Help:    "Latency of role assumption plus client construction.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		expiry: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "simplebox_credential_expiry_timestamp_seconds",
				Help: "Unix time at which the live credentials of a service expire.",
			},
			[]string{"service"},
		),
	}
}

func (m *Metrics) recordClientEvent(service ServiceName, event string) {
	if m != nil {
		m.clientEvents.WithLabelValues(string(service), event).Inc()
	}
}

func (m *Metrics) recordRefresh(service ServiceName, status string, elapsed time.Duration) {
	if m != nil {
		m.refreshes.WithLabelValues(string(service), status).Inc()
		m.refreshDuration.WithLabelValues(string(service)).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) setExpiry(service ServiceName, expiresAt time.Time) {
	if m != nil {
		m.expiry.WithLabelValues(string(service)).Set(float64(expiresAt.Unix()))
	}
}
