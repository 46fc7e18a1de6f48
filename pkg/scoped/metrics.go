package scoped

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	dispatchSuccess = "success"
	dispatchFailure = "failure"
)

type metrics struct {
	dispatches *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		dispatches: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "simplebox_queue_dispatches_total",
				Help: "Total number of queue sends partitioned by success or failure.",
			},
			[]string{"status"},
		),
	}
}

func (m *metrics) recordDispatch(status string) {
	if m != nil {
		m.dispatches.WithLabelValues(status).Inc()
	}
}
