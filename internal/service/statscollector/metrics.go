package statscollector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments the collector updates each tick.
type Metrics struct {
	OnlineUsers  prometheus.Gauge
	TickDuration prometheus.Histogram
	TickFailures prometheus.Counter
}

// NewMetrics creates and registers the collector's metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		OnlineUsers: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "one_ui",
			Subsystem: "stats_collector",
			Name:      "online_users",
			Help:      "Count of users with a positive traffic delta in the last tick.",
		}),
		TickDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "one_ui",
			Subsystem: "stats_collector",
			Name:      "tick_duration_seconds",
			Help:      "Wall-clock duration of a single collection tick.",
			Buckets:   prometheus.DefBuckets,
		}),
		TickFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "one_ui",
			Subsystem: "stats_collector",
			Name:      "tick_failures_total",
			Help:      "Total number of ticks aborted by a top-level failure.",
		}),
	}
}
