package applyengine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Metrics instruments Apply/Rollback outcomes and durations.
type Metrics struct {
	ApplyDuration prometheus.Histogram
	ApplyFailures prometheus.Counter
	Rollbacks     prometheus.Counter
}

// NewMetrics registers applyengine's metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		ApplyDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "one_ui_apply_duration_seconds",
			Help:    "Duration of a full generate/write/validate/activate/verify Apply cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		ApplyFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "one_ui_apply_failures_total",
			Help: "Total Apply calls that returned an error.",
		}),
		Rollbacks: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "one_ui_apply_rollbacks_total",
			Help: "Total Rollback calls.",
		}),
	}
}

// WithMetrics attaches a Metrics instance; Apply/Rollback are no-ops on the
// metrics side when this option is never supplied.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer overrides the tracer used for Apply/Rollback spans. Defaults to
// otel.Tracer("one-ui/applyengine") resolved against the global provider, so
// a no-op provider (the default until the composition root installs one)
// costs nothing.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

func defaultTracer() trace.Tracer {
	return otel.Tracer("one-ui/applyengine")
}
