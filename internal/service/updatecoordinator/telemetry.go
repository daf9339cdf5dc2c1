package updatecoordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Metrics instruments canary/full/rollback outcomes.
type Metrics struct {
	Outcomes *prometheus.CounterVec
}

// NewMetrics registers the coordinator's metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Outcomes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "one_ui_update_outcomes_total",
			Help: "Total canary/full/rollback runs by phase and outcome.",
		}, []string{"phase", "outcome"}),
	}
}

func defaultTracer() trace.Tracer {
	return otel.Tracer("one-ui/updatecoordinator")
}

// SetMetrics attaches m, enabling the outcome counter. Safe to call once
// before the coordinator starts serving requests.
func (c *Coordinator) SetMetrics(m *Metrics) { c.metrics = m }

// SetTracer overrides the tracer used for canary/full/rollback spans,
// normally left at the otel global-provider default.
func (c *Coordinator) SetTracer(tracer trace.Tracer) { c.tracer = tracer }

func (c *Coordinator) recordOutcome(phase Phase, outcome string) {
	if c.metrics == nil {
		return
	}
	c.metrics.Outcomes.WithLabelValues(string(phase), outcome).Inc()
}
