package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

// Outcome labels for the operations counter. A key miss is a normal store
// answer, so it never lands in the failure series.
const (
	outcomeSuccess = "success"
	outcomeMiss    = "miss"
	outcomeFailure = "failure"
)

// PromMetrics exposes envelope accounting as prometheus collectors.
type PromMetrics struct {
	operations *prometheus.CounterVec
	fallback   prometheus.Counter
	state      prometheus.Gauge
}

// NewPromMetrics builds the collectors and registers them with reg. A nil
// registerer produces unregistered collectors, which tests use to avoid
// polluting the default registry.
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	factory := promauto.With(reg)
	return &PromMetrics{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cache_layer",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Store operations attempted through the resilience envelope.",
		}, []string{"op", "outcome"}),
		fallback: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cache_layer",
			Subsystem: "store",
			Name:      "fallback_hits_total",
			Help:      "Reads served from the in-process fallback cache.",
		}),
		state: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "cache_layer",
			Subsystem: "store",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open).",
		}),
	}
}

func (m *PromMetrics) observe(op, outcome string) {
	m.operations.WithLabelValues(op, outcome).Inc()
}

func (m *PromMetrics) fallbackHit() {
	m.fallback.Inc()
}

func (m *PromMetrics) setState(state gobreaker.State) {
	switch state {
	case gobreaker.StateClosed:
		m.state.Set(0)
	case gobreaker.StateHalfOpen:
		m.state.Set(1)
	case gobreaker.StateOpen:
		m.state.Set(2)
	}
}
