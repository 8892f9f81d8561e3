package orchestrator

import (
	"time"

	"github.com/fyrsmithlabs/autopilot/internal/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the orchestrator. A nil
// *Metrics records nothing.
type Metrics struct {
	runs          *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	active        prometheus.Gauge
}

// NewMetrics registers the orchestrator collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "autopilot",
				Subsystem: "workflow",
				Name:      "runs_total",
				Help:      "Total number of finished workflow runs",
			},
			[]string{"type", "status"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "autopilot",
				Subsystem: "stage",
				Name:      "duration_seconds",
				Help:      "Duration of executed workflow stages",
				Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"stage", "outcome"},
		),
		active: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "autopilot",
				Subsystem: "workflow",
				Name:      "runs_active",
				Help:      "Number of workflow runs currently executing",
			},
		),
	}
}

func (m *Metrics) runStarted() {
	if m == nil {
		return
	}
	m.active.Inc()
}

func (m *Metrics) runFinished(typ workflow.Type, status workflow.Status, executed bool) {
	if m == nil {
		return
	}
	if executed {
		m.active.Dec()
	}
	m.runs.WithLabelValues(string(typ), string(status)).Inc()
}

func (m *Metrics) observeStage(res workflow.StageResult, elapsed time.Duration) {
	if m == nil || res.Skipped {
		return
	}
	m.stageDuration.WithLabelValues(string(res.Name), res.Outcome()).Observe(elapsed.Seconds())
}
