package pipeline

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is an Observer that exports run counts, failures and per-stage
// latency.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	stages   *prometheus.HistogramVec
}

// NewMetrics registers the pipeline collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docextract",
				Subsystem: "pipeline",
				Name:      "runs_total",
				Help:      "The total number of extraction runs.",
			},
			[]string{"doc_type", "outcome"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docextract",
				Subsystem: "pipeline",
				Name:      "failures_total",
				Help:      "The total number of failed runs by stage and error kind.",
			},
			[]string{"stage", "kind"},
		),
		stages: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "docextract",
				Subsystem: "pipeline",
				Name:      "stage_seconds",
				Help:      "Time spent in each pipeline stage.",
				Buckets:   []float64{.005, .025, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),
	}
	for _, c := range []prometheus.Collector{m.runs, m.failures, m.stages} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) OnStart(ctx context.Context, _ Input) context.Context { return ctx }

func (m *Metrics) OnStage(context.Context, Stage, *Outcome) {}

func (m *Metrics) OnFinish(_ context.Context, out *Outcome) {
	for stage, d := range out.Timings {
		m.stages.WithLabelValues(string(stage)).Observe(d.Seconds())
	}
	if out.Err == nil {
		m.runs.WithLabelValues(string(out.DocType), "ok").Inc()
		return
	}
	m.runs.WithLabelValues(string(out.DocType), "failed").Inc()
	m.failures.WithLabelValues(string(out.FailedStage), string(out.Kind())).Inc()
}
