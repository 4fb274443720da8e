package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/brunobiangulo/goecl/trace"
)

// Metrics holds the Prometheus collectors updated after every run. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Runs           prometheus.Counter
	RunDuration    prometheus.Histogram
	ExpertRuns     *prometheus.CounterVec
	ExpertDuration *prometheus.HistogramVec
	Entities       *prometheus.CounterVec
	Fallbacks      *prometheus.CounterVec
	Warnings       prometheus.Counter
	PersistErrors  prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered, which is convenient in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Runs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goecl_pipeline_runs_total",
			Help: "Total number of pipeline runs",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "goecl_pipeline_duration_seconds",
			Help:    "Wall-clock time of a pipeline run",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		ExpertRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "goecl_expert_runs_total",
			Help: "Expert invocations by outcome",
		}, []string{"expert", "outcome"}),
		ExpertDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "goecl_expert_duration_seconds",
			Help:    "Processing time of one expert invocation",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"expert"}),
		Entities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "goecl_entities_total",
			Help: "Entities by gate disposition",
		}, []string{"expert", "disposition"}),
		Fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "goecl_fallbacks_total",
			Help: "Runs in which an expert's fallback result was used",
		}, []string{"expert"}),
		Warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goecl_pipeline_warnings_total",
			Help: "Expert failures recorded as pipeline warnings",
		}),
		PersistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goecl_trace_persist_errors_total",
			Help: "Pipeline traces that could not be written",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Runs, m.RunDuration, m.ExpertRuns, m.ExpertDuration,
			m.Entities, m.Fallbacks, m.Warnings, m.PersistErrors)
	}
	return m
}

// Observe records a finished pipeline trace.
func (m *Metrics) Observe(p *trace.PipelineTrace) {
	if m == nil || p == nil {
		return
	}
	m.Runs.Inc()
	m.RunDuration.Observe(p.TotalTimeMs / 1000)
	m.Warnings.Add(float64(len(p.Warnings)))
	for _, t := range p.ExpertTraces {
		outcome := "ok"
		if t.Failed() {
			outcome = "failed"
		}
		m.ExpertRuns.WithLabelValues(t.ExpertName, outcome).Inc()
		m.ExpertDuration.WithLabelValues(t.ExpertName).Observe(t.ProcessingTimeMs / 1000)
		m.Entities.WithLabelValues(t.ExpertName, "accepted").Add(float64(t.EntitiesExtracted))
		m.Entities.WithLabelValues(t.ExpertName, "rejected").Add(float64(t.EntitiesRejected))
		m.Entities.WithLabelValues(t.ExpertName, "hallucinated").Add(float64(t.EntitiesHallucinated))
		if t.FallbackUsed {
			m.Fallbacks.WithLabelValues(t.ExpertName).Inc()
		}
	}
}

func (m *Metrics) persistFailed() {
	if m != nil {
		m.PersistErrors.Inc()
	}
}
