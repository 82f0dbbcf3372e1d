package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"CompanyResearcher/internal/domain"
	"CompanyResearcher/internal/pipeline"
	"CompanyResearcher/internal/usecase"
)

const namespace = "company_researcher"

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	jobTransitions *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	stageFailures  *prometheus.CounterVec
	documentsKept  *prometheus.CounterVec
}

var (
	_ pipeline.StageObserver = (*Metrics)(nil)
	_ usecase.JobObserver    = (*Metrics)(nil)
)

// New registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		jobTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_transitions_total",
			Help:      "Job status transitions by target status.",
		}, []string{"status"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of pipeline stages.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"stage"}),
		stageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Stages that finished with a diagnostic.",
		}, []string{"stage"}),
		documentsKept: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "curated_documents_total",
			Help:      "Documents retained by curation.",
		}, []string{"category", "source_kind"}),
	}
}

// ObserveStage records one finished stage.
func (m *Metrics) ObserveStage(stage string, elapsed time.Duration, ok bool) {
	m.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	if !ok {
		m.stageFailures.WithLabelValues(stage).Inc()
	}
}

// JobChanged counts transitions.
func (m *Metrics) JobChanged(_ context.Context, job domain.Job) {
	m.jobTransitions.WithLabelValues(string(job.Status)).Inc()
}

// WatchJobs exports the registry's per-status job counts as gauges, sampled on scrape.
func (m *Metrics) WatchJobs(registry *usecase.Registry) {
	for _, status := range []domain.JobStatus{domain.JobQueued, domain.JobRunning, domain.JobCompleted, domain.JobFailed} {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "jobs",
			Help:        "Jobs held in memory by status.",
			ConstLabels: prometheus.Labels{"status": string(status)},
		}, func() float64 {
			return float64(registry.CountByStatus()[status])
		}))
	}
}

// DocumentKept is a curator observer.
func (m *Metrics) DocumentKept(doc domain.Document) {
	m.documentsKept.WithLabelValues(string(doc.Category), string(doc.SourceKind)).Inc()
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
