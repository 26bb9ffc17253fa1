package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the daemon's collectors on a private registry so tests and
// multiple managers in one process never collide.
type Metrics struct {
	registry *prometheus.Registry

	JobsEnqueued        *prometheus.CounterVec
	JobsRejected        *prometheus.CounterVec
	JobsFinished        *prometheus.CounterVec
	StageRetries        *prometheus.CounterVec
	StageDuration       *prometheus.HistogramVec
	PersistenceFailures prometheus.Counter
	CancellationTimeout prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		JobsEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "iencode_jobs_enqueued_total",
			Help: "Jobs accepted into a lane",
		}, []string{"lane"}),
		JobsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "iencode_jobs_rejected_total",
			Help: "Enqueue requests rejected before reaching a lane",
		}, []string{"reason"}),
		JobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "iencode_jobs_finished_total",
			Help: "Jobs finalized by terminal status",
		}, []string{"status"}),
		StageRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "iencode_stage_retries_total",
			Help: "Retried stage attempts after transient failures",
		}, []string{"stage"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "iencode_stage_duration_seconds",
			Help:    "Wall time spent per pipeline stage",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"stage"}),
		PersistenceFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "iencode_persistence_failures_total",
			Help: "Job writes that failed after every retry",
		}),
		CancellationTimeout: factory.NewCounter(prometheus.CounterOpts{
			Name: "iencode_cancellation_timeouts_total",
			Help: "Cancelled stages whose collaborator outlived the grace window",
		}),
	}
}

// QueueSource exposes live queue state for gauges.
type QueueSource interface {
	LaneDepths() map[string]int
	PoolSize() int
	PoolBusy() int
}

// RegisterQueue adds gauges that sample src on every scrape.
func (m *Metrics) RegisterQueue(src QueueSource, lanes []string) {
	factory := promauto.With(m.registry)
	for _, lane := range lanes {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "iencode_queue_depth",
			Help:        "Queued jobs per lane",
			ConstLabels: prometheus.Labels{"lane": lane},
		}, func() float64 { return float64(src.LaneDepths()[lane]) })
	}
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "iencode_worker_slots",
		Help: "Configured worker slots",
	}, func() float64 { return float64(src.PoolSize()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "iencode_worker_slots_busy",
		Help: "Worker slots bound to a running job",
	}, func() float64 { return float64(src.PoolBusy()) })
}

// RegisterCounterFunc exposes an externally maintained counter such as the
// progress reporter's drop count.
func (m *Metrics) RegisterCounterFunc(name, help string, fn func() float64) {
	promauto.With(m.registry).NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help}, fn)
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
