// Package metrics provides Prometheus metrics for the ingestion pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gpuindex"

// Metrics holds all Prometheus collectors
type Metrics struct {
	// Scrape job metrics
	ScrapeJobsTotal      *prometheus.CounterVec
	ScrapeJobDuration    *prometheus.HistogramVec
	ScrapeJobsSkipped    *prometheus.CounterVec
	OffersProcessed      *prometheus.CounterVec
	OffersSkipped        *prometheus.CounterVec
	InstancesDeactivated *prometheus.CounterVec

	// Anomaly metrics
	AnomaliesTotal *prometheus.CounterVec

	// Scheduler metrics
	TasksEnqueued      *prometheus.CounterVec
	ReconcileDuration  prometheus.Histogram
	TriggersRegistered prometheus.Gauge

	// Maintenance
	OrphanJobsSwept    prometheus.Counter
	BackgroundRuns     *prometheus.CounterVec
	BackgroundDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ScrapeJobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scrape_jobs_total",
			Help:      "Finalized scrape jobs by provider and terminal status.",
		}, []string{"provider", "status"}),
		ScrapeJobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scrape_job_duration_seconds",
			Help:      "Scrape job wall time in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"provider"}),
		ScrapeJobsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scrape_jobs_skipped_total",
			Help:      "Scrape requests that did not start a job, by reason.",
		}, []string{"provider", "reason"}),
		OffersProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offers_processed_total",
			Help:      "Offers normalized and written.",
		}, []string{"provider"}),
		OffersSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offers_skipped_total",
			Help:      "Offers rejected during normalization.",
		}, []string{"provider", "reason"}),
		InstancesDeactivated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_deactivated_total",
			Help:      "Instances flipped inactive, by cause.",
		}, []string{"provider", "cause"}),
		AnomaliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_anomalies_total",
			Help:      "Price anomalies recorded.",
		}, []string{"provider", "channel"}),
		TasksEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_tasks_enqueued_total",
			Help:      "Scrape tasks handed to the queue, by trigger.",
		}, []string{"trigger"}),
		ReconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_reconcile_duration_seconds",
			Help:      "Trigger reconciliation duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		TriggersRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_triggers",
			Help:      "Triggers currently registered.",
		}),
		OrphanJobsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphan_jobs_swept_total",
			Help:      "Running jobs finalized as timeout by the sweeper.",
		}),
		BackgroundRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "background_runs_total",
			Help:      "Periodic maintenance runs by job and result.",
		}, []string{"job", "result"}),
		BackgroundDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "background_run_duration_seconds",
			Help:      "Duration of periodic maintenance runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"job"}),
	}

	reg.MustRegister(
		m.ScrapeJobsTotal,
		m.ScrapeJobDuration,
		m.ScrapeJobsSkipped,
		m.OffersProcessed,
		m.OffersSkipped,
		m.InstancesDeactivated,
		m.AnomaliesTotal,
		m.TasksEnqueued,
		m.ReconcileDuration,
		m.TriggersRegistered,
		m.OrphanJobsSwept,
		m.BackgroundRuns,
		m.BackgroundDuration,
	)

	return m
}

// NewNop returns metrics bound to a private registry, for tests and tools
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// ObserveJob records a finalized job
func (m *Metrics) ObserveJob(provider, status string, d time.Duration) {
	m.ScrapeJobsTotal.WithLabelValues(provider, status).Inc()
	m.ScrapeJobDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// ObserveBackgroundRun records one run of a periodic job
func (m *Metrics) ObserveBackgroundRun(job string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.BackgroundRuns.WithLabelValues(job, result).Inc()
	m.BackgroundDuration.WithLabelValues(job).Observe(d.Seconds())
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
