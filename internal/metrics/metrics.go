// Package metrics holds the Prometheus collectors of the engine. A nil
// *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the engine.
type Metrics struct {
	// Worker pools
	PoolInFlight *prometheus.GaugeVec     // mediakeeper_pool_in_flight{pool}
	PoolWait     *prometheus.HistogramVec // mediakeeper_pool_wait_seconds{pool}
	PoolRejected *prometheus.CounterVec   // mediakeeper_pool_rejected_total{pool}

	// Jobs
	JobsTotal   *prometheus.CounterVec   // mediakeeper_jobs_total{type,status}
	JobDuration *prometheus.HistogramVec // mediakeeper_job_duration_seconds{type}
	JobsRunning *prometheus.GaugeVec     // mediakeeper_jobs_running{domain}

	// Remote store
	RemoteRequests  *prometheus.CounterVec // mediakeeper_remote_requests_total{operation,status}
	RemoteRetries   *prometheus.CounterVec // mediakeeper_remote_retries_total{operation}
	BytesUploaded   prometheus.Counter     // mediakeeper_remote_bytes_uploaded_total
	BytesDownloaded prometheus.Counter     // mediakeeper_remote_bytes_downloaded_total

	// Reconciliation
	Reconciliations *prometheus.CounterVec // mediakeeper_reconcile_total{operation,status}
	SnapshotBytes   prometheus.Gauge       // mediakeeper_snapshot_bytes
	CatalogEntries  *prometheus.GaugeVec   // mediakeeper_catalog_entries{location}
}

// New registers all collectors with registry. A nil registry uses the
// default registerer. Registering twice on the same registry panics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	f := promauto.With(registry)

	return &Metrics{
		PoolInFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mediakeeper_pool_in_flight",
			Help: "Blocking calls currently holding a pool slot",
		}, []string{"pool"}),
		PoolWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mediakeeper_pool_wait_seconds",
			Help:    "Time spent waiting for a pool slot",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"pool"}),
		PoolRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mediakeeper_pool_rejected_total",
			Help: "Calls that gave up waiting for a pool slot",
		}, []string{"pool"}),

		JobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mediakeeper_jobs_total",
			Help: "Jobs that reached a terminal status",
		}, []string{"type", "status"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mediakeeper_job_duration_seconds",
			Help:    "Job run time from start to terminal status",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"type"}),
		JobsRunning: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mediakeeper_jobs_running",
			Help: "Job bodies currently running per domain",
		}, []string{"domain"}),

		RemoteRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mediakeeper_remote_requests_total",
			Help: "Remote store calls by operation and status",
		}, []string{"operation", "status"}),
		RemoteRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mediakeeper_remote_retries_total",
			Help: "Retried remote store calls by operation",
		}, []string{"operation"}),
		BytesUploaded: f.NewCounter(prometheus.CounterOpts{
			Name: "mediakeeper_remote_bytes_uploaded_total",
			Help: "Total bytes uploaded to the remote store",
		}),
		BytesDownloaded: f.NewCounter(prometheus.CounterOpts{
			Name: "mediakeeper_remote_bytes_downloaded_total",
			Help: "Total bytes downloaded from the remote store",
		}),

		Reconciliations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mediakeeper_reconcile_total",
			Help: "Import, publish and rebuild runs by status",
		}, []string{"operation", "status"}),
		SnapshotBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "mediakeeper_snapshot_bytes",
			Help: "Size of the last imported or published snapshot",
		}),
		CatalogEntries: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mediakeeper_catalog_entries",
			Help: "Catalog entries per location at the last status read",
		}, []string{"location"}),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// PoolAcquired records a granted slot and the time spent waiting for it.
func (m *Metrics) PoolAcquired(pool string, waited time.Duration) {
	if m == nil {
		return
	}
	m.PoolInFlight.WithLabelValues(pool).Inc()
	m.PoolWait.WithLabelValues(pool).Observe(waited.Seconds())
}

// PoolReleased records a returned slot.
func (m *Metrics) PoolReleased(pool string) {
	if m == nil {
		return
	}
	m.PoolInFlight.WithLabelValues(pool).Dec()
}

// PoolRejectedCall records a caller that gave up waiting.
func (m *Metrics) PoolRejectedCall(pool string) {
	if m == nil {
		return
	}
	m.PoolRejected.WithLabelValues(pool).Inc()
}

// JobStarted and JobFinished bracket a running job body.
func (m *Metrics) JobStarted(domain string) {
	if m == nil {
		return
	}
	m.JobsRunning.WithLabelValues(domain).Inc()
}

func (m *Metrics) JobFinished(domain, jobType, jobStatus string, took time.Duration) {
	if m == nil {
		return
	}
	m.JobsRunning.WithLabelValues(domain).Dec()
	m.JobsTotal.WithLabelValues(jobType, jobStatus).Inc()
	m.JobDuration.WithLabelValues(jobType).Observe(took.Seconds())
}

// RemoteCall records one remote store call.
func (m *Metrics) RemoteCall(operation string, err error) {
	if m == nil {
		return
	}
	m.RemoteRequests.WithLabelValues(operation, status(err)).Inc()
}

// RemoteRetry records one retry of an idempotent remote call.
func (m *Metrics) RemoteRetry(operation string) {
	if m == nil {
		return
	}
	m.RemoteRetries.WithLabelValues(operation).Inc()
}

// RecordUpload records bytes uploaded.
func (m *Metrics) RecordUpload(bytes int64) {
	if m == nil {
		return
	}
	m.BytesUploaded.Add(float64(bytes))
}

// RecordDownload records bytes downloaded.
func (m *Metrics) RecordDownload(bytes int64) {
	if m == nil {
		return
	}
	m.BytesDownloaded.Add(float64(bytes))
}

// Reconciled records one import, publish or rebuild.
func (m *Metrics) Reconciled(operation string, snapshotBytes int, err error) {
	if m == nil {
		return
	}
	m.Reconciliations.WithLabelValues(operation, status(err)).Inc()
	if err == nil && snapshotBytes > 0 {
		m.SnapshotBytes.Set(float64(snapshotBytes))
	}
}

// SetCatalogCounts updates the per-location entry gauges.
func (m *Metrics) SetCatalogCounts(local, remote int) {
	if m == nil {
		return
	}
	m.CatalogEntries.WithLabelValues("local").Set(float64(local))
	m.CatalogEntries.WithLabelValues("remote").Set(float64(remote))
}
