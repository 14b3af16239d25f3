package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics carries the process-wide collectors. It is constructed once in
// main and passed into the components that record to it.
type Metrics struct {
	Registry *prometheus.Registry

	JobsEnqueued  *prometheus.CounterVec
	JobsCompleted *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec

	ProviderCalls   *prometheus.CounterVec
	ProviderErrors  *prometheus.CounterVec
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	BlobsWritten    prometheus.Counter
	AssetsPublished prometheus.Counter
	NFOsPublished   prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		JobsEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "metarr_jobs_enqueued_total",
			Help: "Jobs added to the queue, by type.",
		}, []string{"type"}),
		JobsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "metarr_jobs_completed_total",
			Help: "Jobs that finished successfully, by type.",
		}, []string{"type"}),
		JobsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "metarr_jobs_failed_total",
			Help: "Jobs that reached failed or dead state, by type.",
		}, []string{"type"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "metarr_job_duration_seconds",
			Help:    "Handler wall time, by type.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"type"}),
		ProviderCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "metarr_provider_calls_total",
			Help: "Outbound provider API calls, by provider.",
		}, []string{"provider"}),
		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "metarr_provider_errors_total",
			Help: "Failed provider API calls, by provider and kind.",
		}, []string{"provider", "kind"}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "metarr_provider_cache_hits_total",
			Help: "Provider fetches served from the cached record.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "metarr_provider_cache_misses_total",
			Help: "Provider fetches that went to the network.",
		}),
		BlobsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "metarr_blobs_written_total",
			Help: "Blobs written into the content-addressed cache.",
		}),
		AssetsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "metarr_assets_published_total",
			Help: "Asset files deployed into libraries.",
		}),
		NFOsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "metarr_nfos_published_total",
			Help: "Sidecar files deployed into libraries.",
		}),
	}
}
