// Package metrics provides Prometheus metrics for the agent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the agent.
type Metrics struct {
	// Asset metrics
	AssetsUploaded *prometheus.CounterVec
	AssetsSkipped  *prometheus.CounterVec
	UploadBytes    *prometheus.CounterVec

	// Timing metrics
	UploadDuration *prometheus.HistogramVec
	DeployDuration *prometheus.HistogramVec

	// Deployment metrics
	Deployments      *prometheus.CounterVec
	SnapshotsWritten *prometheus.CounterVec

	// Auth/retry metrics
	AuthRefreshes prometheus.Counter
	RetryAttempts *prometheus.CounterVec

	// Cache metrics
	ConfigCacheHits   prometheus.Counter
	ConfigCacheMisses prometheus.Counter
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Address string // Address for metrics HTTP server (e.g., ":9090")
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "zephyr_agent"
	}

	m := &Metrics{
		AssetsUploaded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assets_uploaded_total",
				Help:      "Total number of assets uploaded to the edge",
			},
			[]string{"application_uid"},
		),
		AssetsSkipped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assets_skipped_total",
				Help:      "Total number of assets skipped (already on the edge)",
			},
			[]string{"application_uid"},
		),
		UploadBytes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upload_bytes_total",
				Help:      "Total asset bytes uploaded",
			},
			[]string{"application_uid"},
		),
		UploadDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upload_duration_seconds",
				Help:      "Time to upload a single asset",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			[]string{"application_uid"},
		),
		DeployDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "deploy_duration_seconds",
				Help:      "Total time for one deployment strategy run",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~400s
			},
			[]string{"platform"},
		),
		Deployments: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deployments_total",
				Help:      "Total deployments by platform and status",
			},
			[]string{"platform", "status"},
		),
		SnapshotsWritten: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshots_written_total",
				Help:      "Total snapshot manifests accepted by the edge",
			},
			[]string{"application_uid"},
		),
		AuthRefreshes: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_refreshes_total",
				Help:      "Total interactive or transparent re-authentications",
			},
		),
		RetryAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total upload retries after a credential refresh",
			},
			[]string{"operation"},
		),
		ConfigCacheHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_cache_hits_total",
				Help:      "Application configuration served from cache",
			},
		),
		ConfigCacheMisses: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_cache_misses_total",
				Help:      "Application configuration fetched from the API",
			},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}
