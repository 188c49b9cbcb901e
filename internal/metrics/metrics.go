// Package metrics defines custom Prometheus metrics for TopicDeck.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// HTTP metrics (RED: Rate, Errors, Duration).
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topicdeck_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency in seconds by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "topicdeck_http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Domain metrics.
var (
	// TopicOperationsTotal counts topic mutations by operation and outcome.
	TopicOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topicdeck_topic_operations_total",
			Help: "Topic operations by type and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// UploadsTotal counts image uploads by outcome.
	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topicdeck_image_uploads_total",
			Help: "Image uploads by outcome",
		},
		[]string{"outcome"},
	)

	// BlobCleanupFailuresTotal counts best-effort blob deletions that failed
	// after a successful metadata change.
	BlobCleanupFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "topicdeck_blob_cleanup_failures_total",
			Help: "Best-effort blob cleanup failures",
		},
	)

	// BusyVisible tracks whether the busy indicator is currently shown.
	BusyVisible = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "topicdeck_busy_visible",
			Help: "Whether the busy indicator is currently visible (0 or 1)",
		},
	)
)

// Register registers all Prometheus collectors with the default registry.
// This must be called explicitly (typically from main) so that metrics
// registration can be made conditional on configuration. It is safe to call
// multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			TopicOperationsTotal,
			UploadsTotal,
			BlobCleanupFailuresTotal,
			BusyVisible,
		)
		// Initialize UploadsTotal so it appears in /metrics output even
		// before any upload has been attempted.
		UploadsTotal.WithLabelValues("ok")
	})
}

// NormalizePath maps actual request paths to normalized path templates
// suitable for use as Prometheus metric labels. This avoids high-cardinality
// labels from individual topic/image ids.
func NormalizePath(path string) string {
	switch path {
	case "/health", "/healthz", "/readyz", "/metrics", "/openapi.json", "/busy":
		return path
	case "/", "":
		return "/"
	}
	if strings.HasPrefix(path, "/docs") {
		return "/docs"
	}

	trimmed := strings.TrimPrefix(path, "/")
	parts := strings.Split(trimmed, "/")
	if parts[0] != "topics" {
		return "/" + parts[0]
	}
	switch len(parts) {
	case 1:
		return "/topics"
	case 2:
		if parts[1] == "watch" {
			return "/topics/watch"
		}
		return "/topics/{id}"
	case 3:
		// /topics/{id}/images or /topics/{id}/reorder
		return "/topics/{id}/" + parts[2]
	default:
		return "/topics/{id}/images/{imageId}"
	}
}
