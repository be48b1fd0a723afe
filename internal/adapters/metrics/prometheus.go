// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements the MetricsCollector port using Prometheus.
type Collector struct {
	tilesDownloaded     *prometheus.CounterVec
	tilesFailed         *prometheus.CounterVec
	tilesRetried        *prometheus.CounterVec
	tilesSkipped        *prometheus.CounterVec
	fetchDuration       *prometheus.HistogramVec
	downloadDuration    *prometheus.HistogramVec
	activeDownloads     prometheus.Gauge
	packagesOpen        prometheus.Gauge
	packageTileReads    *prometheus.CounterVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector creates a new Prometheus metrics collector.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "tern"
	}

	return &Collector{
		tilesDownloaded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tiles_downloaded_total",
				Help:      "Tiles fetched and stored during bulk downloads",
			},
			[]string{"layer"},
		),

		tilesFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tiles_failed_total",
				Help:      "Tiles that failed every fetch attempt",
			},
			[]string{"layer"},
		),

		tilesRetried: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tiles_retried_total",
				Help:      "Tiles entering the retry pass",
			},
			[]string{"layer"},
		),

		tilesSkipped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tiles_skipped_total",
				Help:      "Tiles skipped because they were already cached",
			},
			[]string{"layer"},
		),

		fetchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Single tile fetch duration by outcome path",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),

		downloadDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "download_duration_seconds",
				Help:      "Whole bulk download run duration",
				Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"layer", "success"},
		),

		activeDownloads: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_downloads",
				Help:      "Currently pending or running download tasks",
			},
		),

		packagesOpen: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "packages_open",
				Help:      "Resident package database handles",
			},
		),

		packageTileReads: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "package_tile_reads_total",
				Help:      "Tile reads from package files",
			},
			[]string{"file_id", "hit"},
		),

		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// IncTilesDownloaded implements MetricsCollector.
func (c *Collector) IncTilesDownloaded(layerID string) {
	c.tilesDownloaded.WithLabelValues(layerID).Inc()
}

// AddTilesFailed implements MetricsCollector.
func (c *Collector) AddTilesFailed(layerID string, n int) {
	c.tilesFailed.WithLabelValues(layerID).Add(float64(n))
}

// AddTilesRetried implements MetricsCollector.
func (c *Collector) AddTilesRetried(layerID string, n int) {
	c.tilesRetried.WithLabelValues(layerID).Add(float64(n))
}

// AddTilesSkipped implements MetricsCollector.
func (c *Collector) AddTilesSkipped(layerID string, n int) {
	c.tilesSkipped.WithLabelValues(layerID).Add(float64(n))
}

// ObserveFetchDuration implements MetricsCollector.
func (c *Collector) ObserveFetchDuration(outcome string, duration time.Duration) {
	c.fetchDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveDownloadDuration implements MetricsCollector.
func (c *Collector) ObserveDownloadDuration(layerID string, success bool, duration time.Duration) {
	c.downloadDuration.WithLabelValues(layerID, strconv.FormatBool(success)).Observe(duration.Seconds())
}

// SetActiveDownloads implements MetricsCollector.
func (c *Collector) SetActiveDownloads(count int) {
	c.activeDownloads.Set(float64(count))
}

// SetPackagesOpen implements MetricsCollector.
func (c *Collector) SetPackagesOpen(count int) {
	c.packagesOpen.Set(float64(count))
}

// IncPackageTileReads implements MetricsCollector.
func (c *Collector) IncPackageTileReads(fileID string, hit bool) {
	c.packageTileReads.WithLabelValues(fileID, strconv.FormatBool(hit)).Inc()
}

// IncHTTPRequests increments the HTTP request counter.
func (c *Collector) IncHTTPRequests(method, path, status string) {
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// ObserveHTTPDuration records HTTP request duration.
func (c *Collector) ObserveHTTPDuration(method, path string, duration time.Duration) {
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns HTTP middleware for request metrics.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		path := normalizePath(r.URL.Path)
		status := statusToString(wrapped.statusCode)

		c.IncHTTPRequests(r.Method, path, status)
		c.ObserveHTTPDuration(r.Method, path, duration)
	})
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// normalizePath caps path length to keep label cardinality bounded.
func normalizePath(path string) string {
	if len(path) > 20 {
		return path[:20] + "..."
	}
	return path
}

// statusToString converts HTTP status code to string category.
func statusToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
