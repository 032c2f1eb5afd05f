package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the API and worker flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	rowsGeocodedTotal    *prometheus.CounterVec
	batchesFinishedTotal *prometheus.CounterVec
	geocodeDuration      *prometheus.HistogramVec
	rowRetriesTotal      *prometheus.CounterVec
	quotaRejectedTotal   *prometheus.CounterVec
	workerInflight       prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "geobatch",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "geobatch",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		rowsGeocodedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "geobatch",
				Name:      "rows_geocoded_total",
				Help:      "Total number of batch rows processed by outcome.",
			},
			[]string{"status"},
		),
		batchesFinishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "geobatch",
				Name:      "batches_finished_total",
				Help:      "Total number of batch jobs reaching a terminal state.",
			},
			[]string{"status"},
		),
		geocodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "geobatch",
				Name:      "geocode_duration_seconds",
				Help:      "Geocoding provider call duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		rowRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "geobatch",
				Name:      "row_retries_total",
				Help:      "Total number of transient geocode failures scheduled for retry.",
			},
			[]string{"provider"},
		),
		quotaRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "geobatch",
				Name:      "quota_rejected_total",
				Help:      "Total number of requests rejected by the usage ledger pre-check.",
			},
			[]string{"operation"},
		),
		workerInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "geobatch",
				Name:      "worker_rows_inflight",
				Help:      "Number of rows currently being geocoded.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.rowsGeocodedTotal,
		m.batchesFinishedTotal,
		m.geocodeDuration,
		m.rowRetriesTotal,
		m.quotaRejectedTotal,
		m.workerInflight,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncRowGeocoded(status string) {
	if m == nil {
		return
	}
	m.rowsGeocodedTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) IncBatchFinished(status string) {
	if m == nil {
		return
	}
	m.batchesFinishedTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) ObserveGeocodeDuration(provider string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.geocodeDuration.WithLabelValues(normalizeLabel(provider)).Observe(seconds)
}

func (m *Metrics) IncRowRetry(provider string) {
	if m == nil {
		return
	}
	m.rowRetriesTotal.WithLabelValues(normalizeLabel(provider)).Inc()
}

func (m *Metrics) IncQuotaRejected(operation string) {
	if m == nil {
		return
	}
	m.quotaRejectedTotal.WithLabelValues(normalizeLabel(operation)).Inc()
}

func (m *Metrics) IncWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Inc()
}

func (m *Metrics) DecWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Dec()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
