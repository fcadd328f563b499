// Package observability provides Prometheus metrics for the application.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dvzoll"

// Metrics holds all application metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Attempt metrics
	AttemptsStarted    *prometheus.CounterVec
	AttemptsFinished   *prometheus.CounterVec
	AttemptsInProgress prometheus.Gauge
	AttemptDuration    prometheus.Histogram
	StaleEventsDropped prometheus.Counter

	// History metrics
	RecordsCreated    prometheus.Counter
	RecordsFinished   *prometheus.CounterVec
	RecordsProcessing prometheus.Gauge
	RateLimited       prometheus.Counter
	CleanupRecords    prometheus.Counter

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Downloader metrics
	DownloaderRequestsTotal *prometheus.CounterVec
	DownloaderErrors        *prometheus.CounterVec
	ToolsInstalled          *prometheus.GaugeVec

	// Proxy metrics
	ProxyRequestsTotal *prometheus.CounterVec
	ProxyFailures      *prometheus.CounterVec
	ProxiesAvailable   prometheus.Gauge

	// Outbound metadata lookups
	MetadataLookups *prometheus.CounterVec
}

// New creates all application metrics on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		AttemptsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "attempts",
			Name:      "started_total",
			Help:      "Total number of download attempts started",
		}, []string{"kind", "source"}),
		AttemptsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "attempts",
			Name:      "finished_total",
			Help:      "Total number of download attempts that reached a terminal state",
		}, []string{"kind", "status"}),
		AttemptsInProgress: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "attempts",
			Name:      "in_progress",
			Help:      "Number of attempts currently running",
		}),
		AttemptDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "attempts",
			Name:      "duration_seconds",
			Help:      "Histogram of attempt duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		StaleEventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "attempts",
			Name:      "stale_events_dropped_total",
			Help:      "Progress events dropped because their attempt was replaced",
		}),

		RecordsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "records_created_total",
			Help:      "Total number of history records accepted",
		}),
		RecordsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "records_finished_total",
			Help:      "Total number of history records processed, by final status",
		}, []string{"status"}),
		RecordsProcessing: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "records_processing",
			Help:      "Number of history records being processed",
		}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "rate_limited_total",
			Help:      "Total number of submissions rejected by the rate limit",
		}),
		CleanupRecords: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "cleanup_records_total",
			Help:      "Total number of expired history records removed",
		}),

		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Histogram of HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		DownloaderRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "downloader",
			Name:      "requests_total",
			Help:      "Total number of downloader invocations",
		}, []string{"downloader"}),
		DownloaderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "downloader",
			Name:      "errors_total",
			Help:      "Total number of downloader errors",
		}, []string{"downloader"}),
		ToolsInstalled: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tools",
			Name:      "installed",
			Help:      "1 when the external tool answered its version probe",
		}, []string{"tool"}),

		ProxyRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Downloader invocations routed through a proxy",
		}, []string{"proxy"}),
		ProxyFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "failures_total",
			Help:      "Failed downloads and health checks per proxy",
		}, []string{"proxy"}),
		ProxiesAvailable: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "available",
			Help:      "Number of proxies not cooling down",
		}),

		MetadataLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "metadata",
			Name:      "lookups_total",
			Help:      "Outbound metadata lookups by outcome",
		}, []string{"outcome"}),
	}
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Record* helpers are nil-safe so components can run without metrics.

// RecordHTTPRequest records an HTTP request metric.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordTool sets the installed gauge of tool.
func (m *Metrics) RecordTool(tool string, installed bool) {
	if m == nil {
		return
	}

	v := 0.0
	if installed {
		v = 1
	}

	m.ToolsInstalled.WithLabelValues(tool).Set(v)
}

// RecordAttemptStarted counts a started attempt.
func (m *Metrics) RecordAttemptStarted(kind, source string) {
	if m == nil {
		return
	}

	m.AttemptsStarted.WithLabelValues(kind, source).Inc()
	m.AttemptsInProgress.Inc()
}

// RecordAttemptFinished counts an attempt that reached status after elapsed.
func (m *Metrics) RecordAttemptFinished(kind, status string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.AttemptsFinished.WithLabelValues(kind, status).Inc()
	m.AttemptsInProgress.Dec()
	m.AttemptDuration.Observe(elapsed.Seconds())
}

// RecordAttemptAbandoned releases the in-progress gauge of a cancelled attempt.
func (m *Metrics) RecordAttemptAbandoned() {
	if m == nil {
		return
	}

	m.AttemptsInProgress.Dec()
}

// RecordStaleEvent counts an event dropped for a replaced attempt.
func (m *Metrics) RecordStaleEvent() {
	if m == nil {
		return
	}

	m.StaleEventsDropped.Inc()
}

// RecordRecordCreated counts an accepted history record.
func (m *Metrics) RecordRecordCreated() {
	if m == nil {
		return
	}

	m.RecordsCreated.Inc()
}

// RecordTimer marks a record as processing and returns a function recording its final status.
func (m *Metrics) RecordTimer() func(status string) {
	if m == nil {
		return func(string) {}
	}

	m.RecordsProcessing.Inc()

	return func(status string) {
		m.RecordsProcessing.Dec()
		m.RecordsFinished.WithLabelValues(status).Inc()
	}
}

// RecordRateLimited counts a rejected submission.
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}

	m.RateLimited.Inc()
}

// RecordCleanup counts removed records.
func (m *Metrics) RecordCleanup(records int) {
	if m == nil {
		return
	}

	m.CleanupRecords.Add(float64(records))
}

// RecordDownloaderRequest counts a downloader invocation.
func (m *Metrics) RecordDownloaderRequest(downloader string) {
	if m == nil {
		return
	}

	m.DownloaderRequestsTotal.WithLabelValues(downloader).Inc()
}

// RecordDownloaderError counts a failed downloader invocation.
func (m *Metrics) RecordDownloaderError(downloader string) {
	if m == nil {
		return
	}

	m.DownloaderErrors.WithLabelValues(downloader).Inc()
}

// RecordProxyRequest counts a download routed through proxy.
func (m *Metrics) RecordProxyRequest(proxy string) {
	if m == nil {
		return
	}

	m.ProxyRequestsTotal.WithLabelValues(proxy).Inc()
}

// RecordProxyFailure counts a failure attributed to proxy.
func (m *Metrics) RecordProxyFailure(proxy string) {
	if m == nil {
		return
	}

	m.ProxyFailures.WithLabelValues(proxy).Inc()
}

// SetProxiesAvailable sets the number of usable proxies.
func (m *Metrics) SetProxiesAvailable(n int) {
	if m == nil {
		return
	}

	m.ProxiesAvailable.Set(float64(n))
}

// RecordMetadataLookup counts an outbound metadata lookup by outcome.
func (m *Metrics) RecordMetadataLookup(outcome string) {
	if m == nil {
		return
	}

	m.MetadataLookups.WithLabelValues(outcome).Inc()
}
