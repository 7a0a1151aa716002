package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "balance_tracer_"

	resultSuccess     = "success"
	resultError       = "error"
	resultParseError  = "parse_error"
	resultStoreError  = "store_error"
	resultUnsupported = "unsupported"
)

var (
	registerOnce sync.Once

	totalBalanceRequests *prometheus.CounterVec
	totalBalanceLatency  *prometheus.HistogramVec

	storeReadTotal   *prometheus.CounterVec
	storeReadLatency *prometheus.HistogramVec

	seriesPerRequest    prometheus.Histogram
	missingSeriesTotal  prometheus.Counter
	exportRenderLatency *prometheus.HistogramVec
)

// Init registers observability metrics and DB-backed gauges.
// db may be nil for stores that are not SQL-backed.
func Init(db *sql.DB, backend string, logger *zap.Logger) {
	registerOnce.Do(func() {
		totalBalanceRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "total_balance_requests_total",
				Help: "Total balance requests by format and result",
			},
			[]string{"format", "result"},
		)
		totalBalanceLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "total_balance_latency_seconds",
				Help:    "Total balance request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		storeReadTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "store_reads_total",
				Help: "Balance store reads by backend and result",
			},
			[]string{"backend", "result"},
		)
		storeReadLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "store_read_latency_seconds",
				Help:    "Balance store read latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		)

		seriesPerRequest = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "series_per_request",
				Help:    "Tracked series aggregated per request",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		)
		missingSeriesTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "missing_series_total",
				Help: "Series without a balance record as of the requested moment",
			},
		)
		exportRenderLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "export_render_latency_seconds",
				Help:    "Aggregate export render latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format"},
		)

		prometheus.MustRegister(
			totalBalanceRequests,
			totalBalanceLatency,
			storeReadTotal,
			storeReadLatency,
			seriesPerRequest,
			missingSeriesTotal,
			exportRenderLatency,
		)

		if db != nil {
			registerDBMetrics(db, backend, logger)
		}
	})
}

// ObserveTotalBalance records a balance request outcome.
func ObserveTotalBalance(format, result string, duration time.Duration) {
	if format == "" {
		format = "json"
	}
	if result == "" {
		result = resultSuccess
	}
	if totalBalanceRequests != nil {
		totalBalanceRequests.WithLabelValues(format, result).Inc()
	}
	if totalBalanceLatency != nil {
		totalBalanceLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveStoreRead records a store read against a backend.
func ObserveStoreRead(backend, result string, duration time.Duration) {
	if backend == "" {
		backend = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if storeReadTotal != nil {
		storeReadTotal.WithLabelValues(backend, result).Inc()
	}
	if storeReadLatency != nil {
		storeReadLatency.WithLabelValues(backend).Observe(duration.Seconds())
	}
}

// ObserveSeries records how many series a request aggregated and how many were missing.
func ObserveSeries(total, missing int) {
	if seriesPerRequest != nil {
		seriesPerRequest.Observe(float64(total))
	}
	if missing > 0 && missingSeriesTotal != nil {
		missingSeriesTotal.Add(float64(missing))
	}
}

// ObserveExportRender records how long an export took to render.
func ObserveExportRender(format string, duration time.Duration) {
	if exportRenderLatency != nil {
		exportRenderLatency.WithLabelValues(format).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess     = resultSuccess
	ResultError       = resultError
	ResultParseError  = resultParseError
	ResultStoreError  = resultStoreError
	ResultUnsupported = resultUnsupported
)
