package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func registerDBMetrics(db *sql.DB, backend string, logger *zap.Logger) {
	labels := prometheus.Labels{"backend": backend}

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        metricPrefix + "db_open_connections",
			Help:        "Open connections in the balance store pool",
			ConstLabels: labels,
		},
		func() float64 { return float64(db.Stats().OpenConnections) },
	))
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        metricPrefix + "db_in_use_connections",
			Help:        "Connections currently in use by balance queries",
			ConstLabels: labels,
		},
		func() float64 { return float64(db.Stats().InUse) },
	))
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        metricPrefix + "tracked_series",
			Help:        "Series registered in the balance store",
			ConstLabels: labels,
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM balance_series")
		},
	))
}

func queryCount(db *sql.DB, logger *zap.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Warn("metrics query failed", zap.String("query", query), zap.Error(err))
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
