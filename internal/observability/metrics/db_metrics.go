package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// DBCollectors returns pool gauges for db and a gauge over the audit table.
// The result is meant to be passed to Init.
func DBCollectors(db *sql.DB, logger logrus.FieldLogger) []prometheus.Collector {
	if db == nil {
		return nil
	}
	return []prometheus.Collector{
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "db_connections_open",
				Help: "Open database connections",
			},
			func() float64 { return float64(db.Stats().OpenConnections) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "db_connections_in_use",
				Help: "Database connections in use",
			},
			func() float64 { return float64(db.Stats().InUse) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "audit_logs_last_day",
				Help: "Audit records written in the last 24 hours",
			},
			func() float64 {
				return queryCount(db, logger, "SELECT COUNT(*) FROM audit_logs WHERE created_at > now() - interval '1 day'")
			},
		),
	}
}

func queryCount(db *sql.DB, logger logrus.FieldLogger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.WithError(err).Warn("metrics query failed")
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
