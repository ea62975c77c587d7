package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func registerDBMetrics(db *sql.DB, logger *zap.SugaredLogger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "feed_entries",
			Help: "Entries stored in the report feed",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM feed_entries")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "components_in_use",
			Help: "Components currently flagged in use",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM components WHERE in_use")
		},
	))
}

func queryCount(db *sql.DB, logger *zap.SugaredLogger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Warnw("metrics query failed", "err", err)
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
