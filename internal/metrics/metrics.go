// Package metrics provides Prometheus instrumentation for the scoring engine.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskengine",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskengine",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// VerdictsTotal counts scored transactions by final verdict.
	VerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskengine",
			Name:      "verdicts_total",
			Help:      "Total transactions scored, by final verdict.",
		},
		[]string{"verdict"},
	)

	// RuleTriggersTotal counts domain rule triggers by rule name.
	RuleTriggersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskengine",
			Name:      "rule_triggers_total",
			Help:      "Total domain rule triggers by rule name.",
		},
		[]string{"rule"},
	)

	// RiskScores observes the distribution of final risk scores.
	RiskScores = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "riskengine",
			Name:      "risk_score",
			Help:      "Distribution of final risk scores.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	// ScoringDuration observes end-to-end scoring latency.
	ScoringDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "riskengine",
			Name:      "scoring_duration_seconds",
			Help:      "End-to-end scoring pipeline duration in seconds.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// DegradedSnapshotsTotal counts requests served with a padded window
	// after the history store failed twice.
	DegradedSnapshotsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "riskengine",
			Name:      "degraded_snapshots_total",
			Help:      "Requests scored with a padded window after history store failure.",
		},
	)

	// ValidationFailuresTotal counts rejected transactions by field.
	ValidationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskengine",
			Name:      "validation_failures_total",
			Help:      "Total transactions rejected by input validation, by field.",
		},
		[]string{"field"},
	)

	// ActiveWebSocketClients tracks connected feed subscribers.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "riskengine",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket feed clients.",
		},
	)

	// HistoryWindowAppends counts appends to the identity history store.
	HistoryWindowAppends = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "riskengine",
			Name:      "history_appends_total",
			Help:      "Total feature vectors appended to identity history.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskengine", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskengine", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskengine", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		VerdictsTotal,
		RuleTriggersTotal,
		RiskScores,
		ScoringDuration,
		DegradedSnapshotsTotal,
		ValidationFailuresTotal,
		ActiveWebSocketClients,
		HistoryWindowAppends,
		DBOpenConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
