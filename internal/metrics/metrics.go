// Package metrics provides Prometheus instrumentation for the decision engine.
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
	// DecisionsTotal counts completed decisions by outcome.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txscreen",
			Name:      "decisions_total",
			Help:      "Total decisions by final outcome.",
		},
		[]string{"outcome"},
	)

	// DecisionLatency observes end-to-end evaluation latency by outcome.
	DecisionLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "txscreen",
			Name:      "decision_latency_seconds",
			Help:      "Decision evaluation latency in seconds.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"outcome"},
	)

	// DecisionErrorsTotal counts evaluations that failed with a typed error.
	DecisionErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txscreen",
			Name:      "decision_errors_total",
			Help:      "Total failed evaluations by pipeline stage.",
		},
		[]string{"stage"},
	)

	// RiskScore tracks the most recently computed risk score.
	RiskScore = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "txscreen",
		Name:      "risk_score",
		Help:      "Most recently computed risk score (0-100).",
	})

	// FeatureCacheHits counts cache hits by feature type.
	FeatureCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txscreen",
			Name:      "feature_cache_hits_total",
			Help:      "Feature cache hits by type.",
		},
		[]string{"type"},
	)

	// FeatureCacheMisses counts cache misses by feature type.
	FeatureCacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txscreen",
			Name:      "feature_cache_misses_total",
			Help:      "Feature cache misses by type.",
		},
		[]string{"type"},
	)

	// FeatureErrors counts degraded feature reads/writes by type. Each
	// increment means a decision proceeded on fallback values.
	FeatureErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txscreen",
			Name:      "feature_errors_total",
			Help:      "Feature backend failures by type (fail-open path taken).",
		},
		[]string{"type"},
	)

	// AuditSaveErrorsTotal counts failed best-effort audit writes.
	AuditSaveErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "txscreen",
		Name:      "audit_save_errors_total",
		Help:      "Total failed audit store writes.",
	})

	// PublishTotal counts decision publish attempts.
	PublishTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "txscreen",
		Name:      "publish_total",
		Help:      "Total decision publish attempts.",
	})

	// PublishErrorsTotal counts failed decision publishes.
	PublishErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "txscreen",
		Name:      "publish_errors_total",
		Help:      "Total failed decision publishes.",
	})

	// IngestAckedTotal counts messages acknowledged after a successful decision.
	IngestAckedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "txscreen",
		Name:      "ingest_acked_total",
		Help:      "Total ingested transactions acknowledged.",
	})

	// IngestRetriedTotal counts messages left unacked for redelivery.
	IngestRetriedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "txscreen",
		Name:      "ingest_retried_total",
		Help:      "Total ingested transactions left for redelivery.",
	})

	// ActiveFeedClients tracks connected realtime feed clients.
	ActiveFeedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "txscreen",
		Name:      "feed_clients",
		Help:      "Currently connected decision feed clients.",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txscreen",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "txscreen",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "txscreen", Name: "db_open_connections",
		Help: "Open database connections.",
	})
	// DBInUseConnections tracks connections currently in use.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "txscreen", Name: "db_in_use_connections",
		Help: "Database connections currently in use.",
	})
	// DBIdleConnections tracks idle connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "txscreen", Name: "db_idle_connections",
		Help: "Idle database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "txscreen", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		DecisionsTotal,
		DecisionLatency,
		DecisionErrorsTotal,
		RiskScore,
		FeatureCacheHits,
		FeatureCacheMisses,
		FeatureErrors,
		AuditSaveErrorsTotal,
		PublishTotal,
		PublishErrorsTotal,
		IngestAckedTotal,
		IngestRetriedTotal,
		ActiveFeedClients,
		HTTPRequestsTotal,
		HTTPRequestDuration,
		DBOpenConnections,
		DBInUseConnections,
		DBIdleConnections,
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
			DBIdleConnections.Set(float64(stats.Idle))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Route pattern, not actual path (avoids cardinality explosion)
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

// Handler returns the Prometheus metrics HTTP handler for the /metrics endpoint.
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
