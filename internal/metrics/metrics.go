// Package metrics provides Prometheus instrumentation for the atticswap
// settlement service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atticswap",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "atticswap",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// SettlementsTotal counts settlement engine operations by op and outcome kind.
	SettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atticswap",
			Name:      "settlements_total",
			Help:      "Total settlement operations by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	// EscrowOpenedTotal counts escrows opened.
	EscrowOpenedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "atticswap",
		Name:      "escrow_opened_total",
		Help:      "Total escrow holds opened.",
	})

	// TradesConfirmedTotal counts trades settled to completion.
	TradesConfirmedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "atticswap",
		Name:      "trades_confirmed_total",
		Help:      "Total trades confirmed (tokens settled to the seller).",
	})

	// TradesCancelledTotal counts trades cancelled and refunded.
	TradesCancelledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "atticswap",
		Name:      "trades_cancelled_total",
		Help:      "Total trades cancelled (hold refunded to the buyer).",
	})

	// TradesSweptTotal counts trades cancelled by the expiry sweep.
	TradesSweptTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "atticswap",
		Name:      "trades_swept_total",
		Help:      "Total trades cancelled by the expiry sweep.",
	})

	// TradeDuration observes time from escrow open to terminal state.
	TradeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "atticswap",
		Name:      "trade_duration_seconds",
		Help:      "Time from escrow open to confirmation or cancellation in seconds.",
		Buckets:   []float64{10, 60, 300, 1800, 3600, 21600, 86400, 604800},
	})

	// WebhookDeliveriesTotal counts webhook delivery attempts by result.
	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atticswap",
			Name:      "webhook_deliveries_total",
			Help:      "Total webhook deliveries by result.",
		},
		[]string{"result"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "atticswap",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "atticswap", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "atticswap", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "atticswap", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "atticswap", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SettlementsTotal,
		EscrowOpenedTotal,
		TradesConfirmedTotal,
		TradesCancelledTotal,
		TradesSweptTotal,
		TradeDuration,
		WebhookDeliveriesTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBInUseConnections,
		DBWaitCount,
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
			DBWaitCount.Set(float64(stats.WaitCount))
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

// Handler returns the Prometheus scrape handler wrapped for gin.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket maps a status code to its class ("2xx", "4xx", ...) to keep
// label cardinality low.
func statusBucket(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}
