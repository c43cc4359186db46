package middlewares

import (
	"strconv"
	"time"

	"ecommerce-backend/receipts"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecommerce_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ecommerce_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	businessOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecommerce_operations_total",
			Help: "Total number of order, refund and cart operations",
		},
		[]string{"operation", "status"},
	)

	receiptJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecommerce_receipt_jobs_total",
			Help: "Receipt jobs by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
)

// PrometheusMiddleware records request counts and latency per route template.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		httpRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Inc()

		httpRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Observe(duration)
	}
}

func RecordOperation(operation string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	businessOperations.WithLabelValues(operation, status).Inc()
}

func RecordReceiptJob(kind receipts.JobKind, outcome string) {
	if kind == "" {
		kind = "unknown"
	}
	receiptJobs.WithLabelValues(string(kind), outcome).Inc()
}
