package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	hlRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hl_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	hlRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hl_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	hlProvisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hl_account_provisions_total",
		Help: "Total chain account provisioning runs by owner type and result.",
	}, []string{"owner_type", "result"})

	hlSyncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hl_entry_syncs_total",
		Help: "Total registry entry synchronization runs by result.",
	}, []string{"result"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		hlRequestsTotal.WithLabelValues(method, path, status).Inc()
		hlRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordProvision records a provisioning run outcome.
func RecordProvision(ownerType string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	hlProvisionsTotal.WithLabelValues(ownerType, result).Inc()
}

// RecordSync records an entry synchronization run outcome.
func RecordSync(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	hlSyncsTotal.WithLabelValues(result).Inc()
}
