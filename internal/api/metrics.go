package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmerrifield20/hostscope/internal/summarize"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hostscope_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hostscope_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	summariesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hostscope_summaries_total",
		Help: "Host summaries produced, by error kind (none for live results).",
	}, []string{"error_kind"})

	summaryAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hostscope_summary_attempts",
		Help:    "Provider attempts per summary.",
		Buckets: []float64{0, 1, 2, 3, 4, 5},
	})

	summaryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hostscope_summary_duration_seconds",
		Help:    "Wall time per summary including retries.",
		Buckets: prometheus.DefBuckets,
	})

	datasetsStored = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hostscope_datasets_stored",
		Help: "Datasets currently held in the in-memory store.",
	})

	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hostscope_uploads_total",
		Help: "Dataset selections by outcome.",
	}, []string{"outcome"})
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
			path = "unmatched"
		}

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordSummary records one finished summary. It satisfies
// summarize.MetricsRecorder.
func RecordSummary(kind summarize.ErrorKind, attempts int, duration time.Duration) {
	summariesTotal.WithLabelValues(string(kind)).Inc()
	summaryAttempts.Observe(float64(attempts))
	summaryDuration.Observe(duration.Seconds())
}

// SetDatasetsStored sets the store size gauge. It satisfies
// store.SizeRecorder.
func SetDatasetsStored(n int) {
	datasetsStored.Set(float64(n))
}

// RecordUpload records a dataset selection outcome.
func RecordUpload(outcome string) {
	uploadsTotal.WithLabelValues(outcome).Inc()
}
