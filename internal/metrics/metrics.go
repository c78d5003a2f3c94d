// Package metrics declares the Prometheus collectors exported at /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AttendanceRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkqr",
		Name:      "attendance_runs_total",
		Help:      "Attendance marking attempts by outcome.",
	}, []string{"outcome"})

	AttendanceStudents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkqr",
		Name:      "attendance_students_total",
		Help:      "Student statuses written by attendance marking.",
	}, []string{"status"})

	QRIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkqr",
		Name:      "qr_issued_total",
		Help:      "QR issuance requests by result (created, existing).",
	}, []string{"result"})

	ImportRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkqr",
		Name:      "import_rows_total",
		Help:      "Imported spreadsheet rows by outcome.",
	}, []string{"outcome"})

	SignIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkqr",
		Name:      "signins_total",
		Help:      "Sign-in attempts by outcome.",
	}, []string{"outcome"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "checkqr",
		Name:      "import_queue_depth",
		Help:      "Import jobs waiting in the queue.",
	})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "checkqr",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// GinMiddleware records request latency keyed by the matched route.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
