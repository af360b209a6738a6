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
	parcelShipmentsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parcel_shipments_total",
		Help: "Number of shipments recorded on the ledger.",
	})

	parcelRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parcel_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	parcelRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parcel_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	parcelLedgerAppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parcel_ledger_appends_total",
		Help: "Total records appended, by ledger level.",
	}, []string{"ledger"})

	parcelStoreSaveFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parcel_store_save_failures_total",
		Help: "Total appends kept in memory because the store rejected the write.",
	})
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

		parcelRequestsTotal.WithLabelValues(method, path, status).Inc()
		parcelRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordLedgerAppend counts one appended record on the named ledger level.
// Its signature matches shipment.AppendRecordFunc.
func RecordLedgerAppend(ledger string) {
	parcelLedgerAppendsTotal.WithLabelValues(ledger).Inc()
}

// RecordStoreFailure counts one write the store rejected.
func RecordStoreFailure() {
	parcelStoreSaveFailuresTotal.Inc()
}

// SetShipmentsGauge sets the registered shipment count.
func SetShipmentsGauge(count float64) {
	parcelShipmentsTotal.Set(count)
}
