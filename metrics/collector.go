package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the sync metrics on a private registry
type Collector struct {
	// Counters
	documentsPublished *prometheus.CounterVec
	chunksPublished    *prometheus.CounterVec
	rejectedDocuments  *prometheus.CounterVec
	passErrors         *prometheus.CounterVec
	retries            *prometheus.CounterVec

	// Gauges
	lastPass  *prometheus.GaugeVec
	watermark *prometheus.GaugeVec

	// Histograms
	passDuration  *prometheus.HistogramVec
	chunkDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,

		documentsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postgres_to_es_documents_published_total",
			Help: "Documents accepted by the search index",
		}, []string{"index"}),

		chunksPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postgres_to_es_chunks_published_total",
			Help: "Chunks published and acknowledged",
		}, []string{"index"}),

		rejectedDocuments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postgres_to_es_documents_rejected_total",
			Help: "Documents rejected by the search index",
		}, []string{"index"}),

		passErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postgres_to_es_pass_errors_total",
			Help: "Index passes aborted by an error",
		}, []string{"index"}),

		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postgres_to_es_retries_total",
			Help: "Retried operations",
		}, []string{"operation"}),

		lastPass: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "postgres_to_es_last_pass_timestamp_seconds",
			Help: "Unix time of the last completed pass",
		}, []string{"index"}),

		watermark: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "postgres_to_es_watermark_timestamp_seconds",
			Help: "Unix time of the stored watermark",
		}, []string{"index"}),

		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "postgres_to_es_pass_duration_seconds",
			Help:    "Duration of a complete index pass",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"index"}),

		chunkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "postgres_to_es_chunk_duration_seconds",
			Help:    "Duration of load, transform and publish of one chunk",
			Buckets: prometheus.DefBuckets,
		}, []string{"index"}),
	}

	registry.MustRegister(
		c.documentsPublished,
		c.chunksPublished,
		c.rejectedDocuments,
		c.passErrors,
		c.retries,
		c.lastPass,
		c.watermark,
		c.passDuration,
		c.chunkDuration,
	)

	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordChunk records an acknowledged chunk
func (c *Collector) RecordChunk(index string, documents int, duration time.Duration) {
	c.chunksPublished.WithLabelValues(index).Inc()
	c.documentsPublished.WithLabelValues(index).Add(float64(documents))
	c.chunkDuration.WithLabelValues(index).Observe(duration.Seconds())
}

// RecordRejected records documents rejected in a bulk publish
func (c *Collector) RecordRejected(index string, documents int) {
	c.rejectedDocuments.WithLabelValues(index).Add(float64(documents))
}

// RecordPassError records an aborted index pass
func (c *Collector) RecordPassError(index string) {
	c.passErrors.WithLabelValues(index).Inc()
}

// RecordPass records a completed index pass
func (c *Collector) RecordPass(index string, watermark time.Time, duration time.Duration) {
	c.lastPass.WithLabelValues(index).SetToCurrentTime()
	c.watermark.WithLabelValues(index).Set(float64(watermark.Unix()))
	c.passDuration.WithLabelValues(index).Observe(duration.Seconds())
}

// ObserveRetry counts a retry of operation.
func (c *Collector) ObserveRetry(operation string) {
	c.retries.WithLabelValues(operation).Inc()
}
