// Package metrics exposes Prometheus metrics for the HTTP surface and the
// generation pipeline.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector records service metrics into a registry.
type Collector struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	submissionsTotal     *prometheus.CounterVec
	referenceTracks      prometheus.Histogram
	conditioningDuration prometheus.Histogram
	generationDuration   *prometheus.HistogramVec
	resultsStored        prometheus.Gauge

	logger *zap.Logger
}

// NewCollector registers the metrics on reg.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.submissionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Generation submissions by outcome",
		},
		[]string{"outcome"},
	)
	c.referenceTracks = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "reference_tracks",
		Help:      "Reference tracks per submission",
		Buckets:   []float64{1, 2, 5, 10, 15, 20},
	})
	c.conditioningDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "conditioning_duration_seconds",
		Help:      "Time spent building the conditioning signal",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})
	c.generationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Model generation latency",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"backend", "status"},
	)
	c.resultsStored = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "results_stored",
		Help:      "Generated results currently held for download",
	})
	return c
}

// RecordHTTPRequest records one served request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSubmission counts a finished submission. outcome is "success" or an
// error kind such as "input_error".
func (c *Collector) RecordSubmission(outcome string, tracks int) {
	c.submissionsTotal.WithLabelValues(outcome).Inc()
	if tracks > 0 {
		c.referenceTracks.Observe(float64(tracks))
	}
}

// RecordConditioning observes how long conditioning took.
func (c *Collector) RecordConditioning(duration time.Duration) {
	c.conditioningDuration.Observe(duration.Seconds())
}

// RecordGeneration observes one model call.
func (c *Collector) RecordGeneration(backend string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.generationDuration.WithLabelValues(backend, status).Observe(duration.Seconds())
}

// SetResultsStored reports the size of the result store.
func (c *Collector) SetResultsStored(n int) {
	c.resultsStored.Set(float64(n))
}
