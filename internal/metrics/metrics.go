// Package metrics provides the Prometheus collectors for model loading and
// inference.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the classifier collectors. A nil *Metrics is valid and
// records nothing, so callers that run without a registry need no guards.
type Metrics struct {
	ModelLoadTotal    *prometheus.CounterVec
	ModelLoadDuration prometheus.Histogram
	ModelLoadedGauge  prometheus.Gauge
	InferenceDuration prometheus.Histogram
	PredictionTotal   *prometheus.CounterVec
	TopLabelTotal     *prometheus.CounterVec
	DecodeErrorsTotal prometheus.Counter
	CacheHitsTotal    prometheus.Counter
	registry          *prometheus.Registry
}

// New creates the collectors and registers them on registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register classifier metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.ModelLoadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asl_model_load_total",
			Help: "Model load attempts partitioned by outcome.",
		},
		[]string{"status", "compressed"},
	)
	m.ModelLoadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "asl_model_load_duration_seconds",
			Help:    "Time taken to decompress and load the model artifact.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		},
	)
	m.ModelLoadedGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "asl_model_loaded",
			Help: "1 when a classifier is loaded and ready.",
		},
	)
	m.InferenceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "asl_inference_duration_seconds",
			Help:    "Time taken for one classifier forward pass.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
		},
	)
	m.PredictionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asl_predictions_total",
			Help: "Prediction requests partitioned by outcome.",
		},
		[]string{"status"},
	)
	m.TopLabelTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asl_top_label_total",
			Help: "Top-1 predictions partitioned by letter.",
		},
		[]string{"label"},
	)
	m.DecodeErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "asl_decode_errors_total",
			Help: "Uploads rejected because they were not decodable images.",
		},
	)
	m.CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "asl_result_cache_hits_total",
			Help: "Image predictions served from the in-memory result cache.",
		},
	)
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.ModelLoadTotal.Describe(ch)
	m.ModelLoadDuration.Describe(ch)
	m.ModelLoadedGauge.Describe(ch)
	m.InferenceDuration.Describe(ch)
	m.PredictionTotal.Describe(ch)
	m.TopLabelTotal.Describe(ch)
	m.DecodeErrorsTotal.Describe(ch)
	m.CacheHitsTotal.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.ModelLoadTotal.Collect(ch)
	m.ModelLoadDuration.Collect(ch)
	m.ModelLoadedGauge.Collect(ch)
	m.InferenceDuration.Collect(ch)
	m.PredictionTotal.Collect(ch)
	m.TopLabelTotal.Collect(ch)
	m.DecodeErrorsTotal.Collect(ch)
	m.CacheHitsTotal.Collect(ch)
}

// RecordModelLoad records one provisioning attempt.
func (m *Metrics) RecordModelLoad(compressed bool, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	} else {
		m.ModelLoadedGauge.Set(1)
	}
	m.ModelLoadTotal.WithLabelValues(status, fmt.Sprint(compressed)).Inc()
	m.ModelLoadDuration.Observe(d.Seconds())
}

// RecordModelUnloaded clears the loaded gauge.
func (m *Metrics) RecordModelUnloaded() {
	if m == nil {
		return
	}
	m.ModelLoadedGauge.Set(0)
}

// RecordInference records one forward pass.
func (m *Metrics) RecordInference(d time.Duration) {
	if m == nil {
		return
	}
	m.InferenceDuration.Observe(d.Seconds())
}

// RecordPrediction records a completed ranking; label is the top-1 letter.
func (m *Metrics) RecordPrediction(label string) {
	if m == nil {
		return
	}
	m.PredictionTotal.WithLabelValues("success").Inc()
	m.TopLabelTotal.WithLabelValues(label).Inc()
}

// RecordPredictionError records a failed prediction by error kind.
func (m *Metrics) RecordPredictionError(kind string) {
	if m == nil {
		return
	}
	m.PredictionTotal.WithLabelValues(kind).Inc()
}

// RecordDecodeError counts a rejected upload.
func (m *Metrics) RecordDecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrorsTotal.Inc()
}

// RecordCacheHit counts a cached image prediction.
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

// Registry returns the registry the collectors were registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
