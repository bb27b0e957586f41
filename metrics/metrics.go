// Package metrics bundles the Prometheus collectors of the image fetcher.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the fetch pipeline. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Registry         *prometheus.Registry
	StrategyRuns     *prometheus.CounterVec
	FetchDuration    *prometheus.HistogramVec
	FetchErrors      *prometheus.CounterVec
	ImagesReturned   *prometheus.CounterVec
	ThrottleWait     prometheus.Histogram
	PipelineDuration prometheus.Histogram
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	strategyRuns := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagefetch_strategy_runs_total",
			Help: "Strategy invocations by outcome.",
		},
		[]string{"strategy", "outcome"},
	)
	fetchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imagefetch_fetch_duration_seconds",
			Help:    "Outbound HTTP fetch latency by kind.",
			Buckets: []float64{.01, .025, .05, .1, .2, .3, .5, 1, 2.5},
		},
		[]string{"kind"},
	)
	fetchErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagefetch_fetch_errors_total",
			Help: "Outbound HTTP fetch errors by type.",
		},
		[]string{"error_type"},
	)
	imagesReturned := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagefetch_images_returned_total",
			Help: "Images returned to callers by source.",
		},
		[]string{"source"},
	)
	throttleWait := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "imagefetch_throttle_wait_seconds",
			Help:    "Time spent blocked in the channel search rate limiter.",
			Buckets: []float64{.001, .01, .05, .1, .2, .5, 1},
		},
	)
	pipelineDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "imagefetch_pipeline_duration_seconds",
			Help:    "Wall-clock time of a whole fetch request.",
			Buckets: prometheus.DefBuckets,
		},
	)

	registry.MustRegister(strategyRuns, fetchDuration, fetchErrors, imagesReturned, throttleWait, pipelineDuration)

	return &Metrics{
		Registry:         registry,
		StrategyRuns:     strategyRuns,
		FetchDuration:    fetchDuration,
		FetchErrors:      fetchErrors,
		ImagesReturned:   imagesReturned,
		ThrottleWait:     throttleWait,
		PipelineDuration: pipelineDuration,
	}
}

// IncStrategyRun records one strategy invocation outcome (ok, empty, failed, propagated).
func (m *Metrics) IncStrategyRun(strategy, outcome string) {
	if m == nil {
		return
	}
	m.StrategyRuns.WithLabelValues(strategy, outcome).Inc()
}

// ObserveFetch records an outbound fetch duration.
func (m *Metrics) ObserveFetch(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// IncFetchError increments the fetch error counter for a type label.
func (m *Metrics) IncFetchError(errorType string) {
	if m == nil {
		return
	}
	m.FetchErrors.WithLabelValues(errorType).Inc()
}

// AddImages counts images returned for a source.
func (m *Metrics) AddImages(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ImagesReturned.WithLabelValues(source).Add(float64(n))
}

// ObserveThrottle records a rate limiter wait.
func (m *Metrics) ObserveThrottle(d time.Duration) {
	if m == nil {
		return
	}
	m.ThrottleWait.Observe(d.Seconds())
}

// ObservePipeline records a whole-request duration.
func (m *Metrics) ObservePipeline(d time.Duration) {
	if m == nil {
		return
	}
	m.PipelineDuration.Observe(d.Seconds())
}
