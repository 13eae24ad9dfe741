// Package metrics provides the Prometheus collectors for the admission path.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "divgate"

// Collector holds all Prometheus metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Admission metrics
	AdmissionDecisions *prometheus.CounterVec
	AdmissionDuration  prometheus.Histogram
	StoreErrors        *prometheus.CounterVec
	PreAuthThrottled   prometheus.Counter

	// Usage accounting metrics
	UsageEventsRecorded prometheus.Counter
	UsageEventsDropped  prometheus.Counter
	UsageSinkErrors     *prometheus.CounterVec
	UsageQueueDepth     prometheus.Gauge
	WindowsFlushed      prometheus.Counter
}

// New registers the collectors with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers with reg. Tests pass a fresh registry to avoid
// global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of requests processed",
			},
			[]string{"method", "route", "status", "tier"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being processed",
			},
		),

		AdmissionDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admission_decisions_total",
				Help:      "Admission decisions by tier and outcome",
			},
			[]string{"tier", "outcome"},
		),
		AdmissionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "admission_duration_seconds",
				Help:      "Time spent resolving, gating and counting a request",
				Buckets:   []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
			},
		),
		StoreErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_errors_total",
				Help:      "Backing store failures during admission",
			},
			[]string{"op"},
		),
		PreAuthThrottled: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "preauth_throttled_total",
				Help:      "Requests rejected by the per-IP throttle before key resolution",
			},
		),

		UsageEventsRecorded: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "usage_events_recorded_total",
				Help:      "Usage events written by the accountant",
			},
		),
		UsageEventsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "usage_events_dropped_total",
				Help:      "Usage events dropped because the queue was full",
			},
		),
		UsageSinkErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "usage_sink_errors_total",
				Help:      "Failed usage writes by sink",
			},
			[]string{"sink"},
		),
		UsageQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "usage_queue_depth",
				Help:      "Usage events waiting to be written",
			},
		),
		WindowsFlushed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "usage_windows_flushed_total",
				Help:      "Counter windows persisted by the write-behind flusher",
			},
		),
	}
}

func (c *Collector) ObserveAdmission(tier, outcome string, took time.Duration) {
	if c == nil {
		return
	}
	if tier == "" {
		tier = "none"
	}
	c.AdmissionDecisions.WithLabelValues(tier, outcome).Inc()
	c.AdmissionDuration.Observe(took.Seconds())
}

func (c *Collector) ObserveStoreError(op string) {
	if c == nil {
		return
	}
	c.StoreErrors.WithLabelValues(op).Inc()
}

func (c *Collector) ObserveRequest(method, route, status, tier string, took time.Duration) {
	if c == nil {
		return
	}
	if tier == "" {
		tier = "none"
	}
	c.RequestsTotal.WithLabelValues(method, route, status, tier).Inc()
	c.RequestDuration.WithLabelValues(method, route).Observe(took.Seconds())
}

func (c *Collector) InFlight(delta float64) {
	if c == nil {
		return
	}
	c.RequestsInFlight.Add(delta)
}

func (c *Collector) ObservePreAuthThrottle() {
	if c == nil {
		return
	}
	c.PreAuthThrottled.Inc()
}

func (c *Collector) ObserveUsageRecorded() {
	if c == nil {
		return
	}
	c.UsageEventsRecorded.Inc()
}

func (c *Collector) ObserveUsageDropped() {
	if c == nil {
		return
	}
	c.UsageEventsDropped.Inc()
}

func (c *Collector) ObserveSinkError(sink string) {
	if c == nil {
		return
	}
	c.UsageSinkErrors.WithLabelValues(sink).Inc()
}

func (c *Collector) SetQueueDepth(n int) {
	if c == nil {
		return
	}
	c.UsageQueueDepth.Set(float64(n))
}

func (c *Collector) ObserveFlushed(n int) {
	if c == nil {
		return
	}
	c.WindowsFlushed.Add(float64(n))
}
