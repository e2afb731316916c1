package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Bus metrics
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgloop_events_published_total",
			Help: "Total number of events published to the bus by module",
		},
		[]string{"module"},
	)

	EventsAcked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orgloop_events_acked_total",
			Help: "Total number of events acknowledged on the bus",
		},
	)

	EventsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orgloop_events_pending",
			Help: "Events published but not yet acknowledged",
		},
	)

	// Scheduler metrics
	PollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgloop_polls_total",
			Help: "Total number of source polls by result",
		},
		[]string{"module", "source", "result"},
	)

	PollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orgloop_poll_duration_seconds",
			Help:    "Source poll duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PollsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgloop_polls_skipped_total",
			Help: "Polls skipped because a previous poll was still running or the circuit was open",
		},
		[]string{"module", "source", "reason"},
	)

	CircuitsOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orgloop_circuits_open",
			Help: "Whether the source circuit breaker is open (1 = open)",
		},
		[]string{"module", "source"},
	)

	// Pipeline metrics
	TransformsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgloop_transforms_total",
			Help: "Total number of transform invocations by result",
		},
		[]string{"transform", "result"},
	)

	TransformDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orgloop_transform_duration_seconds",
			Help:    "Transform invocation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Delivery metrics
	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgloop_deliveries_total",
			Help: "Total number of actor deliveries by result",
		},
		[]string{"module", "actor", "result"},
	)

	DeliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orgloop_delivery_duration_seconds",
			Help:    "Actor delivery duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Module metrics
	ModulesLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orgloop_modules_loaded",
			Help: "Number of modules currently loaded",
		},
	)

	// HTTP metrics
	WebhookRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgloop_webhook_requests_total",
			Help: "Total number of webhook ingress requests by source and status",
		},
		[]string{"source", "status"},
	)

	ControlRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgloop_control_requests_total",
			Help: "Total number of control API requests by path and status",
		},
		[]string{"path", "status"},
	)
)

func init() {
	prometheus.MustRegister(EventsPublished)
	prometheus.MustRegister(EventsAcked)
	prometheus.MustRegister(EventsPending)
	prometheus.MustRegister(PollsTotal)
	prometheus.MustRegister(PollDuration)
	prometheus.MustRegister(PollsSkipped)
	prometheus.MustRegister(CircuitsOpen)
	prometheus.MustRegister(TransformsTotal)
	prometheus.MustRegister(TransformDuration)
	prometheus.MustRegister(DeliveriesTotal)
	prometheus.MustRegister(DeliveryDuration)
	prometheus.MustRegister(ModulesLoaded)
	prometheus.MustRegister(WebhookRequestsTotal)
	prometheus.MustRegister(ControlRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
