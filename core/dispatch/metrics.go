package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsSubmitted  *prometheus.CounterVec
	requestsCompleted  *prometheus.CounterVec
	activeRequests     prometheus.Gauge
	wavesReleased      *prometheus.CounterVec
	waveSize           prometheus.Histogram
	notificationsTotal *prometheus.CounterVec
	responsesTotal     *prometheus.CounterVec
	escalationsTotal   prometheus.Counter
	fulfillmentLatency *prometheus.HistogramVec
)

type collectors struct {
	submitted, completed *prometheus.CounterVec
	active               prometheus.Gauge
	waves                *prometheus.CounterVec
	size                 prometheus.Histogram
	notifications        *prometheus.CounterVec
	responses            *prometheus.CounterVec
	escalations          prometheus.Counter
	fulfillment          *prometheus.HistogramVec
}

// newCollectors creates new metric collectors.
func newCollectors() collectors {
	return collectors{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blood_requests_submitted_total",
			Help: "Number of emergency requests accepted at intake",
		}, []string{"urgency"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blood_requests_completed_total",
			Help: "Number of emergency requests that reached a terminal state",
		}, []string{"urgency", "status", "cause"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blood_requests_active",
			Help: "Number of requests not yet in a terminal state",
		}),
		waves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_waves_total",
			Help: "Number of candidate waves released",
		}, []string{"urgency"}),
		size: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispatch_wave_size",
			Help:    "Number of donors per released wave",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donor_notifications_total",
			Help: "Alert delivery outcomes",
		}, []string{"outcome"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donor_responses_total",
			Help: "Donor responses by decision and arbitration result",
		}, []string{"decision", "result"}),
		escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_escalations_total",
			Help: "Matching rounds that found no candidate",
		}),
		fulfillment: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "blood_request_fulfillment_seconds",
			Help:    "Time from submission to fulfillment",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 21600, 86400},
		}, []string{"urgency"}),
	}
}

func install(c collectors) {
	requestsSubmitted, requestsCompleted = c.submitted, c.completed
	activeRequests = c.active
	wavesReleased, waveSize = c.waves, c.size
	notificationsTotal, responsesTotal = c.notifications, c.responses
	escalationsTotal, fulfillmentLatency = c.escalations, c.fulfillment
}

func init() {
	install(newCollectors())
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(requestsSubmitted, requestsCompleted, activeRequests, wavesReleased, waveSize,
		notificationsTotal, responsesTotal, escalationsTotal, fulfillmentLatency)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	install(newCollectors())
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
