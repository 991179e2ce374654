package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/bloodlink/core/metrics"
)

// PromSink records request outcomes, notification latency and the donor
// pool size in Prometheus metrics.
type PromSink struct {
	outcomes *prometheus.CounterVec
	duration *prometheus.HistogramVec
	latency  *prometheus.HistogramVec
	pool     prometheus.Gauge
}

// NewPromSink registers the metrics on the default Prometheus registerer.
// The /metrics endpoint is served separately by StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "request_outcomes_total",
		Help: "Terminal request outcomes by blood type and status",
	}, []string{"blood_type", "status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "request_open_seconds",
		Help:    "Time between request creation and its terminal state",
		Buckets: []float64{30, 60, 300, 900, 1800, 3600, 7200, 14400, 86400},
	}, []string{"status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "donor_alert_latency_seconds",
		Help:    "Time between alert send and delivery outcome",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	pool := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "donor_pool_size",
		Help: "Number of donors currently indexed",
	})

	var err error
	if outcomes, err = register(reg, outcomes); err != nil {
		return nil, err
	}
	if duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	if latency, err = register(reg, latency); err != nil {
		return nil, err
	}
	if pool, err = register(reg, pool); err != nil {
		return nil, err
	}
	return &PromSink{outcomes: outcomes, duration: duration, latency: latency, pool: pool}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordRequestOutcome counts the outcome and observes how long the request stayed open.
func (s *PromSink) RecordRequestOutcome(o coremetrics.RequestOutcome) error {
	s.outcomes.WithLabelValues(o.BloodType.String(), string(o.Status)).Inc()
	if d := o.Duration(); d > 0 {
		s.duration.WithLabelValues(string(o.Status)).Observe(d.Seconds())
	}
	return nil
}

// RecordNotification observes the delivery latency of an alert.
func (s *PromSink) RecordNotification(n coremetrics.NotificationRecord) error {
	s.latency.WithLabelValues(n.Outcome).Observe(n.Latency.Seconds())
	return nil
}

// RecordDonorPool sets the gauge to the number of indexed donors.
func (s *PromSink) RecordDonorPool(size int) error {
	s.pool.Set(float64(size))
	return nil
}

var (
	_ coremetrics.NotificationRecorder = (*PromSink)(nil)
	_ coremetrics.DonorPoolRecorder    = (*PromSink)(nil)
)
