package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/bloodlink/core/logger"
	"github.com/kilianp07/bloodlink/core/model"
	"github.com/kilianp07/bloodlink/core/registry"
)

type availabilityMessage struct {
	DonorID      string            `json:"donor_id"`
	Availability string            `json:"availability"`
	Location     *model.Coordinate `json:"location"`
	TS           *int64            `json:"ts"`
}

// AvailabilityWatcher implements registry.Watcher over the per-donor
// availability topics.
type AvailabilityWatcher struct {
	sub   subscriber
	topic string
	log   logger.Logger

	received *prometheus.CounterVec
	last     prometheus.Gauge
}

// NewAvailabilityWatcher creates a watcher. Counters are registered on reg,
// or on the default registerer when reg is nil.
func NewAvailabilityWatcher(sub subscriber, topic string, reg prometheus.Registerer, log logger.Logger) *AvailabilityWatcher {
	if topic == "" {
		topic = DefaultAvailabilityTopic
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	w := &AvailabilityWatcher{
		sub:   sub,
		topic: topic,
		log:   logger.OrNop(log),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donor_availability_updates_total",
			Help: "Availability messages received from donors",
		}, []string{"result"}),
		last: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "donor_availability_last_update_timestamp_seconds",
			Help: "Unix timestamp of the last applied availability message",
		}),
	}
	w.received = register(reg, w.received)
	w.last = register(reg, w.last)
	return w
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// Watch subscribes and calls fn for every valid message until ctx is done.
func (w *AvailabilityWatcher) Watch(ctx context.Context, fn func(registry.AvailabilityChange)) error {
	if err := w.sub.Subscribe(w.topic, "availability", func(topic string, payload []byte) {
		c, err := decodeAvailability(topic, payload)
		if err != nil {
			w.received.WithLabelValues("invalid").Inc()
			w.log.Warnf("availability on %s: %v", topic, err)
			return
		}
		w.received.WithLabelValues("applied").Inc()
		w.last.SetToCurrentTime()
		fn(c)
	}); err != nil {
		return fmt.Errorf("subscribe %s: %w", w.topic, err)
	}
	<-ctx.Done()
	if err := w.sub.Unsubscribe(w.topic); err != nil {
		w.log.Warnf("unsubscribe %s: %v", w.topic, err)
	}
	return ctx.Err()
}

func decodeAvailability(topic string, payload []byte) (registry.AvailabilityChange, error) {
	var msg availabilityMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return registry.AvailabilityChange{}, err
	}
	if msg.DonorID == "" {
		msg.DonorID = donorFromTopic(topic)
	}
	if msg.DonorID == "" {
		return registry.AvailabilityChange{}, fmt.Errorf("missing donor id")
	}
	a, err := model.ParseAvailability(msg.Availability)
	if err != nil {
		return registry.AvailabilityChange{}, err
	}
	if msg.Location != nil {
		if err := msg.Location.Validate(); err != nil {
			return registry.AvailabilityChange{}, err
		}
	}
	at := time.Now()
	if msg.TS != nil {
		at = time.Unix(*msg.TS, 0)
	}
	return registry.AvailabilityChange{DonorID: msg.DonorID, Availability: a, Location: msg.Location, At: at}, nil
}

var _ registry.Watcher = (*AvailabilityWatcher)(nil)
