package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/kilianp07/bloodlink/core/arbiter"
	"github.com/kilianp07/bloodlink/core/fanout"
	"github.com/kilianp07/bloodlink/core/model"
)

type alert struct {
	NotificationID string         `json:"notification_id"`
	DonorID        string         `json:"donor_id"`
	Timestamp      int64          `json:"timestamp"`
	Alert          fanout.Summary `json:"alert"`
}

type verdict struct {
	RequestID string          `json:"request_id"`
	Decision  model.Decision  `json:"decision"`
	Verdict   arbiter.Verdict `json:"verdict"`
	Error     string          `json:"error,omitempty"`
}

// Stats counts what a simulated donor did.
type Stats struct {
	Alerts    atomic.Int64
	Receipts  atomic.Int64
	Responses atomic.Int64
	Accepted  atomic.Int64
	Redundant atomic.Int64
}

// SimulatedDonor plays a donor's phone: it acknowledges alerts, answers
// them and reports availability changes.
type SimulatedDonor struct {
	Donor    model.Donor
	Strategy ResponseStrategy

	ReceiptLatency       time.Duration
	ResponseDelay        time.Duration
	AvailabilityInterval time.Duration

	Stats *Stats

	bus   bus
	queue chan alert
}

// NewSimulatedDonor creates a donor bound to b.
func NewSimulatedDonor(d model.Donor, b bus, strat ResponseStrategy) *SimulatedDonor {
	return &SimulatedDonor{Donor: d, Strategy: strat, Stats: &Stats{}, bus: b, queue: make(chan alert, 50)}
}

func (s *SimulatedDonor) topic(kind string) string {
	return fmt.Sprintf("donor/%s/%s", s.Donor.ID, kind)
}

// Run subscribes to the donor's topics and reacts until ctx is done.
func (s *SimulatedDonor) Run(ctx context.Context) error {
	if err := s.bus.Subscribe(s.topic("alert"), s.onAlert); err != nil {
		return err
	}
	if err := s.bus.Subscribe(s.topic("verdict"), s.onVerdict); err != nil {
		return err
	}
	for range 2 {
		go s.worker(ctx)
	}
	var tick <-chan time.Time
	if s.AvailabilityInterval > 0 {
		t := time.NewTicker(s.AvailabilityInterval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			s.toggleAvailability()
		}
	}
}

func (s *SimulatedDonor) onAlert(_ string, payload []byte) {
	var a alert
	if err := json.Unmarshal(payload, &a); err != nil {
		log.Printf("%s: decode alert: %v", s.Donor.ID, err)
		return
	}
	s.Stats.Alerts.Add(1)
	select {
	case s.queue <- a:
	default:
		log.Printf("%s: alert queue full, dropping %s", s.Donor.ID, a.NotificationID)
	}
}

func (s *SimulatedDonor) onVerdict(_ string, payload []byte) {
	var v verdict
	if err := json.Unmarshal(payload, &v); err != nil {
		log.Printf("%s: decode verdict: %v", s.Donor.ID, err)
		return
	}
	switch {
	case v.Error != "":
		log.Printf("%s: response to %s rejected: %s", s.Donor.ID, v.RequestID, v.Error)
	case v.Verdict.Result == arbiter.Accepted:
		s.Stats.Accepted.Add(1)
	case v.Verdict.Result == arbiter.Redundant:
		s.Stats.Redundant.Add(1)
	}
}

func (s *SimulatedDonor) worker(ctx context.Context) {
	for {
		select {
		case a := <-s.queue:
			s.handle(ctx, a)
		case <-ctx.Done():
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *SimulatedDonor) handle(ctx context.Context, a alert) {
	r := s.Strategy.React(ctx, s.Donor.ID, a)
	if !r.Receipt || !sleep(ctx, s.ReceiptLatency) {
		return
	}
	s.publish(s.topic("receipt"), struct {
		NotificationID string `json:"notification_id"`
	}{a.NotificationID})
	s.Stats.Receipts.Add(1)
	if r.Decision == "" || !sleep(ctx, s.ResponseDelay) {
		return
	}
	s.publish(s.topic("response"), struct {
		RequestID string         `json:"request_id"`
		Decision  model.Decision `json:"decision"`
	}{a.Alert.RequestID, r.Decision})
	s.Stats.Responses.Add(1)
}

func (s *SimulatedDonor) toggleAvailability() {
	if s.Donor.Availability == model.Unavailable {
		s.Donor.Availability = model.Available
	} else if roll() < 0.2 {
		s.Donor.Availability = model.Unavailable
	}
	s.publish(s.topic("availability"), struct {
		Availability string           `json:"availability"`
		Location     model.Coordinate `json:"location"`
		TS           int64            `json:"ts"`
	}{s.Donor.Availability.String(), s.Donor.Location, time.Now().Unix()})
}

func (s *SimulatedDonor) publish(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("%s: marshal: %v", s.Donor.ID, err)
		return
	}
	if err := s.bus.Publish(topic, payload); err != nil {
		log.Printf("%s: %v", s.Donor.ID, err)
	}
}
