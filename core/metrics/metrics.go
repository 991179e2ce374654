package metrics

import (
	"time"

	"github.com/kilianp07/bloodlink/core/model"
)

// RequestOutcome is recorded once per request when it reaches a terminal state.
type RequestOutcome struct {
	RequestID      string
	BloodType      model.BloodType
	Urgency        model.Urgency
	Status         model.Status
	Cause          model.Cause
	Quantity       int
	FulfilledUnits int
	Waves          int
	Escalations    int
	CreatedAt      time.Time
	ClosedAt       time.Time
}

// Duration returns the time the request stayed open.
func (o RequestOutcome) Duration() time.Duration { return o.ClosedAt.Sub(o.CreatedAt) }

// MetricsSink records request outcomes for observability purposes.
type MetricsSink interface {
	RecordRequestOutcome(o RequestOutcome) error
}

// WaveRecord describes a released wave.
type WaveRecord struct {
	RequestID string
	Urgency   model.Urgency
	Seq       int
	Size      int
	RadiusKm  float64
	Time      time.Time
}

// WaveRecorder records released waves.
type WaveRecorder interface {
	RecordWave(w WaveRecord) error
}

// NotificationRecord is one alert delivery outcome.
type NotificationRecord struct {
	RequestID string
	DonorID   string
	Outcome   string
	Error     string
	Latency   time.Duration
	Time      time.Time
}

// NotificationRecorder records alert delivery outcomes.
type NotificationRecorder interface {
	RecordNotification(n NotificationRecord) error
}

// ResponseRecord is one arbitrated donor response.
type ResponseRecord struct {
	RequestID string
	DonorID   string
	Decision  string
	Result    string
	Time      time.Time
}

// ResponseRecorder records arbitrated responses.
type ResponseRecorder interface {
	RecordResponse(r ResponseRecord) error
}

// EscalationRecord is a matching round without candidates.
type EscalationRecord struct {
	RequestID string
	Round     int
	RadiusKm  float64
	Time      time.Time
}

// EscalationRecorder records escalations.
type EscalationRecorder interface {
	RecordEscalation(e EscalationRecord) error
}

// DonorPoolRecorder records the number of indexed donors.
type DonorPoolRecorder interface {
	RecordDonorPool(size int) error
}

// NopSink implements MetricsSink and every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordRequestOutcome(RequestOutcome) error   { return nil }
func (NopSink) RecordWave(WaveRecord) error                 { return nil }
func (NopSink) RecordNotification(NotificationRecord) error { return nil }
func (NopSink) RecordResponse(ResponseRecord) error         { return nil }
func (NopSink) RecordEscalation(EscalationRecord) error     { return nil }
func (NopSink) RecordDonorPool(int) error                   { return nil }
