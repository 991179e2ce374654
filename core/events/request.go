package events

import (
	"time"

	"github.com/kilianp07/bloodlink/core/model"
)

// StatusEvent is published on every lifecycle transition.
type StatusEvent struct {
	RequestID string
	BloodType model.BloodType
	Urgency   model.Urgency
	From      model.Status
	To        model.Status
	Cause     model.Cause
	Quantity  int
	Fulfilled int
	// Elapsed is the time since the request was created.
	Elapsed time.Duration
	Time    time.Time
}

// WaveEvent is published when a wave is handed to the fanout.
type WaveEvent struct {
	RequestID string
	Urgency   model.Urgency
	Seq       int
	Size      int
	RadiusKm  float64
	Time      time.Time
}

// EscalationEvent is published each time matching finds no candidate.
type EscalationEvent struct {
	RequestID string
	Round     int
	RadiusKm  float64
	Time      time.Time
}
