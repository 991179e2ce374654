package dispatch

import (
	"sync"
	"time"

	"github.com/kilianp07/bloodlink/core/arbiter"
	"github.com/kilianp07/bloodlink/core/model"
)

// Status is the externally visible snapshot of a request.
type Status struct {
	RequestID        string             `json:"request_id"`
	Status           model.Status       `json:"status"`
	Cause            model.Cause        `json:"cause,omitempty"`
	Error            string             `json:"error,omitempty"`
	BloodType        model.BloodType    `json:"blood_type"`
	Urgency          model.Urgency      `json:"urgency"`
	UrgencyLabel     string             `json:"urgency_label"`
	Hospital         string             `json:"hospital"`
	RequestedUnits   int                `json:"requested_units"`
	FulfilledUnits   int                `json:"fulfilled_units"`
	ActiveWave       *model.WaveSummary `json:"active_wave,omitempty"`
	Waves            int                `json:"waves"`
	EscalationRounds int                `json:"escalation_rounds"`
	RadiusKm         float64            `json:"radius_km"`
	CreatedAt        time.Time          `json:"created_at"`
	Deadline         time.Time          `json:"deadline"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// Err returns the error matching the terminal cause, nil while active or
// once fulfilled or cancelled.
func (s Status) Err() error { return causeError(s.Cause) }

type signalKind int

const (
	sigResponse signalKind = iota
	sigCancel
)

type signal struct {
	kind    signalKind
	resp    model.DonorResponse
	verdict arbiter.Verdict
	ack     chan struct{}
}

// request is the shared part of a request actor. Fields below mu are
// written only by the actor goroutine.
type request struct {
	inbox chan signal
	done  chan struct{}

	mu          sync.RWMutex
	req         model.EmergencyRequest
	radius      float64
	waves       []model.WaveSummary
	active      *model.WaveSummary
	escalations int
	updated     time.Time
}

func newRequest(req model.EmergencyRequest, radius float64, now time.Time) *request {
	return &request{
		inbox:   make(chan signal, 16),
		done:    make(chan struct{}),
		req:     req,
		radius:  radius,
		updated: now,
	}
}

func (r *request) snapshot() model.EmergencyRequest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.req
}

func (r *request) terminal() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.req.Status.Terminal()
}

func (r *request) status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Status{
		RequestID:        r.req.ID,
		Status:           r.req.Status,
		Cause:            r.req.Cause,
		BloodType:        r.req.BloodType,
		Urgency:          r.req.Urgency,
		UrgencyLabel:     r.req.Urgency.Label(),
		Hospital:         r.req.Hospital.Name,
		RequestedUnits:   r.req.Quantity,
		FulfilledUnits:   r.req.FulfilledUnits,
		Waves:            len(r.waves),
		EscalationRounds: r.escalations,
		RadiusKm:         r.radius,
		CreatedAt:        r.req.CreatedAt,
		Deadline:         r.req.Deadline,
		UpdatedAt:        r.updated,
	}
	if err := causeError(r.req.Cause); err != nil {
		s.Error = err.Error()
	}
	if r.active != nil {
		w := *r.active
		w.DonorIDs = append([]string(nil), w.DonorIDs...)
		s.ActiveWave = &w
	}
	return s
}
