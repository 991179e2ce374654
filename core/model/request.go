package model

import (
	"fmt"
	"strings"
	"time"
)

// Urgency expresses how quickly a request must be served.
type Urgency string

const (
	UrgencyCritical Urgency = "critical"
	UrgencyHigh     Urgency = "high"
	UrgencyNormal   Urgency = "normal"
)

// ParseUrgency validates s. An empty string defaults to normal.
func ParseUrgency(s string) (Urgency, error) {
	switch u := Urgency(strings.ToLower(strings.TrimSpace(s))); u {
	case UrgencyCritical, UrgencyHigh, UrgencyNormal:
		return u, nil
	case "":
		return UrgencyNormal, nil
	}
	return "", fmt.Errorf("unknown urgency %q", s)
}

// Label is the human readable time frame shown to requesters.
func (u Urgency) Label() string {
	switch u {
	case UrgencyCritical:
		return "Immediate"
	case UrgencyHigh:
		return "Within 2 hours"
	default:
		return "Within 24 hours"
	}
}

// AllowsEmergencyOnly reports whether emergency-only donors may be contacted.
func (u Urgency) AllowsEmergencyOnly() bool {
	return u == UrgencyCritical || u == UrgencyHigh
}

// Status is the lifecycle state of an emergency request.
type Status string

const (
	StatusCreated           Status = "created"
	StatusMatching          Status = "matching"
	StatusAwaitingResponses Status = "awaiting_responses"
	StatusEscalated         Status = "escalated"
	StatusFulfilled         Status = "fulfilled"
	StatusExpired           Status = "expired"
	StatusCancelled         Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusFulfilled || s == StatusExpired || s == StatusCancelled
}

// Cause explains why a request left the active states.
type Cause string

const (
	CauseNone             Cause = ""
	CauseFulfilled        Cause = "fulfilled"
	CauseNoCandidates     Cause = "no_candidates"
	CauseDeadlineExceeded Cause = "deadline_exceeded"
	CauseCancelled        Cause = "cancelled"
	CauseShutdown         Cause = "shutdown"
	CauseInternal         Cause = "internal_error"
)

// Hospital is the delivery point of a request.
type Hospital struct {
	Name     string     `json:"name"`
	Location Coordinate `json:"location"`
	Address  string     `json:"address,omitempty"`
	PinCode  string     `json:"pin_code,omitempty"`
}

// Requester identifies who raised the request.
type Requester struct {
	Name         string        `json:"name,omitempty"`
	Phone        string        `json:"phone,omitempty"`
	Email        string        `json:"email,omitempty"`
	Organization *Organization `json:"organization,omitempty"`
}

// EmergencyRequest is owned by the dispatch state machine.
type EmergencyRequest struct {
	ID             string    `json:"id"`
	BloodType      BloodType `json:"blood_type"`
	Quantity       int       `json:"quantity"`
	Urgency        Urgency   `json:"urgency"`
	Hospital       Hospital  `json:"hospital"`
	Requester      Requester `json:"requester"`
	Notes          string    `json:"notes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Deadline       time.Time `json:"deadline"`
	Status         Status    `json:"status"`
	Cause          Cause     `json:"cause,omitempty"`
	FulfilledUnits int       `json:"fulfilled_units"`
	ClosedAt       time.Time `json:"closed_at,omitempty"`
}

// Remaining returns the number of units still needed.
func (r EmergencyRequest) Remaining() int {
	if n := r.Quantity - r.FulfilledUnits; n > 0 {
		return n
	}
	return 0
}
