package model

import (
	"fmt"
	"strings"
	"time"
)

// Decision is a donor's answer to an alert.
type Decision string

const (
	DecisionAccept  Decision = "accept"
	DecisionDecline Decision = "decline"
	DecisionTimeout Decision = "timeout"
)

// ParseDecision validates s. Timeouts are synthesized by the engine and
// cannot be submitted by donors.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(strings.ToLower(strings.TrimSpace(s))); d {
	case DecisionAccept, DecisionDecline:
		return d, nil
	}
	return "", fmt.Errorf("unknown decision %q", s)
}

// DonorResponse is a single answer recorded against a request.
type DonorResponse struct {
	DonorID   string    `json:"donor_id"`
	RequestID string    `json:"request_id"`
	Decision  Decision  `json:"decision"`
	Timestamp time.Time `json:"timestamp"`
}
