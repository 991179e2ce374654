// Package audit persists one record per emergency request once it reaches a
// terminal state.
package audit

import (
	"context"
	"slices"
	"time"

	"github.com/kilianp07/bloodlink/core/model"
)

// Response is a donor answer as arbitrated.
type Response struct {
	DonorID   string         `json:"donor_id"`
	Decision  model.Decision `json:"decision"`
	Result    string         `json:"result"`
	Reason    string         `json:"reason,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notification is the delivery outcome of one alert.
type Notification struct {
	DonorID string `json:"donor_id"`
	WaveSeq int    `json:"wave_seq"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// Record captures the full history of a request.
type Record struct {
	Timestamp     time.Time              `json:"timestamp"`
	Request       model.EmergencyRequest `json:"request"`
	Waves         []model.WaveSummary    `json:"waves"`
	Notifications []Notification         `json:"notifications"`
	Responses     []Response             `json:"responses"`
	Escalations   int                    `json:"escalations"`
}

// Involves reports whether the donor was contacted or answered.
func (r Record) Involves(donorID string) bool {
	for _, w := range r.Waves {
		if slices.Contains(w.DonorIDs, donorID) {
			return true
		}
	}
	for _, resp := range r.Responses {
		if resp.DonorID == donorID {
			return true
		}
	}
	return false
}

// Query defines filters for retrieving records. Zero fields match anything.
type Query struct {
	Start     time.Time
	End       time.Time
	RequestID string
	DonorID   string
	BloodType model.BloodType
	Status    model.Status
	// Limit caps the number of records returned; zero means no limit.
	Limit int
}

// Match reports whether r satisfies q.
func (q Query) Match(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.RequestID != "" && r.Request.ID != q.RequestID {
		return false
	}
	if q.BloodType != "" && r.Request.BloodType != q.BloodType {
		return false
	}
	if q.Status != "" && r.Request.Status != q.Status {
		return false
	}
	if q.DonorID != "" && !r.Involves(q.DonorID) {
		return false
	}
	return true
}

func (q Query) full(n int) bool { return q.Limit > 0 && n >= q.Limit }

// Store persists Records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// NopStore discards records.
type NopStore struct{}

func (NopStore) Append(context.Context, Record) error           { return nil }
func (NopStore) Query(context.Context, Query) ([]Record, error) { return nil, nil }
func (NopStore) Close() error                                   { return nil }
