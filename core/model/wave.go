package model

import (
	"slices"
	"time"
)

// CandidateWave is a batch of donors notified together. The donor list is
// fixed at construction.
type CandidateWave struct {
	RequestID string
	Seq       int
	RadiusKm  float64
	CreatedAt time.Time
	Deadline  time.Time
	donorIDs  []string
}

// NewCandidateWave copies ids so later changes by the caller are not seen.
func NewCandidateWave(requestID string, seq int, ids []string, radiusKm float64, created, deadline time.Time) CandidateWave {
	return CandidateWave{
		RequestID: requestID,
		Seq:       seq,
		RadiusKm:  radiusKm,
		CreatedAt: created,
		Deadline:  deadline,
		donorIDs:  slices.Clone(ids),
	}
}

// DonorIDs returns the ordered members of the wave.
func (w CandidateWave) DonorIDs() []string { return slices.Clone(w.donorIDs) }

// Len returns the number of donors in the wave.
func (w CandidateWave) Len() int { return len(w.donorIDs) }

// Contains reports whether id belongs to the wave.
func (w CandidateWave) Contains(id string) bool { return slices.Contains(w.donorIDs, id) }

// WaveSummary is the serializable view of a wave.
type WaveSummary struct {
	Seq       int       `json:"seq"`
	DonorIDs  []string  `json:"donor_ids"`
	RadiusKm  float64   `json:"radius_km"`
	CreatedAt time.Time `json:"created_at"`
	Deadline  time.Time `json:"deadline"`
}

// Summary returns the serializable view of w.
func (w CandidateWave) Summary() WaveSummary {
	return WaveSummary{Seq: w.Seq, DonorIDs: w.DonorIDs(), RadiusKm: w.RadiusKm, CreatedAt: w.CreatedAt, Deadline: w.Deadline}
}
