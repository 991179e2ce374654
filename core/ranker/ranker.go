// Package ranker orders candidate donors for an emergency request.
package ranker

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/kilianp07/bloodlink/core/compat"
	"github.com/kilianp07/bloodlink/core/model"
)

// DefaultMinInterval is the minimum gap between two whole-blood donations.
const DefaultMinInterval = 90 * 24 * time.Hour

// Config holds the eligibility gates applied before ordering.
type Config struct {
	MinInterval time.Duration `json:"min_interval"`
	// DisqualifyingConditions lists declared health conditions that bar a
	// donor from being contacted. Matching ignores case.
	DisqualifyingConditions []string `json:"disqualifying_conditions"`
	RequireVaccination      bool     `json:"require_vaccination"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.MinInterval == 0 {
		c.MinInterval = DefaultMinInterval
	}
}

// Reason tells why a donor was gated out.
type Reason string

const (
	ReasonEligible      Reason = ""
	ReasonUnavailable   Reason = "unavailable"
	ReasonEmergencyOnly Reason = "emergency_only"
	ReasonIncompatible  Reason = "incompatible"
	ReasonDeferred      Reason = "deferred"
	ReasonCondition     Reason = "health_condition"
	ReasonUnvaccinated  Reason = "unvaccinated"
	ReasonRecentDonor   Reason = "recent_donation"
)

// Ranker is stateless apart from its configuration and safe for concurrent use.
type Ranker struct {
	cfg Config
}

// New returns a ranker with defaults applied to cfg.
func New(cfg Config) *Ranker {
	cfg.SetDefaults()
	return &Ranker{cfg: cfg}
}

// Gate returns ReasonEligible when d may be contacted for req at now.
func (r *Ranker) Gate(d model.Donor, req model.EmergencyRequest, now time.Time) Reason {
	switch d.Availability {
	case model.Unavailable:
		return ReasonUnavailable
	case model.EmergencyOnly:
		if !req.Urgency.AllowsEmergencyOnly() {
			return ReasonEmergencyOnly
		}
	}
	if !compat.CanDonate(d.BloodType, req.BloodType) {
		return ReasonIncompatible
	}
	if d.Eligibility.Deferred {
		return ReasonDeferred
	}
	for _, c := range r.cfg.DisqualifyingConditions {
		if d.Eligibility.HasCondition(c) {
			return ReasonCondition
		}
	}
	if r.cfg.RequireVaccination && !d.Eligibility.Vaccinated {
		return ReasonUnvaccinated
	}
	if !d.LastDonation.IsZero() && now.Sub(d.LastDonation) < r.cfg.MinInterval {
		return ReasonRecentDonor
	}
	return ReasonEligible
}

// Rank filters ineligible donors and orders the rest by distance to the
// hospital, then by the longest time since the last donation, then by id.
// The result is deterministic for identical inputs.
func (r *Ranker) Rank(cands []model.Donor, req model.EmergencyRequest, now time.Time) []model.Match {
	out := make([]model.Match, 0, len(cands))
	for _, d := range cands {
		if r.Gate(d, req, now) != ReasonEligible {
			continue
		}
		out = append(out, model.Match{
			Donor:             d,
			RequestID:         req.ID,
			Score:             req.Hospital.Location.DistanceKm(d.Location),
			SinceLastDonation: d.SinceLastDonation(now),
		})
	}
	slices.SortStableFunc(out, compareMatch)
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func compareMatch(a, b model.Match) int {
	if c := cmp.Compare(a.Score, b.Score); c != 0 {
		return c
	}
	if c := cmp.Compare(b.SinceLastDonation, a.SinceLastDonation); c != 0 {
		return c
	}
	return strings.Compare(a.Donor.ID, b.Donor.ID)
}
