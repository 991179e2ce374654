// Package engagement aggregates per-donor daily alert and response counts.
package engagement

import "time"

// Record aggregates engagement metrics for a donor and day.
type Record struct {
	DonorID  string    `json:"donor_id"`
	Date     time.Time `json:"date"`
	Alerts   int       `json:"alerts"`
	Failed   int       `json:"failed"`
	Accepts  int       `json:"accepts"`
	Declines int       `json:"declines"`
	Timeouts int       `json:"timeouts"`
}

// Answered returns the number of alerts that got a decision or timed out.
func (r Record) Answered() int { return r.Accepts + r.Declines + r.Timeouts }

// AcceptRate returns accepts over answered alerts.
func (r Record) AcceptRate() float64 {
	n := r.Answered()
	if n == 0 {
		return 0
	}
	return float64(r.Accepts) / float64(n)
}

// DeliveryRate returns the share of alerts that did not fail.
func (r Record) DeliveryRate() float64 {
	if r.Alerts == 0 {
		return 0
	}
	return float64(r.Alerts-r.Failed) / float64(r.Alerts)
}

func (r *Record) merge(o Record) {
	r.Alerts += o.Alerts
	r.Failed += o.Failed
	r.Accepts += o.Accepts
	r.Declines += o.Declines
	r.Timeouts += o.Timeouts
}
