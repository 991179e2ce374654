package dispatch

import (
	"context"
	"time"

	"github.com/kilianp07/bloodlink/core/logger"
	"github.com/kilianp07/bloodlink/core/model"
)

// Escalation is handed to a human operator or broadcast channel when a
// matching round finds nobody.
type Escalation struct {
	RequestID      string          `json:"request_id"`
	BloodType      model.BloodType `json:"blood_type"`
	Urgency        model.Urgency   `json:"urgency"`
	Quantity       int             `json:"quantity"`
	FulfilledUnits int             `json:"fulfilled_units"`
	Hospital       model.Hospital  `json:"hospital"`
	Round          int             `json:"round"`
	RadiusKm       float64         `json:"radius_km"`
	NextRadiusKm   float64         `json:"next_radius_km"`
	Deadline       time.Time       `json:"deadline"`
	Time           time.Time       `json:"time"`
}

// EscalationSink receives escalations.
type EscalationSink interface {
	Escalate(ctx context.Context, e Escalation) error
}

// EscalationFunc adapts a function to EscalationSink.
type EscalationFunc func(ctx context.Context, e Escalation) error

func (f EscalationFunc) Escalate(ctx context.Context, e Escalation) error { return f(ctx, e) }

// LogEscalation only logs escalations.
type LogEscalation struct {
	Log logger.Logger
}

func (l LogEscalation) Escalate(_ context.Context, e Escalation) error {
	logger.OrNop(l.Log).Warnf("request %s (%s x%d, %s) escalated: round %d, radius %.1fkm -> %.1fkm",
		e.RequestID, e.BloodType, e.Quantity-e.FulfilledUnits, e.Urgency, e.Round, e.RadiusKm, e.NextRadiusKm)
	return nil
}

// MultiEscalation forwards to every sink and returns the first error.
type MultiEscalation []EscalationSink

func (m MultiEscalation) Escalate(ctx context.Context, e Escalation) error {
	var first error
	for _, s := range m {
		if err := s.Escalate(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
