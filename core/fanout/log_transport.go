package fanout

import (
	"context"

	"github.com/kilianp07/bloodlink/core/logger"
)

// LogTransport logs alerts instead of sending them. It is used for dry runs.
type LogTransport struct {
	Log logger.Logger
}

func (t LogTransport) Send(_ context.Context, to Recipient, s Summary) error {
	logger.OrNop(t.Log).Debugw("alert", map[string]any{
		"donor_id":   to.DonorID,
		"channel":    string(to.Contact.Channel),
		"address":    to.Contact.Address,
		"request_id": s.RequestID,
		"blood_type": string(s.BloodType),
		"urgency":    s.UrgencyLabel,
		"hospital":   s.Hospital.Name,
	})
	return nil
}
