package dispatch

import (
	"strings"

	"github.com/kilianp07/bloodlink/core/model"
)

// MaxUnits caps the quantity of a single request.
const MaxUnits = 50

// Submission is the intake payload of an emergency request.
type Submission struct {
	BloodType string          `json:"blood_type"`
	Quantity  int             `json:"quantity"`
	Urgency   string          `json:"urgency"`
	Hospital  model.Hospital  `json:"hospital"`
	Requester model.Requester `json:"requester"`
	Notes     string          `json:"notes,omitempty"`
}

func invalid(field, reason string) error { return &ValidationError{Field: field, Reason: reason} }

// request validates s and returns the request it describes.
func (s Submission) request() (model.EmergencyRequest, error) {
	bt, err := model.ParseBloodType(s.BloodType)
	if err != nil {
		return model.EmergencyRequest{}, invalid("blood_type", err.Error())
	}
	if s.Quantity < 1 || s.Quantity > MaxUnits {
		return model.EmergencyRequest{}, invalid("quantity", "must be between 1 and 50 units")
	}
	u, err := model.ParseUrgency(s.Urgency)
	if err != nil {
		return model.EmergencyRequest{}, invalid("urgency", err.Error())
	}
	h := s.Hospital
	h.Name = strings.TrimSpace(h.Name)
	if h.Name == "" {
		return model.EmergencyRequest{}, invalid("hospital.name", "is required")
	}
	if h.Location.IsZero() {
		return model.EmergencyRequest{}, invalid("hospital.location", "is required")
	}
	if err := h.Location.Validate(); err != nil {
		return model.EmergencyRequest{}, invalid("hospital.location", err.Error())
	}
	if h.PinCode != "" && !model.ValidPinCode(h.PinCode) {
		return model.EmergencyRequest{}, invalid("hospital.pin_code", "must be 6 digits")
	}
	rq := s.Requester
	if rq.Phone != "" && !model.ValidPhone(rq.Phone) {
		return model.EmergencyRequest{}, invalid("requester.phone", "must be 10 digits")
	}
	if rq.Email != "" && !model.ValidEmail(rq.Email) {
		return model.EmergencyRequest{}, invalid("requester.email", "is malformed")
	}
	if rq.Organization != nil {
		if err := rq.Organization.Validate(); err != nil {
			return model.EmergencyRequest{}, invalid("requester.organization", err.Error())
		}
	}
	return model.EmergencyRequest{
		BloodType: bt,
		Quantity:  s.Quantity,
		Urgency:   u,
		Hospital:  h,
		Requester: rq,
		Notes:     strings.TrimSpace(s.Notes),
	}, nil
}
