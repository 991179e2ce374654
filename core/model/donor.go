package model

import (
	"fmt"
	"strings"
	"time"
)

// Availability is the donor-declared readiness to be contacted.
type Availability int

const (
	Unavailable Availability = iota
	EmergencyOnly
	Available
)

// String returns the wire name of the availability.
func (a Availability) String() string {
	switch a {
	case Available:
		return "available"
	case EmergencyOnly:
		return "emergency-only"
	default:
		return "unavailable"
	}
}

// ParseAvailability accepts the names returned by String.
func ParseAvailability(s string) (Availability, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "available":
		return Available, nil
	case "emergency-only", "emergency_only", "emergency":
		return EmergencyOnly, nil
	case "unavailable":
		return Unavailable, nil
	}
	return Unavailable, fmt.Errorf("unknown availability %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (a Availability) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Availability) UnmarshalText(b []byte) error {
	v, err := ParseAvailability(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Eligibility holds the health flags verified by the registry.
type Eligibility struct {
	HealthConditions []string `json:"health_conditions,omitempty"`
	Vaccinated       bool     `json:"vaccinated"`
	// Deferred marks a donor temporarily barred by a medical decision.
	Deferred bool `json:"deferred"`
}

// HasCondition reports whether the donor declared the condition, ignoring case.
func (e Eligibility) HasCondition(cond string) bool {
	for _, c := range e.HealthConditions {
		if strings.EqualFold(strings.TrimSpace(c), strings.TrimSpace(cond)) {
			return true
		}
	}
	return false
}

// Channel identifies how a donor is reached.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
)

// ContactRef points to the donor's preferred notification endpoint.
type ContactRef struct {
	Channel Channel `json:"channel"`
	Address string  `json:"address"`
}

// Donor is the engine's cached view of a registry record.
type Donor struct {
	ID           string       `json:"id"`
	BloodType    BloodType    `json:"blood_type"`
	Location     Coordinate   `json:"location"`
	Availability Availability `json:"availability"`
	// LastDonation is zero when the donor never donated.
	LastDonation time.Time   `json:"last_donation,omitempty"`
	Eligibility  Eligibility `json:"eligibility"`
	Contact      ContactRef  `json:"contact"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Validate checks the fields the engine relies on.
func (d Donor) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("donor id is required")
	}
	if !d.BloodType.Valid() {
		return fmt.Errorf("donor %s: %w: %q", d.ID, ErrInvalidBloodType, d.BloodType)
	}
	if err := d.Location.Validate(); err != nil {
		return fmt.Errorf("donor %s: %w", d.ID, err)
	}
	return nil
}

// SinceLastDonation returns the time elapsed since the last donation. Donors
// who never donated report the maximum duration.
func (d Donor) SinceLastDonation(now time.Time) time.Duration {
	if d.LastDonation.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(d.LastDonation)
}

// Clone returns a copy that does not share slices with d.
func (d Donor) Clone() Donor {
	if d.Eligibility.HealthConditions != nil {
		d.Eligibility.HealthConditions = append([]string(nil), d.Eligibility.HealthConditions...)
	}
	return d
}
