package model

import (
	"fmt"
	"strings"
)

// OrganizationKind tags the variant of an Organization.
type OrganizationKind string

const (
	OrgHospital       OrganizationKind = "hospital"
	OrgBloodBank      OrganizationKind = "blood-bank"
	OrgNGO            OrganizationKind = "ngo"
	OrgMedicalCollege OrganizationKind = "medical-college"
)

// ParseOrganizationKind validates s.
func ParseOrganizationKind(s string) (OrganizationKind, error) {
	switch k := OrganizationKind(strings.ToLower(strings.TrimSpace(s))); k {
	case OrgHospital, OrgBloodBank, OrgNGO, OrgMedicalCollege:
		return k, nil
	}
	return "", fmt.Errorf("unknown organization type %q", s)
}

// Organization is a verified institution able to raise requests. All kinds
// share the same capability surface; Kind only drives presentation and audit.
type Organization struct {
	Kind     OrganizationKind `json:"kind"`
	Name     string           `json:"name"`
	Location Coordinate       `json:"location"`
	Phone    string           `json:"phone,omitempty"`
	Email    string           `json:"email,omitempty"`
	License  string           `json:"license,omitempty"`
}

// Validate checks the organization variant and its contact details.
func (o Organization) Validate() error {
	if _, err := ParseOrganizationKind(string(o.Kind)); err != nil {
		return err
	}
	if strings.TrimSpace(o.Name) == "" {
		return fmt.Errorf("organization name is required")
	}
	if o.Phone != "" && !ValidPhone(o.Phone) {
		return fmt.Errorf("organization phone %q is not 10 digits", o.Phone)
	}
	if o.Email != "" && !ValidEmail(o.Email) {
		return fmt.Errorf("organization email %q is malformed", o.Email)
	}
	return nil
}
