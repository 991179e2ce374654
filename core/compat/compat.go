// Package compat resolves red-cell transfusion compatibility between the
// eight ABO/Rh blood types.
package compat

import (
	"fmt"
	"slices"
	"strings"

	"github.com/kilianp07/bloodlink/core/model"
)

// Set is a bitset over the canonical blood types.
type Set uint8

// donates is the canonical donor -> recipients table. Everything else in this
// package is derived from it.
var donates = map[model.BloodType][]model.BloodType{
	model.ONeg:  model.BloodTypes,
	model.OPos:  {model.OPos, model.APos, model.BPos, model.ABPos},
	model.ANeg:  {model.ANeg, model.APos, model.ABNeg, model.ABPos},
	model.APos:  {model.APos, model.ABPos},
	model.BNeg:  {model.BNeg, model.BPos, model.ABNeg, model.ABPos},
	model.BPos:  {model.BPos, model.ABPos},
	model.ABNeg: {model.ABNeg, model.ABPos},
	model.ABPos: {model.ABPos},
}

var (
	recipientsOf = map[model.BloodType]Set{}
	donorsOf     = map[model.BloodType]Set{}
)

func init() {
	for donor, recips := range donates {
		for _, r := range recips {
			recipientsOf[donor] = recipientsOf[donor].With(r)
			donorsOf[r] = donorsOf[r].With(donor)
		}
	}
}

func bit(t model.BloodType) Set {
	i := slices.Index(model.BloodTypes, t)
	if i < 0 {
		return 0
	}
	return 1 << uint(i)
}

// With returns s with t added.
func (s Set) With(t model.BloodType) Set { return s | bit(t) }

// Has reports whether t is in s.
func (s Set) Has(t model.BloodType) bool {
	b := bit(t)
	return b != 0 && s&b != 0
}

// Len returns the number of types in s.
func (s Set) Len() int {
	n := 0
	for _, t := range model.BloodTypes {
		if s.Has(t) {
			n++
		}
	}
	return n
}

// Types lists the members of s in model.BloodTypes order.
func (s Set) Types() []model.BloodType {
	out := make([]model.BloodType, 0, 8)
	for _, t := range model.BloodTypes {
		if s.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

func (s Set) String() string {
	names := make([]string, 0, 8)
	for _, t := range s.Types() {
		names = append(names, string(t))
	}
	return "{" + strings.Join(names, ",") + "}"
}

// CompatibleDonorTypes returns the donor types whose red cells a recipient of
// type recipient can receive.
func CompatibleDonorTypes(recipient model.BloodType) (Set, error) {
	if !recipient.Valid() {
		return 0, fmt.Errorf("%w: %q", model.ErrInvalidBloodType, recipient)
	}
	return donorsOf[recipient], nil
}

// Recipients returns the recipient types a donor of type donor can serve.
func Recipients(donor model.BloodType) (Set, error) {
	if !donor.Valid() {
		return 0, fmt.Errorf("%w: %q", model.ErrInvalidBloodType, donor)
	}
	return recipientsOf[donor], nil
}

// CanDonate reports whether donor blood can be given to recipient.
func CanDonate(donor, recipient model.BloodType) bool {
	return recipientsOf[donor].Has(recipient)
}

// ParseSet parses a comma separated list such as "O-,A+".
func ParseSet(s string) (Set, error) {
	var out Set
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		t, err := model.ParseBloodType(part)
		if err != nil {
			return 0, err
		}
		out = out.With(t)
	}
	return out, nil
}
