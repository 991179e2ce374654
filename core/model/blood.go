package model

import (
	"errors"
	"fmt"
	"strings"
)

// BloodType is one of the eight canonical ABO/Rh types.
type BloodType string

const (
	APos  BloodType = "A+"
	ANeg  BloodType = "A-"
	BPos  BloodType = "B+"
	BNeg  BloodType = "B-"
	ABPos BloodType = "AB+"
	ABNeg BloodType = "AB-"
	OPos  BloodType = "O+"
	ONeg  BloodType = "O-"
)

// ErrInvalidBloodType is returned for any value outside the canonical set.
var ErrInvalidBloodType = errors.New("invalid blood type")

// BloodTypes lists the canonical types in a fixed order.
var BloodTypes = []BloodType{APos, ANeg, BPos, BNeg, ABPos, ABNeg, OPos, ONeg}

// ParseBloodType normalizes s ("ab+", " O- ") and validates it.
func ParseBloodType(s string) (BloodType, error) {
	bt := BloodType(strings.ToUpper(strings.TrimSpace(s)))
	if !bt.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidBloodType, s)
	}
	return bt, nil
}

// Valid reports whether t is one of the canonical types.
func (t BloodType) Valid() bool {
	switch t {
	case APos, ANeg, BPos, BNeg, ABPos, ABNeg, OPos, ONeg:
		return true
	}
	return false
}

func (t BloodType) String() string { return string(t) }
