package compat

import (
	"errors"
	"testing"

	"github.com/kilianp07/bloodlink/core/model"
)

// expected[recipient] lists every donor type it may receive from.
var expected = map[model.BloodType][]model.BloodType{
	model.ONeg:  {model.ONeg},
	model.OPos:  {model.ONeg, model.OPos},
	model.ANeg:  {model.ONeg, model.ANeg},
	model.APos:  {model.ONeg, model.OPos, model.ANeg, model.APos},
	model.BNeg:  {model.ONeg, model.BNeg},
	model.BPos:  {model.ONeg, model.OPos, model.BNeg, model.BPos},
	model.ABNeg: {model.ONeg, model.ANeg, model.BNeg, model.ABNeg},
	model.ABPos: model.BloodTypes,
}

func TestCompatibilityTableExhaustive(t *testing.T) {
	for _, recipient := range model.BloodTypes {
		set, err := CompatibleDonorTypes(recipient)
		if err != nil {
			t.Fatalf("recipient %s: %v", recipient, err)
		}
		want := map[model.BloodType]bool{}
		for _, d := range expected[recipient] {
			want[d] = true
		}
		for _, donor := range model.BloodTypes {
			if set.Has(donor) != want[donor] {
				t.Fatalf("recipient %s donor %s: got %v want %v", recipient, donor, set.Has(donor), want[donor])
			}
			if CanDonate(donor, recipient) != want[donor] {
				t.Fatalf("CanDonate(%s,%s) disagrees with resolver", donor, recipient)
			}
		}
	}
}

func TestRecipientsIsInverse(t *testing.T) {
	for _, donor := range model.BloodTypes {
		recips, err := Recipients(donor)
		if err != nil {
			t.Fatal(err)
		}
		for _, r := range model.BloodTypes {
			donors, _ := CompatibleDonorTypes(r)
			if recips.Has(r) != donors.Has(donor) {
				t.Fatalf("asymmetry between %s and %s", donor, r)
			}
		}
	}
	if s, _ := Recipients(model.ONeg); s.Len() != 8 {
		t.Fatalf("O- must serve all types, got %s", s)
	}
	if s, _ := CompatibleDonorTypes(model.ABPos); s.Len() != 8 {
		t.Fatalf("AB+ must receive from all types, got %s", s)
	}
}

func TestInvalidType(t *testing.T) {
	if _, err := CompatibleDonorTypes("C+"); !errors.Is(err, model.ErrInvalidBloodType) {
		t.Fatalf("expected ErrInvalidBloodType got %v", err)
	}
	if _, err := Recipients(""); !errors.Is(err, model.ErrInvalidBloodType) {
		t.Fatalf("expected ErrInvalidBloodType got %v", err)
	}
	if CanDonate("X", model.ABPos) {
		t.Fatalf("unknown donor type must not donate")
	}
}

func TestParseSet(t *testing.T) {
	s, err := ParseSet("o-, A+ ,")
	if err != nil {
		t.Fatal(err)
	}
	if !s.Has(model.ONeg) || !s.Has(model.APos) || s.Len() != 2 {
		t.Fatalf("unexpected set %s", s)
	}
	if _, err := ParseSet("O-,Z"); err == nil {
		t.Fatalf("expected error")
	}
}
