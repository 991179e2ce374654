// Package scenarios replays scripted emergencies against the dispatch engine.
package scenarios

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/bloodlink/core/dispatch"
	"github.com/kilianp07/bloodlink/core/model"
)

var hospital = model.Coordinate{Lat: 48.8566, Lon: 2.3522}

const kmPerDegLat = 111.195

type DonorDef struct {
	ID        string `yaml:"id"`
	BloodType string `yaml:"blood_type"`
	// Km is the distance north of the hospital.
	Km           float64 `yaml:"km"`
	Availability string  `yaml:"availability,omitempty"`
}

func (d DonorDef) ToModel() (model.Donor, error) {
	bt, err := model.ParseBloodType(d.BloodType)
	if err != nil {
		return model.Donor{}, fmt.Errorf("donor %s: %w", d.ID, err)
	}
	avail := model.Available
	if d.Availability != "" {
		if avail, err = model.ParseAvailability(d.Availability); err != nil {
			return model.Donor{}, fmt.Errorf("donor %s: %w", d.ID, err)
		}
	}
	return model.Donor{
		ID:           d.ID,
		BloodType:    bt,
		Location:     model.Coordinate{Lat: hospital.Lat + d.Km/kmPerDegLat, Lon: hospital.Lon},
		Availability: avail,
		Contact:      model.ContactRef{Channel: model.ChannelPush, Address: "push:" + d.ID},
	}, nil
}

type RequestDef struct {
	BloodType string `yaml:"blood_type"`
	Units     int    `yaml:"units"`
	Urgency   string `yaml:"urgency"`
}

func (r RequestDef) ToSubmission() dispatch.Submission {
	return dispatch.Submission{
		BloodType: r.BloodType,
		Quantity:  r.Units,
		Urgency:   r.Urgency,
		Hospital:  model.Hospital{Name: "Scenario General", Location: hospital},
		Requester: model.Requester{Name: "QA"},
	}
}

type Expected struct {
	Status         string   `yaml:"status"`
	Cause          string   `yaml:"cause,omitempty"`
	FulfilledUnits int      `yaml:"fulfilled_units"`
	Waves          int      `yaml:"waves,omitempty"`
	Alerted        []string `yaml:"alerted,omitempty"`
	NotAlerted     []string `yaml:"not_alerted,omitempty"`
}

type Scenario struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Donors      []DonorDef `yaml:"donors"`
	Request     RequestDef `yaml:"request"`
	// Responses maps a donor to the decision sent as soon as it is alerted.
	// Donors not listed stay silent.
	Responses   map[string]string `yaml:"responses,omitempty"`
	FailDonors  []string          `yaml:"fail_donors,omitempty"`
	WaveTimeout time.Duration     `yaml:"wave_timeout,omitempty"`
	MaxRadiusKm float64           `yaml:"max_radius_km,omitempty"`
	Expected    Expected          `yaml:"expected"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	for d, dec := range sc.Responses {
		if _, err := model.ParseDecision(dec); err != nil {
			return nil, fmt.Errorf("response of %s: %w", d, err)
		}
	}
	return &sc, nil
}
