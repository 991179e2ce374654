package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"time"

	"github.com/kilianp07/bloodlink/core/model"
)

var popRng = rand.New(rand.NewSource(time.Now().UnixNano()))

// bloodTypeShare approximates the distribution of ABO/Rh groups among donors.
var bloodTypeShare = []struct {
	bt    model.BloodType
	share float64
}{
	{model.OPos, 0.36}, {model.APos, 0.34}, {model.BPos, 0.08}, {model.ONeg, 0.06},
	{model.ANeg, 0.06}, {model.ABPos, 0.05}, {model.BNeg, 0.03}, {model.ABNeg, 0.02},
}

func pickBloodType(r float64) model.BloodType {
	acc := 0.0
	for _, s := range bloodTypeShare {
		acc += s.share
		if r < acc {
			return s.bt
		}
	}
	return model.OPos
}

// scatter returns a point at most spreadKm away from center, uniformly
// distributed over the disc.
func scatter(center model.Coordinate, spreadKm float64) model.Coordinate {
	d := spreadKm * math.Sqrt(popRng.Float64())
	theta := 2 * math.Pi * popRng.Float64()
	dLat := d * math.Cos(theta) / 111.195
	dLon := d * math.Sin(theta) / (111.195 * math.Max(math.Cos(center.Lat*math.Pi/180), 0.01))
	return model.Coordinate{
		Lat: math.Max(-90, math.Min(90, center.Lat+dLat)),
		Lon: math.Mod(center.Lon+dLon+540, 360) - 180,
	}
}

// GeneratePopulation creates cfg.Count donors with IDs donor0001..donorNNNN.
// About one donor in ten only answers critical requests.
func GeneratePopulation(cfg Config) []model.Donor {
	if cfg.Count <= 0 {
		return nil
	}
	out := make([]model.Donor, cfg.Count)
	for i := range out {
		id := fmt.Sprintf("donor%04d", i+1)
		avail := model.Available
		if popRng.Float64() < 0.1 {
			avail = model.EmergencyOnly
		}
		out[i] = model.Donor{
			ID:           id,
			BloodType:    pickBloodType(popRng.Float64()),
			Location:     scatter(cfg.Center, cfg.SpreadKm),
			Availability: avail,
			Contact:      model.ContactRef{Channel: model.ChannelPush, Address: "mqtt:" + id},
			Eligibility:  model.Eligibility{Vaccinated: true},
		}
	}
	return out
}

// ExportPopulation writes donors in the format read by the file registry.
func ExportPopulation(w io.Writer, donors []model.Donor) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Donors []model.Donor `json:"donors"`
	}{donors})
}
