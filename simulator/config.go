package main

import (
	"fmt"
	"time"

	"github.com/kilianp07/bloodlink/core/model"
)

// Config holds parameters for the simulator.
type Config struct {
	Broker string
	Count  int
	Center model.Coordinate
	// SpreadKm is the radius of the disc donors are scattered on.
	SpreadKm float64
	// ReceiptLatency delays the delivery receipt of every alert.
	ReceiptLatency time.Duration
	// DropRate is the probability that an alert is never acknowledged.
	DropRate float64
	// AcceptRate is the probability that an acknowledged alert is accepted;
	// the rest are declined or ignored.
	AcceptRate float64
	// IgnoreRate is the probability that an acknowledged alert gets no answer.
	IgnoreRate    float64
	ResponseDelay time.Duration
	// AvailabilityInterval publishes availability updates; zero disables them.
	AvailabilityInterval time.Duration
	// Export writes the generated population as a registry file and exits.
	Export  string
	Verbose bool
}

// Validate checks probabilities and counts.
func (c *Config) Validate() error {
	if c.Count <= 0 {
		return fmt.Errorf("count must be positive")
	}
	for name, p := range map[string]float64{"drop-rate": c.DropRate, "accept-rate": c.AcceptRate, "ignore-rate": c.IgnoreRate} {
		if p < 0 || p > 1 {
			return fmt.Errorf("%s must be within [0,1]", name)
		}
	}
	if c.SpreadKm < 0 {
		return fmt.Errorf("spread must not be negative")
	}
	return c.Center.Validate()
}
