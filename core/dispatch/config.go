package dispatch

import (
	"fmt"
	"time"

	"github.com/kilianp07/bloodlink/core/model"
)

// UrgencyDurations holds one duration per urgency level.
type UrgencyDurations struct {
	Critical time.Duration `json:"critical"`
	High     time.Duration `json:"high"`
	Normal   time.Duration `json:"normal"`
}

// For returns the duration configured for u.
func (d UrgencyDurations) For(u model.Urgency) time.Duration {
	switch u {
	case model.UrgencyCritical:
		return d.Critical
	case model.UrgencyHigh:
		return d.High
	default:
		return d.Normal
	}
}

func (d *UrgencyDurations) fill(def UrgencyDurations) {
	if d.Critical <= 0 {
		d.Critical = def.Critical
	}
	if d.High <= 0 {
		d.High = def.High
	}
	if d.Normal <= 0 {
		d.Normal = def.Normal
	}
}

// UrgencyInts holds one integer per urgency level.
type UrgencyInts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Normal   int `json:"normal"`
}

// For returns the value configured for u.
func (v UrgencyInts) For(u model.Urgency) int {
	switch u {
	case model.UrgencyCritical:
		return v.Critical
	case model.UrgencyHigh:
		return v.High
	default:
		return v.Normal
	}
}

// Config defines dispatch-related settings.
type Config struct {
	InitialRadiusKm  float64 `json:"initial_radius_km"`
	MaxRadiusKm      float64 `json:"max_radius_km"`
	EscalationFactor float64 `json:"escalation_factor"`
	// MaxEscalationRounds is the number of consecutive empty matching rounds
	// tolerated before a request expires with cause no_candidates.
	MaxEscalationRounds int `json:"max_escalation_rounds"`
	// EscalationIntervals delays re-matching after an escalation. Zero
	// values default to a tenth of the urgency's wave timeout.
	EscalationIntervals UrgencyDurations `json:"escalation_intervals"`
	// EscalationTimeout bounds each call to the escalation sink.
	EscalationTimeout time.Duration `json:"escalation_timeout"`

	WaveTimeouts UrgencyDurations `json:"wave_timeouts"`
	Deadlines    UrgencyDurations `json:"deadlines"`
	// WaveBase is the number of donors contacted per missing unit.
	WaveBase    UrgencyInts `json:"wave_base"`
	MaxWaveSize int         `json:"max_wave_size"`
	// WaveGrowth multiplies the wave size after every wave that did not
	// fulfill the request.
	WaveGrowth float64 `json:"wave_growth"`

	// Retention is how long terminal requests stay queryable in memory.
	Retention time.Duration `json:"retention"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.InitialRadiusKm <= 0 {
		c.InitialRadiusKm = 10
	}
	if c.MaxRadiusKm <= 0 {
		c.MaxRadiusKm = 100
	}
	if c.EscalationFactor <= 1 {
		c.EscalationFactor = 2
	}
	if c.MaxEscalationRounds <= 0 {
		c.MaxEscalationRounds = 3
	}
	if c.EscalationTimeout <= 0 {
		c.EscalationTimeout = 5 * time.Second
	}
	c.WaveTimeouts.fill(UrgencyDurations{Critical: 5 * time.Minute, High: 30 * time.Minute, Normal: 4 * time.Hour})
	c.EscalationIntervals.fill(UrgencyDurations{
		Critical: c.WaveTimeouts.Critical / 10,
		High:     c.WaveTimeouts.High / 10,
		Normal:   c.WaveTimeouts.Normal / 10,
	})
	c.Deadlines.fill(UrgencyDurations{Critical: time.Hour, High: 2 * time.Hour, Normal: 24 * time.Hour})
	if c.WaveBase.Critical <= 0 {
		c.WaveBase.Critical = 5
	}
	if c.WaveBase.High <= 0 {
		c.WaveBase.High = 3
	}
	if c.WaveBase.Normal <= 0 {
		c.WaveBase.Normal = 2
	}
	if c.MaxWaveSize <= 0 {
		c.MaxWaveSize = 50
	}
	if c.WaveGrowth < 1 {
		c.WaveGrowth = 1.5
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
}

// Validate checks the configuration after defaults were applied.
func (c Config) Validate() error {
	if c.MaxRadiusKm < c.InitialRadiusKm {
		return fmt.Errorf("max_radius_km %.1f is below initial_radius_km %.1f", c.MaxRadiusKm, c.InitialRadiusKm)
	}
	if c.MaxRadiusKm > model.EarthRadiusKm*3.15 {
		return fmt.Errorf("max_radius_km %.1f exceeds half the Earth's circumference", c.MaxRadiusKm)
	}
	return nil
}
