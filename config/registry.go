package config

import (
	"fmt"
	"time"

	"github.com/kilianp07/bloodlink/core/model"
)

// RegistryConfig selects where donor snapshots come from.
type RegistryConfig struct {
	// Source is "static", "file" or "postgres".
	Source string `json:"source"`
	// Path is the YAML or JSON donor file of the file source.
	Path string `json:"path"`
	// DSN is the PostgreSQL connection string of the postgres source.
	DSN string `json:"dsn"`
	// Migrate creates the donors table on start.
	Migrate bool `json:"migrate"`
	// Donors is the inline list of the static source.
	Donors []model.Donor `json:"donors"`
	// WatchMQTT subscribes to donor availability updates.
	WatchMQTT bool `json:"watch_mqtt"`
	// Refresh reloads the full snapshot periodically; zero disables it.
	Refresh time.Duration `json:"refresh"`
}

// SetDefaults applies sane defaults.
func (c *RegistryConfig) SetDefaults() {
	if c.Source == "" {
		c.Source = "static"
	}
}

// Validate checks the selected source.
func (c RegistryConfig) Validate() error {
	switch c.Source {
	case "static":
	case "file":
		if c.Path == "" {
			return fmt.Errorf("path is required by the file source")
		}
	case "postgres":
		if c.DSN == "" {
			return fmt.Errorf("dsn is required by the postgres source")
		}
	default:
		return fmt.Errorf("unknown source %s", c.Source)
	}
	if c.Refresh < 0 {
		return fmt.Errorf("refresh must not be negative")
	}
	return nil
}
