package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// LoggingConfig controls the zerolog loggers built by infra/logger.
type LoggingConfig struct {
	// Level is a zerolog level name. LOG_LEVEL takes precedence when set.
	Level string `json:"level"`
	// Env set to "dev" switches to the console writer. APP_ENV takes
	// precedence when set.
	Env string `json:"env"`
}

// SetDefaults applies sane defaults.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
}

// Validate checks the level name.
func (c LoggingConfig) Validate() error {
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Level)); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// Apply exports the settings to the environment read by infra/logger.
// Variables already set are left untouched.
func (c LoggingConfig) Apply() {
	if os.Getenv("LOG_LEVEL") == "" && c.Level != "" {
		_ = os.Setenv("LOG_LEVEL", c.Level)
	}
	if os.Getenv("APP_ENV") == "" && c.Env != "" {
		_ = os.Setenv("APP_ENV", c.Env)
	}
}
