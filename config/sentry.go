package config

import "fmt"

// SentryConfig defines settings for Sentry error monitoring. An empty DSN
// disables reporting.
type SentryConfig struct {
	DSN              string  `json:"dsn"`
	Environment      string  `json:"environment"`
	TracesSampleRate float64 `json:"traces_sample_rate"`
	Release          string  `json:"release"`
	// ServerName tags events with the dispatching node, e.g. the blood bank site.
	ServerName string `json:"server_name"`
}

// SetDefaults reuses the logging environment when none is given.
func (s *SentryConfig) SetDefaults(env string) {
	if s.Environment == "" {
		s.Environment = env
	}
}

// Validate checks the sample rate bounds.
func (s SentryConfig) Validate() error {
	if s.TracesSampleRate < 0 || s.TracesSampleRate > 1 {
		return fmt.Errorf("sentry: traces_sample_rate must be within [0,1], got %g", s.TracesSampleRate)
	}
	return nil
}
