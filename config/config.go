package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/bloodlink/api"
	"github.com/kilianp07/bloodlink/core/audit"
	"github.com/kilianp07/bloodlink/core/dispatch"
	"github.com/kilianp07/bloodlink/core/fanout"
	"github.com/kilianp07/bloodlink/core/metrics"
	"github.com/kilianp07/bloodlink/core/ranker"
	"github.com/kilianp07/bloodlink/infra/mqtt"
	"github.com/kilianp07/bloodlink/infra/redisstore"
)

// Config is the root configuration of the engine.
type Config struct {
	MQTT     mqtt.Config       `json:"mqtt"`
	Engine   dispatch.Config   `json:"engine"`
	Ranker   ranker.Config     `json:"ranker"`
	Fanout   FanoutConfig      `json:"fanout"`
	Metrics  metrics.Config    `json:"metrics"`
	Audit    audit.Config      `json:"audit"`
	Registry RegistryConfig    `json:"registry"`
	Redis    redisstore.Config `json:"redis"`
	API      api.Config        `json:"api"`
	Sentry   SentryConfig      `json:"sentry"`
	Logging  LoggingConfig     `json:"logging"`
	// Escalations names the sinks told about widened searches ("log", "mqtt").
	Escalations []string `json:"escalations"`
}

// FanoutConfig selects the alert transport and bounds the fanout.
type FanoutConfig struct {
	MaxConcurrent int64         `json:"max_concurrent"`
	SendTimeout   time.Duration `json:"send_timeout"`
	// Transport is "mqtt" or "log".
	Transport string `json:"transport"`
	// ReceiptTimeout bounds the wait for an MQTT delivery receipt.
	ReceiptTimeout time.Duration `json:"receipt_timeout"`
}

// Core returns the settings understood by the fanout itself.
func (c FanoutConfig) Core() fanout.Config {
	return fanout.Config{MaxConcurrent: c.MaxConcurrent, SendTimeout: c.SendTimeout}
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.MQTT.SetDefaults()
	c.Engine.SetDefaults()
	c.Ranker.SetDefaults()
	core := c.Fanout.Core()
	core.SetDefaults()
	c.Fanout.MaxConcurrent, c.Fanout.SendTimeout = core.MaxConcurrent, core.SendTimeout
	if c.Fanout.Transport == "" {
		c.Fanout.Transport = "mqtt"
	}
	if c.Fanout.ReceiptTimeout <= 0 {
		c.Fanout.ReceiptTimeout = 5 * time.Second
	}
	if len(c.Escalations) == 0 {
		c.Escalations = []string{"log"}
	}
	c.Audit.SetDefaults()
	c.Registry.SetDefaults()
	c.Logging.SetDefaults()
	c.Sentry.SetDefaults(c.Logging.Env)
	if c.Redis.URL != "" {
		c.Redis.SetDefaults()
	}
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	switch c.Fanout.Transport {
	case "mqtt":
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt: broker is required by the mqtt transport")
		}
	case "log":
	default:
		return fmt.Errorf("fanout: unknown transport %s", c.Fanout.Transport)
	}
	if err := c.Audit.Validate(); err != nil {
		return err
	}
	if err := c.Registry.Validate(); err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	if c.Registry.WatchMQTT && c.MQTT.Broker == "" {
		return fmt.Errorf("registry: watch_mqtt requires an mqtt broker")
	}
	if err := c.Sentry.Validate(); err != nil {
		return err
	}
	return c.Logging.Validate()
}

// Load reads a YAML or JSON file, applies K_ environment overrides, fills
// defaults and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides: K_ENGINE__MAX_WAVE_SIZE sets engine.max_wave_size.
	if err := k.Load(env.Provider("K_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
