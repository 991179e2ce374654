package audit

import (
	"fmt"

	"github.com/kilianp07/bloodlink/core/factory"
)

// Config selects and configures the audit backend.
type Config struct {
	// Backend is one of "none", "jsonl", "rotating", "sqlite" or "leveldb".
	Backend string `json:"backend"`
	// Path is the file (or directory for leveldb) of the store.
	Path string `json:"path"`
	// MaxSizeMB triggers rotation when the file exceeds this size in megabytes.
	MaxSizeMB int `json:"max_size_mb"`
	// MaxBackups limits the number of rotated files to keep.
	MaxBackups int `json:"max_backups"`
	// MaxAgeDays removes rotated files older than this number of days.
	MaxAgeDays int `json:"max_age_days"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "jsonl"
	}
	if c.Path == "" {
		switch c.Backend {
		case "sqlite":
			c.Path = "audit.db"
		case "leveldb":
			c.Path = "audit.ldb"
		default:
			c.Path = "audit.jsonl"
		}
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if _, ok := backends[c.Backend]; !ok {
		return fmt.Errorf("unknown audit backend %s", c.Backend)
	}
	if c.Backend != "none" && c.Path == "" {
		return fmt.Errorf("audit path is required")
	}
	return nil
}

var backends = map[string]struct{}{"none": {}, "jsonl": {}, "rotating": {}, "sqlite": {}, "leveldb": {}}

var storeRegistry = factory.NewRegistry[Store]()

func init() {
	_ = storeRegistry.Register("none", func(map[string]any) (Store, error) { return NopStore{}, nil })
	_ = storeRegistry.Register("jsonl", func(conf map[string]any) (Store, error) {
		var c Config
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewJSONLStore(c.Path)
	})
	_ = storeRegistry.Register("rotating", func(conf map[string]any) (Store, error) {
		var c Config
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewRotatingJSONLStore(c.Path, c.MaxSizeMB, c.MaxBackups, c.MaxAgeDays)
	})
	_ = storeRegistry.Register("sqlite", func(conf map[string]any) (Store, error) {
		var c Config
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewSQLiteStore(c.Path)
	})
	_ = storeRegistry.Register("leveldb", func(conf map[string]any) (Store, error) {
		var c Config
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewLevelDBStore(c.Path)
	})
}

// Open builds the store described by cfg.
func Open(cfg Config) (Store, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return storeRegistry.Create(factory.ModuleConfig{Type: cfg.Backend, Conf: map[string]any{
		"path":         cfg.Path,
		"max_size_mb":  cfg.MaxSizeMB,
		"max_backups":  cfg.MaxBackups,
		"max_age_days": cfg.MaxAgeDays,
	}})
}
