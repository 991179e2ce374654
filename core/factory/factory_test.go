package factory

import (
	"errors"
	"strings"
	"testing"
	"time"
)

type retentionSink struct {
	Path      string
	Retention time.Duration
}

type retentionConf struct {
	Path      string        `json:"path"`
	Retention time.Duration `json:"retention"`
}

func newSinkRegistry(t *testing.T) *Registry[*retentionSink] {
	t.Helper()
	reg := NewRegistry[*retentionSink]()
	err := reg.Register("sqlite", func(conf map[string]any) (*retentionSink, error) {
		var c retentionConf
		if err := Decode(conf, &c); err != nil {
			return nil, err
		}
		if c.Path == "" {
			return nil, errors.New("path is required")
		}
		return &retentionSink{Path: c.Path, Retention: c.Retention}, nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

func TestRegistryCreate(t *testing.T) {
	reg := newSinkRegistry(t)
	s, err := reg.Create(ModuleConfig{Type: "sqlite", Conf: map[string]any{"path": "kpi.db", "retention": "720h"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.Path != "kpi.db" || s.Retention != 30*24*time.Hour {
		t.Fatalf("unexpected sink %+v", s)
	}

	_, err = reg.Create(ModuleConfig{Type: "sqlite"})
	if err == nil || !strings.HasPrefix(err.Error(), "sqlite: ") {
		t.Fatalf("expected prefixed construction error, got %v", err)
	}
}

func TestRegistryErrors(t *testing.T) {
	reg := newSinkRegistry(t)
	if err := reg.Register("sqlite", func(map[string]any) (*retentionSink, error) { return nil, nil }); err == nil {
		t.Fatal("expected duplicate error")
	}
	if err := reg.Register("influx", nil); err == nil {
		t.Fatal("expected nil constructor error")
	}
	_, err := reg.Create(ModuleConfig{Type: "pager"})
	if err == nil || !strings.Contains(err.Error(), "known: sqlite") {
		t.Fatalf("expected unknown type error listing known types, got %v", err)
	}
}

func TestDecodeWeakTypes(t *testing.T) {
	var c struct {
		Timeout time.Duration `json:"timeout"`
		Backups int           `json:"backups"`
		Enabled bool          `json:"enabled"`
	}
	if err := Decode(map[string]any{"timeout": "250ms", "backups": "12", "enabled": "true"}, &c); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.Timeout != 250*time.Millisecond || c.Backups != 12 || !c.Enabled {
		t.Fatalf("unexpected %+v", c)
	}
}

func TestNamesSorted(t *testing.T) {
	reg := NewRegistry[int]()
	_ = reg.Register("prometheus", func(map[string]any) (int, error) { return 0, nil })
	_ = reg.Register("engagement", func(map[string]any) (int, error) { return 0, nil })
	if n := reg.Names(); len(n) != 2 || n[0] != "engagement" {
		t.Fatalf("unexpected names %v", n)
	}
}
