package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/bloodlink/core/model"
)

// StaticSource serves a fixed list of donors.
type StaticSource struct {
	Donors []model.Donor
}

// Load returns a copy of the configured donors.
func (s StaticSource) Load(context.Context) ([]model.Donor, error) {
	out := make([]model.Donor, len(s.Donors))
	for i, d := range s.Donors {
		out[i] = d.Clone()
	}
	return out, nil
}

type donorFile struct {
	Donors []model.Donor `json:"donors"`
}

// FileSource reads donors from a JSON or YAML file on every Load.
type FileSource struct {
	Path string
}

func (f FileSource) Load(context.Context) ([]model.Donor, error) {
	return LoadFile(f.Path)
}

// LoadFile loads donors from a JSON or YAML file.
func LoadFile(path string) ([]model.Donor, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = fh.Close() }()
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return Decode(fh, ext)
}

// Decode reads donors from r. YAML documents are converted to JSON first so
// both formats share the json tags of the model.
func Decode(r io.Reader, format string) ([]model.Donor, error) {
	var f donorFile
	switch strings.ToLower(format) {
	case "yaml", "yml":
		var raw any
		if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("convert yaml: %w", err)
		}
		if err := json.Unmarshal(b, &f); err != nil {
			return nil, fmt.Errorf("decode donors: %w", err)
		}
	case "json":
		if err := json.NewDecoder(r).Decode(&f); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
	return f.Donors, nil
}
