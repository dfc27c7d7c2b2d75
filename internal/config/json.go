package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/specialistvlad/saucegrid/internal/ctxlog"
)

// JSONLoader loads sauce.conf.json files: a top-level object whose keys name
// the entries.
type JSONLoader struct{}

// NewJSONLoader creates a new JSON configuration loader.
func NewJSONLoader() *JSONLoader {
	return &JSONLoader{}
}

type jsonEntry struct {
	Browser    string `json:"browser"`
	ConfigFile string `json:"configFile"`
	Config     any    `json:"config"`
	Env        any    `json:"env"`
	Spec       string `json:"spec"`
	Project    string `json:"project"` // ignored, the root comes from the command line
}

// Load streams the top-level object token by token so entries keep the order
// in which they were written.
func (l *JSONLoader) Load(ctx context.Context, path string) (*Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("JSON loader started.", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("failed to parse %s: top-level value must be an object", path)
	}

	model := &Model{Source: path}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		name, _ := keyTok.(string)

		var raw jsonEntry
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("failed to decode entry %q in %s: %w", name, path, err)
		}
		entry, err := raw.toEntry(name)
		if err != nil {
			return nil, fmt.Errorf("invalid entry %q in %s: %w", name, path, err)
		}
		model.Entries = append(model.Entries, entry)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse %s: unexpected data after top-level object", path)
	}

	logger.Debug("JSON loading complete.", "entries", len(model.Entries))
	return model, nil
}

func (e jsonEntry) toEntry(name string) (*Entry, error) {
	cfg, err := OverridesFromValue("config", e.Config)
	if err != nil {
		return nil, err
	}
	env, err := OverridesFromValue("env", e.Env)
	if err != nil {
		return nil, err
	}
	return &Entry{
		Name:       name,
		Browser:    e.Browser,
		ConfigFile: e.ConfigFile,
		Config:     cfg,
		Env:        env,
		Spec:       e.Spec,
	}, nil
}
