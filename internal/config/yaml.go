package config

import (
	"context"
	"fmt"
	"os"

	"github.com/specialistvlad/saucegrid/internal/ctxlog"
	"gopkg.in/yaml.v3"
)

// YAMLLoader loads sauce.conf.yaml files. The document must be a mapping of
// entry names to entries.
type YAMLLoader struct{}

// NewYAMLLoader creates a new YAML configuration loader.
func NewYAMLLoader() *YAMLLoader {
	return &YAMLLoader{}
}

type yamlEntry struct {
	Browser    string `yaml:"browser"`
	ConfigFile string `yaml:"configFile"`
	Config     any    `yaml:"config"`
	Env        any    `yaml:"env"`
	Spec       string `yaml:"spec"`
	Project    string `yaml:"project"` // ignored
}

// Load decodes into a yaml.Node first because a plain map would lose the
// order of the entries.
func (l *YAMLLoader) Load(ctx context.Context, path string) (*Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("YAML loader started.", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	model := &Model{Source: path}
	if doc.Kind == 0 {
		// Empty file.
		return model, nil
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("failed to parse %s: top-level value must be a mapping", path)
	}

	root := doc.Content[0]
	for i := 0; i+1 < len(root.Content); i += 2 {
		keyNode, valueNode := root.Content[i], root.Content[i+1]
		name := keyNode.Value

		var raw yamlEntry
		if err := valueNode.Decode(&raw); err != nil {
			return nil, fmt.Errorf("failed to decode entry %q in %s: %w", name, path, err)
		}
		cfg, err := OverridesFromValue("config", normalizeYAML(raw.Config))
		if err != nil {
			return nil, fmt.Errorf("invalid entry %q in %s: %w", name, path, err)
		}
		env, err := OverridesFromValue("env", normalizeYAML(raw.Env))
		if err != nil {
			return nil, fmt.Errorf("invalid entry %q in %s: %w", name, path, err)
		}
		model.Entries = append(model.Entries, &Entry{
			Name:       name,
			Browser:    raw.Browser,
			ConfigFile: raw.ConfigFile,
			Config:     cfg,
			Env:        env,
			Spec:       raw.Spec,
		})
	}

	logger.Debug("YAML loading complete.", "entries", len(model.Entries))
	return model, nil
}

// normalizeYAML converts map[any]any, which yaml.v3 produces for mappings
// with non-string keys, into map[string]any.
func normalizeYAML(v any) any {
	m, ok := v.(map[any]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(m))
	for k, val := range m {
		out[fmt.Sprint(k)] = val
	}
	return out
}
