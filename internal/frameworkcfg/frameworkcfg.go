// Package frameworkcfg writes the per-suite Cypress configuration file that
// is shipped inside the project archive. Each file is the project's base
// configuration with the suite's config and env overrides applied.
package frameworkcfg

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/specialistvlad/saucegrid/internal/ctxlog"
	"github.com/specialistvlad/saucegrid/internal/matrix"
)

const (
	// DefaultConfigFile is the base configuration used when none is named.
	DefaultConfigFile = "cypress.json"
	// Disabled as a config file name turns the base configuration off.
	Disabled = "false"
	// EnvFileName is merged into the env section when present.
	EnvFileName = "cypress.env.json"
	// FilePrefix starts the name of every generated file.
	FilePrefix = "cypress-"
)

var generatedName = regexp.MustCompile(`^` + regexp.QuoteMeta(FilePrefix) + `[0-9a-f]{12}\.json$`)

var (
	// ErrConfigNotFound is returned when the base configuration is missing.
	ErrConfigNotFound = errors.New("could not find a Cypress configuration file")
	// ErrInvalidJSON is returned when the base or env file cannot be parsed.
	ErrInvalidJSON = errors.New("contains invalid JSON")
)

// Result describes a generated file.
type Result struct {
	// Path is relative to the project root.
	Path string
	// BaseURL is the effective baseUrl, if any.
	BaseURL string
}

// Write generates the configuration for s and writes it into root. The file
// name is derived from the content, so suites with identical configuration
// share one file.
func Write(ctx context.Context, root string, s matrix.Suite) (Result, error) {
	logger := ctxlog.FromContext(ctx).With("suite", s.Name)

	cfg, err := loadBase(root, s.BaseConfigFile)
	if err != nil {
		return Result{}, err
	}
	for _, k := range sortedKeys(s.ConfigOverrides) {
		cfg[k] = coerce(s.ConfigOverrides[k])
	}

	env := map[string]any{}
	if existing, ok := cfg["env"].(map[string]any); ok {
		env = existing
	}
	fileEnv, err := loadJSONObject(filepath.Join(root, EnvFileName), true)
	if err != nil {
		return Result{}, err
	}
	for k, v := range fileEnv {
		env[k] = v
	}
	for _, k := range sortedKeys(s.EnvOverrides) {
		env[k] = coerce(s.EnvOverrides[k])
	}
	if len(env) > 0 {
		cfg["env"] = env
	}

	if s.TestSelector != "" {
		// Selectors are relative to the project root.
		cfg["integrationFolder"] = "."
		cfg["testFiles"] = s.TestSelector
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode Cypress configuration: %w", err)
	}
	sum := sha256.Sum256(data)
	name := FilePrefix + hex.EncodeToString(sum[:])[:12] + ".json"
	if err := os.WriteFile(filepath.Join(root, name), append(data, '\n'), 0o644); err != nil {
		return Result{}, fmt.Errorf("failed to write Cypress configuration %s: %w", name, err)
	}
	logger.Debug("Wrote Cypress configuration.", "file", name)

	baseURL, _ := cfg["baseUrl"].(string)
	return Result{Path: name, BaseURL: baseURL}, nil
}

// RemoveStale deletes files generated by earlier runs from root so they are
// not packaged again. It returns the removed names.
func RemoveStale(ctx context.Context, root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", root, err)
	}
	var removed []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !generatedName.MatchString(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(root, e.Name())); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove stale Cypress configuration %s: %w", e.Name(), err)
		}
		removed = append(removed, e.Name())
	}
	if len(removed) > 0 {
		ctxlog.FromContext(ctx).Debug("Removed stale Cypress configurations.", "files", removed)
	}
	return removed, nil
}

func loadBase(root, name string) (map[string]any, error) {
	if name == Disabled {
		return map[string]any{}, nil
	}
	if name == "" {
		name = DefaultConfigFile
	}
	p := name
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, name)
	}
	cfg, err := loadJSONObject(p, false)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadJSONObject reads a JSON object from p. A missing file is an error
// unless optional is set, in which case an empty object is returned.
func loadJSONObject(p string, optional bool) (map[string]any, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			if optional {
				return map[string]any{}, nil
			}
			return nil, fmt.Errorf("%w: looked for %s", ErrConfigNotFound, p)
		}
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("file at '%s' %w: %v", p, ErrInvalidJSON, err)
	}
	return out, nil
}

// coerce keeps JSON literals (numbers, booleans, null, objects) typed and
// passes anything else through as a string.
func coerce(v string) any {
	var out any
	if err := json.Unmarshal([]byte(v), &out); err == nil {
		if _, isString := out.(string); !isString {
			return out
		}
	}
	return v
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
