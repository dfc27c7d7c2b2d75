package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Loader is the interface for a format-specific suite configuration loader.
type Loader interface {
	// Load reads the file at path and translates it into the
	// format-agnostic model, preserving entry declaration order.
	Load(ctx context.Context, path string) (*Model, error)
}

// DefaultFileNames are tried in order when no configuration file is named
// explicitly.
var DefaultFileNames = []string{
	"sauce.conf.json",
	"sauce.conf.yaml",
	"sauce.conf.yml",
	"sauce.conf.hcl",
}

// ErrNotFound is returned by Discover when an explicitly named file is missing.
var ErrNotFound = errors.New("suite configuration file not found")

// Discover resolves the configuration file for a project root. An explicit
// name must exist; otherwise the first default name present wins. An empty
// path with a nil error means the project has no configuration file.
func Discover(root, explicit string) (string, error) {
	if explicit != "" {
		p := explicit
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, explicit)
		}
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				return "", fmt.Errorf("%w: no such file %s", ErrNotFound, explicit)
			}
			return "", fmt.Errorf("error accessing %s: %w", explicit, err)
		}
		return p, nil
	}
	for _, name := range DefaultFileNames {
		p := filepath.Join(root, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", nil
}
