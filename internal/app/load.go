package app

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/specialistvlad/saucegrid/internal/config"
	"github.com/specialistvlad/saucegrid/internal/ctxlog"
	"github.com/specialistvlad/saucegrid/internal/hcl_adapter"
)

// loaderFor picks the suite configuration loader from the file extension.
func loaderFor(path string) (config.Loader, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return config.NewJSONLoader(), nil
	case ".yaml", ".yml":
		return config.NewYAMLLoader(), nil
	case ".hcl":
		return hcl_adapter.NewLoader(), nil
	}
	return nil, configErr("unsupported suite configuration format %q: use .json, .yaml, .yml or .hcl", filepath.Base(path))
}

// loadModel finds and loads the project's suite configuration file. It
// returns a nil model when the project has none.
func (a *App) loadModel(ctx context.Context) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Looking for a suite configuration file...", "root", a.config.ProjectRoot, "explicit", a.config.SauceConfig)

	path, err := config.Discover(a.config.ProjectRoot, a.config.SauceConfig)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	if path == "" {
		logger.Debug("No suite configuration file found, using command line values.")
		return nil, nil
	}

	loader, err := loaderFor(path)
	if err != nil {
		return nil, err
	}
	model, err := loader.Load(ctx, path)
	if err != nil {
		return nil, configErr("failed to load %s: %w", filepath.Base(path), err)
	}
	logger.Info("ℹ️ Loaded suite configuration.", "file", path, "entries", len(model.Entries))
	return model, nil
}
