// Package hcl_adapter implements config.Loader for HCL suite configuration
// files:
//
//	suite "smoke" {
//	  browser     = "chrome,firefox:78"
//	  config_file = "cypress.json"
//	  spec        = "cypress/integration/**/*.spec.js"
//	  config      = { baseUrl = "http://localhost:8080" }
//	  env         = "FOO=bar"
//	}
package hcl_adapter

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/specialistvlad/saucegrid/internal/config"
	"github.com/specialistvlad/saucegrid/internal/ctxlog"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct{}

// NewLoader creates a new HCL configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

// fileRoot is the schema of a whole file.
type fileRoot struct {
	Suites []*Suite `hcl:"suite,block"`
}

// Suite is the schema of a `suite` block.
type Suite struct {
	Name       string         `hcl:"name,label"`
	Browser    string         `hcl:"browser,optional"`
	ConfigFile string         `hcl:"config_file,optional"`
	Spec       string         `hcl:"spec,optional"`
	Config     hcl.Expression `hcl:"config,optional"`
	Env        hcl.Expression `hcl:"env,optional"`
	Project    string         `hcl:"project,optional"` // ignored, the root comes from the command line
}

// Load parses and decodes the file, translating blocks in declaration order.
func (l *Loader) Load(ctx context.Context, path string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path", path)

	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", path, diags)
	}

	var root fileRoot
	diags = gohcl.DecodeBody(hclFile.Body, nil, &root)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", path, diags)
	}

	model := &config.Model{Source: path}
	seen := make(map[string]struct{}, len(root.Suites))
	for _, s := range root.Suites {
		if _, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("duplicate suite %q in %s", s.Name, path)
		}
		seen[s.Name] = struct{}{}

		entry, err := l.translateSuite(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("invalid suite %q in %s: %w", s.Name, path, err)
		}
		model.Entries = append(model.Entries, entry)
	}

	logger.Debug("HCL loading complete.", "entries", len(model.Entries))
	return model, nil
}
