// Package matrix expands a suite configuration (inline flags or a
// multi-entry sauce.conf file) into the flat, ordered list of Suites that
// are submitted to the cloud, one per browser/platform/resolution and spec
// file combination.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar"
	"github.com/specialistvlad/saucegrid/internal/config"
	"github.com/specialistvlad/saucegrid/internal/ctxlog"
	"github.com/specialistvlad/saucegrid/internal/fsutil"
	"github.com/specialistvlad/saucegrid/internal/kvparse"
)

var (
	// ErrSpecNotFound is returned when a plain spec path does not exist.
	ErrSpecNotFound = errors.New("spec file not found")
	// ErrNoSpecFiles is returned when a spec glob matches nothing.
	ErrNoSpecFiles = errors.New("spec pattern matched no files")
)

// Suite is one unit of remote execution.
type Suite struct {
	Name             string
	Entry            string // configuration entry the suite came from; empty for inline flags
	BrowserName      string
	BrowserVersion   string // empty means latest
	PlatformName     string
	ScreenResolution string
	TestSelector     string // spec path relative to the project root; empty runs everything
	ConfigOverrides  map[string]string
	EnvOverrides     map[string]string
	BaseConfigFile   string // project framework config the suite config is derived from; "false" disables it
	ConfigFile       string // generated per-suite framework config, relative to the project root
}

// Expand merges each entry of model over defaults and produces the suites in
// declaration order: entries, then browser tokens, then matched spec files.
// A nil model expands defaults as a single unnamed entry.
func Expand(ctx context.Context, root string, defaults config.Entry, model *config.Model) ([]Suite, error) {
	logger := ctxlog.FromContext(ctx)

	entries := []*config.Entry{{}}
	if model != nil {
		entries = model.Entries
		logger.Debug("Expanding configuration entries.", "source", model.Source, "entries", len(entries))
	}

	var suites []Suite
	for _, e := range entries {
		merged := merge(defaults, *e)

		browsers, err := ParseBrowsers(merged.Browser)
		if err != nil {
			return nil, entryError(e.Name, err)
		}
		specs, err := resolveSpecs(root, merged.Spec)
		if err != nil {
			return nil, entryError(e.Name, err)
		}
		logger.Debug("Entry expanded.", "entry", e.Name, "browsers", len(browsers), "specs", len(specs))

		cfg := kvparse.ToMap(merged.Config.Pairs)
		env := kvparse.ToMap(merged.Env.Pairs)
		for _, b := range browsers {
			for _, spec := range specs {
				suites = append(suites, Suite{
					Entry:            e.Name,
					BrowserName:      b.Name,
					BrowserVersion:   b.Version,
					PlatformName:     b.Platform,
					ScreenResolution: b.Resolution,
					TestSelector:     spec,
					ConfigOverrides:  copyMap(cfg),
					EnvOverrides:     copyMap(env),
					BaseConfigFile:   merged.ConfigFile,
				})
			}
		}
	}

	for i := range suites {
		suites[i].Name = suiteName(i, len(suites), suites[i])
	}
	return suites, nil
}

// merge lets every field the entry sets replace the default.
func merge(defaults, e config.Entry) config.Entry {
	out := defaults
	out.Name = e.Name
	if e.Browser != "" {
		out.Browser = e.Browser
	}
	if e.ConfigFile != "" {
		out.ConfigFile = e.ConfigFile
	}
	if e.Config.Set {
		out.Config = e.Config
	}
	if e.Env.Set {
		out.Env = e.Env
	}
	if e.Spec != "" {
		out.Spec = e.Spec
	}
	return out
}

// resolveSpecs returns the spec selectors for an entry: a single empty
// selector when no spec is given, the path itself for a plain path, or every
// matched file (sorted, slash-separated, relative to root) for a glob.
func resolveSpecs(root, spec string) ([]string, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return []string{""}, nil
	}
	spec = path.Clean(filepath.ToSlash(spec))

	if !hasGlobMeta(spec) {
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(spec))); err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", ErrSpecNotFound, spec)
			}
			return nil, fmt.Errorf("error accessing spec %s: %w", spec, err)
		}
		return []string{spec}, nil
	}

	// Match relative paths so metacharacters in root are never part of the pattern.
	var rel []string
	for p := range fsutil.Walk(root, nil) {
		r, err := filepath.Rel(root, p)
		if err != nil {
			continue
		}
		r = filepath.ToSlash(r)
		ok, err := doublestar.Match(spec, r)
		if err != nil {
			return nil, fmt.Errorf("invalid spec pattern %s: %w", spec, err)
		}
		if ok {
			rel = append(rel, r)
		}
	}
	if len(rel) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSpecFiles, spec)
	}
	sort.Strings(rel)
	return rel, nil
}

func hasGlobMeta(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

func suiteName(i, total int, s Suite) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SUITE %d of %d: ", i+1, total)
	if s.Entry != "" {
		b.WriteString(s.Entry + ": ")
	}
	fmt.Fprintf(&b, "%s -- %s -- %s", s.BrowserName, VersionOrLatest(s.BrowserVersion), s.PlatformName)
	if s.ScreenResolution != "" {
		b.WriteString(" -- " + s.ScreenResolution)
	}
	if s.TestSelector != "" {
		b.WriteString(" -- " + s.TestSelector)
	}
	return b.String()
}

func entryError(name string, err error) error {
	if name == "" {
		return err
	}
	return fmt.Errorf("entry %q: %w", name, err)
}

func copyMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
