// Package manifest defines the run manifest, the single batch of work
// persisted as sauce-runner.json next to the project so every run can be
// reproduced from the artifact.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/specialistvlad/saucegrid/internal/matrix"
)

const (
	// FileName is the manifest file written into the project root.
	FileName = "sauce-runner.json"
	// APIVersion and Kind identify the manifest format.
	APIVersion = "v1alpha"
	Kind       = "cypress"
	// DefaultTag is attached to every build.
	DefaultTag = "cypress-saucelabs"
	// BuildPrefix starts every generated build identifier.
	BuildPrefix = "Cypress Build"
)

// Manifest is the persisted form of a run.
type Manifest struct {
	APIVersion string  `json:"apiVersion"`
	Kind       string  `json:"kind"`
	Sauce      Sauce   `json:"sauce"`
	Cypress    Cypress `json:"cypress"`
	Suites     []Suite `json:"suites"`
}

type Sauce struct {
	Metadata    Metadata `json:"metadata"`
	Region      string   `json:"region"`
	App         string   `json:"app,omitempty"` // storage:<id>, set once the archive is uploaded
	Concurrency int      `json:"concurrency,omitempty"`
	Tunnel      string   `json:"tunnelIdentifier,omitempty"`
}

type Metadata struct {
	Name  string   `json:"name"`
	Tags  []string `json:"tags"`
	Build string   `json:"build"`
}

type Cypress struct {
	ConfigFile string `json:"configFile,omitempty"`
	Version    string `json:"version"`
}

// Suite is the persisted form of a matrix.Suite.
type Suite struct {
	Name             string      `json:"name"`
	Entry            string      `json:"entry,omitempty"`
	Browser          string      `json:"browser"`
	BrowserVersion   string      `json:"browserVersion,omitempty"`
	PlatformName     string      `json:"platformName"`
	ScreenResolution string      `json:"screenResolution,omitempty"`
	Config           SuiteConfig `json:"config"`
}

type SuiteConfig struct {
	BaseConfigFile string            `json:"baseConfigFile,omitempty"`
	ConfigFile     string            `json:"configFile,omitempty"`
	TestFiles      string            `json:"testFiles,omitempty"`
	Overrides      map[string]string `json:"overrides,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
}

// Options carries the run-level fields of a manifest.
type Options struct {
	Build          string // empty generates one from the clock
	Tags           []string
	Region         string
	CypressVersion string
	Concurrency    int
}

// BuildID returns the generated build identifier for t.
func BuildID(t time.Time) string {
	return BuildPrefix + " -- " + strconv.FormatInt(t.UnixMilli(), 10)
}

// New assembles a manifest for suites. now is only consulted when no build
// identifier is given.
func New(opts Options, suites []matrix.Suite, now func() time.Time) *Manifest {
	build := opts.Build
	if build == "" {
		build = BuildID(now())
	}

	tags := []string{DefaultTag}
	for _, t := range opts.Tags {
		if t != "" && t != DefaultTag {
			tags = append(tags, t)
		}
	}

	m := &Manifest{
		APIVersion: APIVersion,
		Kind:       Kind,
		Sauce: Sauce{
			Metadata:    Metadata{Name: build, Tags: tags, Build: build},
			Region:      opts.Region,
			Concurrency: opts.Concurrency,
		},
		Cypress: Cypress{Version: opts.CypressVersion},
		Suites:  make([]Suite, 0, len(suites)),
	}
	for _, s := range suites {
		m.Suites = append(m.Suites, fromMatrix(s))
	}
	if len(suites) > 0 {
		m.Cypress.ConfigFile = suites[0].ConfigFile
	}
	return m
}

// Build returns the build identifier.
func (m *Manifest) Build() string { return m.Sauce.Metadata.Build }

// SetApp records the storage reference of the uploaded archive.
func (m *Manifest) SetApp(storageID string) {
	m.Sauce.App = "storage:" + storageID
}

// MatrixSuites returns the suites in manifest order.
func (m *Manifest) MatrixSuites() []matrix.Suite {
	out := make([]matrix.Suite, 0, len(m.Suites))
	for _, s := range m.Suites {
		out = append(out, matrix.Suite{
			Name:             s.Name,
			Entry:            s.Entry,
			BrowserName:      s.Browser,
			BrowserVersion:   s.BrowserVersion,
			PlatformName:     s.PlatformName,
			ScreenResolution: s.ScreenResolution,
			TestSelector:     s.Config.TestFiles,
			ConfigOverrides:  s.Config.Overrides,
			EnvOverrides:     s.Config.Env,
			BaseConfigFile:   s.Config.BaseConfigFile,
			ConfigFile:       s.Config.ConfigFile,
		})
	}
	return out
}

func fromMatrix(s matrix.Suite) Suite {
	return Suite{
		Name:             s.Name,
		Entry:            s.Entry,
		Browser:          s.BrowserName,
		BrowserVersion:   s.BrowserVersion,
		PlatformName:     s.PlatformName,
		ScreenResolution: s.ScreenResolution,
		Config: SuiteConfig{
			BaseConfigFile: s.BaseConfigFile,
			ConfigFile:     s.ConfigFile,
			TestFiles:      s.TestSelector,
			Overrides:      s.ConfigOverrides,
			Env:            s.EnvOverrides,
		},
	}
}

// Write stores m at path as indented JSON.
func Write(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write manifest %s: %w", path, err)
	}
	return nil
}

// Read loads a manifest written by Write.
func Read(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	m := &Manifest{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", path, err)
	}
	if m.APIVersion != APIVersion || m.Kind != Kind {
		return nil, fmt.Errorf("manifest %s has unsupported format %s/%s", path, m.APIVersion, m.Kind)
	}
	return m, nil
}
