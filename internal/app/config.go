package app

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-version"
	"github.com/specialistvlad/saucegrid/internal/config"
	"github.com/specialistvlad/saucegrid/internal/sauce"
)

const (
	DefaultConcurrency    = 2
	DefaultCypressVersion = "5.6.0"
)

// ConfigError marks a failure caused by the user's input rather than by the
// remote service or the machine.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return e.Err.Error() }

func (e *ConfigError) Unwrap() error { return e.Err }

func configErr(format string, args ...any) error {
	return &ConfigError{Err: fmt.Errorf(format, args...)}
}

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	ProjectRoot string
	Credentials sauce.Credentials
	Region      string
	// APIURL overrides the region's API host.
	APIURL string
	// HTTPTimeout bounds each API request. Zero means no limit.
	HTTPTimeout time.Duration

	Concurrency    int
	CypressVersion string
	Build          string
	Tags           []string

	Tunnel       bool
	TunnelBinary string

	// SauceConfig names the suite configuration file explicitly.
	SauceConfig string
	// Defaults are the suite fields given on the command line.
	Defaults config.Entry

	// Ignored lists "name=value" for flags that have no effect in the cloud.
	Ignored []string

	LogFormat       string
	LogLevel        string
	HealthcheckPort int

	// Zero values select the package defaults.
	PollInterval       time.Duration
	MaxPollAttempts    int
	BuildRetryInterval time.Duration
	ProgressInterval   time.Duration
}

// NewConfig validates cfg and fills in defaults. Every returned error is a
// *ConfigError.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.Credentials.Username == "" {
		return nil, configErr("sauce username is required: set SAUCE_USERNAME or --sauce-username")
	}
	if cfg.Credentials.AccessKey == "" {
		return nil, configErr("sauce access key is required: set SAUCE_ACCESS_KEY or --sauce-access-key")
	}

	region, err := sauce.ParseRegion(cfg.Region)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	cfg.Region = string(region)

	switch {
	case cfg.Concurrency == 0:
		cfg.Concurrency = DefaultConcurrency
	case cfg.Concurrency < 0:
		return nil, configErr("invalid concurrency %d: must be a positive number", cfg.Concurrency)
	}

	if cfg.CypressVersion == "" {
		cfg.CypressVersion = DefaultCypressVersion
	}
	if _, err := version.NewVersion(cfg.CypressVersion); err != nil {
		return nil, configErr("invalid cypress version %q: %w", cfg.CypressVersion, err)
	}

	if cfg.ProjectRoot == "" {
		cfg.ProjectRoot = "."
	}
	root, err := filepath.Abs(cfg.ProjectRoot)
	if err != nil {
		return nil, configErr("invalid project path %q: %w", cfg.ProjectRoot, err)
	}
	cfg.ProjectRoot = root

	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.HTTPTimeout < 0 {
		return nil, configErr("invalid http timeout %s: cannot be negative", cfg.HTTPTimeout)
	}
	if cfg.HealthcheckPort < 0 {
		return nil, &ConfigError{Err: errors.New("healthcheck port cannot be negative")}
	}

	tags := cfg.Tags[:0:0]
	for _, t := range cfg.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	cfg.Tags = tags

	return &cfg, nil
}

func (c *Config) region() sauce.Region { return sauce.Region(c.Region) }

func (c *Config) apiURL() string {
	if c.APIURL != "" {
		return c.APIURL
	}
	return c.region().APIURL()
}
