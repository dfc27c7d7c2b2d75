package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/specialistvlad/saucegrid/internal/app"
	"github.com/specialistvlad/saucegrid/internal/config"
	"github.com/specialistvlad/saucegrid/internal/jobs"
	"github.com/specialistvlad/saucegrid/internal/sauce"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) *ExitError {
	return &ExitError{Code: 2, Message: fmt.Sprintf(format, args...)}
}

// Environment variables that take precedence over the credential flags.
const (
	EnvUsername  = "SAUCE_USERNAME"
	EnvAccessKey = "SAUCE_ACCESS_KEY"
)

// ignoredFlags are accepted for compatibility with the Cypress command line
// but have no effect in the cloud.
var ignoredFlags = []string{
	"tag", "reporter", "reporter-options", "quiet", "no-exit", "headless",
	"headed", "group", "parallel", "record", "key", "port",
}

var ignoredBoolFlags = map[string]bool{
	"quiet": true, "no-exit": true, "headless": true, "headed": true,
	"parallel": true, "record": true,
}

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	return parse(args, output, os.LookupEnv)
}

func parse(args []string, output io.Writer, lookupEnv func(string) (string, bool)) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("saucegrid", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
saucegrid - Run a Cypress project on the Sauce Labs cloud.

Usage:
  saucegrid [options] [PROJECT_PATH]

Arguments:
  PROJECT_PATH
    Root of the Cypress project. Defaults to the current directory.

Credentials are read from SAUCE_USERNAME and SAUCE_ACCESS_KEY, which take
precedence over the matching flags.

Options:
`)
		flagSet.PrintDefaults()
	}

	usernameFlag := flagSet.String("sauce-username", "", "Sauce Labs username.")
	uFlag := flagSet.String("u", "", "Sauce Labs username (shorthand).")
	accessKeyFlag := flagSet.String("sauce-access-key", "", "Sauce Labs access key.")
	aFlag := flagSet.String("a", "", "Sauce Labs access key (shorthand).")
	regionFlag := flagSet.String("sauce-region", "us-west-1", "Sauce Labs region. Options: 'us-west-1', 'eu-central-1', 'staging'.")
	apiURLFlag := flagSet.String("sauce-api-url", "", "Override the Sauce Labs API URL of the region.")
	httpTimeoutFlag := flagSet.Duration("sauce-http-timeout", 0, "Timeout of each Sauce Labs API request, including the upload. 0 is no limit.")
	concurrencyFlag := flagSet.Int("sauce-concurrency", app.DefaultConcurrency, "Maximum number of suites running at the same time.")
	cypressVersionFlag := flagSet.String("sauce-cypress-version", app.DefaultCypressVersion, "Cypress version to run in the cloud.")
	tunnelFlag := flagSet.Bool("sauce-tunnel", false, "Open a Sauce Connect tunnel so the cloud VMs can reach localhost.")
	tunnelBinaryFlag := flagSet.String("sauce-tunnel-binary", "", "Path to the Sauce Connect binary. Defaults to 'sc' on PATH.")
	sauceConfigFlag := flagSet.String("sauce-config", "", "Suite configuration file. Defaults to sauce.conf.{json,yaml,yml,hcl} in the project.")
	tagsFlag := flagSet.String("sauce-tags", "", "Comma-separated tags added to every job.")
	localFlag := flagSet.Bool("sauce-local", false, "Run locally instead of in the cloud (not supported).")
	pollFlag := flagSet.Duration("sauce-poll-interval", jobs.DefaultPollInterval, "How often job status is polled.")
	buildFlag := flagSet.String("ci-build-id", "", "Build name shared by all jobs. Defaults to 'Cypress Build -- <timestamp>'.")

	browserFlag := flagSet.String("browser", "chrome", "Comma-separated browsers as browserName:browserVersion:platformName:screenResolution.")
	bFlag := flagSet.String("b", "", "Browsers (shorthand).")
	configFlag := flagSet.String("config", "", "Cypress configuration overrides as key=value pairs.")
	configFileFlag := flagSet.String("config-file", "", "Cypress configuration file. 'false' disables it.")
	envFlag := flagSet.String("env", "", "Cypress environment variables as key=value pairs.")
	specFlag := flagSet.String("spec", "", "Spec file or glob to run.")
	sFlag := flagSet.String("s", "", "Spec file or glob (shorthand).")
	projectFlag := flagSet.String("project", "", "Root of the Cypress project.")

	healthPortFlag := flagSet.Int("healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	for _, name := range ignoredFlags {
		if ignoredBoolFlags[name] {
			flagSet.Bool(name, false, "Not used in Sauce Labs cloud; ignored.")
		} else {
			flagSet.String(name, "", "Not used in Sauce Labs cloud; ignored.")
		}
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	if *localFlag {
		return nil, false, usageError("--sauce-local is not supported: saucegrid only runs suites in the Sauce Labs cloud")
	}

	set := map[string]bool{}
	flagSet.Visit(func(f *flag.Flag) { set[f.Name] = true })

	project := first(*projectFlag, flagSet.Arg(0))
	if flagSet.NArg() > 1 {
		return nil, false, usageError("expected at most one project path, got %d", flagSet.NArg())
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, usageError("invalid log-format: must be 'text' or 'json'")
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, usageError("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}

	defaults := config.Entry{
		Browser:    first(*bFlag, *browserFlag),
		ConfigFile: *configFileFlag,
		Spec:       first(*sFlag, *specFlag),
	}
	var err error
	if defaults.Config, err = overrides("config", *configFlag); err != nil {
		return nil, false, usageError("%v", err)
	}
	if defaults.Env, err = overrides("env", *envFlag); err != nil {
		return nil, false, usageError("%v", err)
	}

	var ignored []string
	for _, name := range ignoredFlags {
		if set[name] {
			ignored = append(ignored, name+"="+flagSet.Lookup(name).Value.String())
		}
	}
	slog.Debug("CLI parameter validation complete.")

	creds := sauce.Credentials{
		Username:  fromEnv(lookupEnv, EnvUsername, first(*usernameFlag, *uFlag)),
		AccessKey: fromEnv(lookupEnv, EnvAccessKey, first(*accessKeyFlag, *aFlag)),
	}

	cfg, err := app.NewConfig(app.Config{
		ProjectRoot:     project,
		Credentials:     creds,
		Region:          *regionFlag,
		APIURL:          *apiURLFlag,
		HTTPTimeout:     *httpTimeoutFlag,
		Concurrency:     *concurrencyFlag,
		CypressVersion:  *cypressVersionFlag,
		Build:           *buildFlag,
		Tags:            split(*tagsFlag),
		Tunnel:          *tunnelFlag,
		TunnelBinary:    *tunnelBinaryFlag,
		SauceConfig:     *sauceConfigFlag,
		Defaults:        defaults,
		Ignored:         ignored,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		HealthcheckPort: *healthPortFlag,
		PollInterval:    positive(*pollFlag),
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "project", cfg.ProjectRoot, "region", cfg.Region)
	return cfg, false, nil
}

func overrides(arg, s string) (config.Overrides, error) {
	if s == "" {
		return config.Overrides{}, nil
	}
	return config.ParseOverrides(arg, s)
}

// fromEnv prefers a non-empty environment value over the flag value.
func fromEnv(lookupEnv func(string) (string, bool), key, flagValue string) string {
	if v, ok := lookupEnv(key); ok && v != "" {
		return v
	}
	return flagValue
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func split(list string) []string {
	if list == "" {
		return nil
	}
	return strings.Split(list, ",")
}

func positive(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
