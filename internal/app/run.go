package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/specialistvlad/saucegrid/internal/ctxlog"
	"github.com/specialistvlad/saucegrid/internal/frameworkcfg"
	"github.com/specialistvlad/saucegrid/internal/jobs"
	"github.com/specialistvlad/saucegrid/internal/manifest"
	"github.com/specialistvlad/saucegrid/internal/matrix"
	"github.com/specialistvlad/saucegrid/internal/packager"
	"github.com/specialistvlad/saucegrid/internal/progress"
	"github.com/specialistvlad/saucegrid/internal/sauce"
	"github.com/specialistvlad/saucegrid/internal/scheduler"
	"golang.org/x/sync/errgroup"
)

// cleanupTimeout bounds the teardown that runs after the suites finished.
const cleanupTimeout = 30 * time.Second

type cleanupFunc func(ctx context.Context) error

// Run executes one cloud run for the configured project. It returns nil only
// when every suite passed or there was nothing to run.
func (a *App) Run(ctx context.Context) (err error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	logger := a.logger
	logger.Debug("App.Run method started.")

	var cleanups []cleanupFunc
	defer func() {
		err = runCleanups(ctx, err, cleanups)
		logger.Debug("App.Run method finished.")
	}()

	if a.config.HealthcheckPort > 0 {
		if _, err := a.startHealthcheckServer(ctx, a.config.HealthcheckPort); err != nil {
			return err
		}
		cleanups = append(cleanups, a.closeHealthcheckServer)
	}

	a.warnIgnored()

	model, err := a.loadModel(ctx)
	if err != nil {
		return err
	}
	suites, err := matrix.Expand(ctx, a.config.ProjectRoot, a.config.Defaults, model)
	if err != nil {
		return &ConfigError{Err: err}
	}
	if len(suites) == 0 {
		logger.Warn("No suites found, nothing to run.")
		return nil
	}
	logger.Debug("Suites expanded.", "count", len(suites))

	account, err := a.checkAccount(ctx)
	if err != nil {
		return err
	}
	ceiling := scheduler.Ceiling(a.config.Concurrency, account.MaxConcurrency(), len(suites))

	if err := a.writeFrameworkConfigs(ctx, suites); err != nil {
		return err
	}

	m := manifest.New(manifest.Options{
		Build:          a.config.Build,
		Tags:           a.config.Tags,
		Region:         a.config.Region,
		CypressVersion: a.config.CypressVersion,
		Concurrency:    ceiling,
	}, suites, a.now)
	manifestPath := filepath.Join(a.config.ProjectRoot, manifest.FileName)
	if err := manifest.Write(manifestPath, m); err != nil {
		return err
	}
	logger.Debug("Run manifest written.", "path", manifestPath, "build", m.Build())

	logger.Info("📦 Bundling project.", "root", a.config.ProjectRoot)
	archive, err := packager.Package(ctx, a.config.ProjectRoot, packager.DefaultArchiveName)
	if err != nil {
		return fmt.Errorf("failed to package project: %w", err)
	}

	storageID, tun, err := a.provision(ctx, archive.Path)
	if tun != nil {
		cleanups = append(cleanups, func(ctx context.Context) error {
			if err := tun.Close(ctx); err != nil {
				return fmt.Errorf("failed to close tunnel %s: %w", tun.Identifier(), err)
			}
			return nil
		})
	}
	if err != nil {
		return err
	}

	m.SetApp(storageID)
	if tun != nil {
		m.Sauce.Tunnel = tun.Identifier()
	}
	if err := manifest.Write(manifestPath, m); err != nil {
		return err
	}

	engine := jobs.NewEngine(a.client, jobs.Options{
		App:                m.Sauce.App,
		Build:              m.Build(),
		Tags:               m.Sauce.Metadata.Tags,
		FrameworkVersion:   a.config.CypressVersion,
		TunnelID:           m.Sauce.Tunnel,
		Region:             a.config.region(),
		PollInterval:       a.config.PollInterval,
		MaxAttempts:        a.config.MaxPollAttempts,
		BuildRetryInterval: a.config.BuildRetryInterval,
	})
	cleanups = append(cleanups, func(context.Context) error {
		engine.Wait()
		return nil
	})

	sched := scheduler.New(engine, ceiling)
	a.setScheduler(sched)

	dots := progress.StartIfTerminal(a.outW, a.config.ProgressInterval)
	cleanups = append(cleanups, func(context.Context) error {
		dots.Stop()
		return nil
	})

	return sched.Run(ctx, suites)
}

// checkAccount verifies the credentials and reports the account's limits.
func (a *App) checkAccount(ctx context.Context) (*sauce.Account, error) {
	logger := ctxlog.FromContext(ctx)

	account, err := a.client.Account(ctx)
	if err != nil {
		if errors.Is(err, sauce.ErrUnauthorized) {
			return nil, configErr("sauce labs rejected the credentials of %s: %w", a.client.Username(), err)
		}
		return nil, fmt.Errorf("failed to check account: %w", err)
	}
	logger.Debug("Account checked.", "type", account.UserType, "concurrency", account.MaxConcurrency())

	if account.IsFree() {
		logger.Info("ℹ️ You are on a free Sauce Labs account. Runs are limited to the free tier allowance.")
	}
	if limit := account.MaxConcurrency(); limit > 0 && a.config.Concurrency > limit {
		logger.Warn("Requested concurrency exceeds the account limit, using the limit.", "requested", a.config.Concurrency, "limit", limit)
	}
	return account, nil
}

// writeFrameworkConfigs generates the per-suite Cypress configuration and
// records its path on each suite.
func (a *App) writeFrameworkConfigs(ctx context.Context, suites []matrix.Suite) error {
	logger := ctxlog.FromContext(ctx)
	if _, err := frameworkcfg.RemoveStale(ctx, a.config.ProjectRoot); err != nil {
		return err
	}
	hinted := false
	for i := range suites {
		res, err := frameworkcfg.Write(ctx, a.config.ProjectRoot, suites[i])
		if err != nil {
			if errors.Is(err, frameworkcfg.ErrConfigNotFound) || errors.Is(err, frameworkcfg.ErrInvalidJSON) {
				return &ConfigError{Err: err}
			}
			return err
		}
		suites[i].ConfigFile = res.Path

		if !a.config.Tunnel && !hinted && isLocalURL(res.BaseURL) {
			logger.Info("ℹ️ Looks like you're running on localhost. To allow Sauce Labs VMs to access it, set '--sauce-tunnel'.", "baseUrl", res.BaseURL)
			hinted = true
		}
	}
	return nil
}

func isLocalURL(u string) bool {
	return strings.Contains(u, "localhost") || strings.Contains(u, "127.0.0.1")
}

// provision uploads the archive and, when enabled, opens the tunnel at the
// same time. A tunnel that came up is returned even if the upload failed so
// the caller can close it.
func (a *App) provision(ctx context.Context, archivePath string) (string, tunnelHandle, error) {
	logger := ctxlog.FromContext(ctx)

	var (
		storageID string
		tun       tunnelHandle
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("🚀 Uploading archive to Sauce Labs storage.", "archive", archivePath)
		id, err := a.client.UploadArchive(gctx, archivePath)
		if err != nil {
			return fmt.Errorf("failed to upload archive: %w", err)
		}
		storageID = id
		logger.Info("✅ Done uploading to storage.", "storageID", id)
		return nil
	})
	if a.config.Tunnel {
		g.Go(func() error {
			logger.Info("🚀 Starting Sauce Connect tunnel.")
			t, err := a.openTunnel(gctx, a.config.Credentials)
			if err != nil {
				return fmt.Errorf("failed to start tunnel: %w", err)
			}
			tun = t
			logger.Info("✅ Tunnel is ready.", "tunnel", t.Identifier())
			return nil
		})
	}
	err := g.Wait()
	return storageID, tun, err
}

// warnIgnored reports command line values the cloud does not use.
func (a *App) warnIgnored() {
	for _, p := range a.config.Ignored {
		name, _, _ := strings.Cut(p, "=")
		if name == "parallel" {
			a.logger.Warn("'parallel' parameter is not supported in Sauce cloud. If you'd like to see this, request it at https://saucelabs.ideas.aha.io/")
			continue
		}
		a.logger.Warn(fmt.Sprintf("Found parameter '%s'. '%s' is not used in Sauce Labs cloud and will be ignored.", p, name))
	}
}

// runCleanups runs the cleanups in reverse order on a context that outlives
// cancellation of ctx. Their errors are appended after runErr.
func runCleanups(ctx context.Context, runErr error, cleanups []cleanupFunc) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	var merr *multierror.Error
	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := cleanups[i](ctx); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if merr == nil {
		return runErr
	}
	if runErr == nil {
		return merr.ErrorOrNil()
	}
	return multierror.Append(runErr, merr.Errors...)
}
