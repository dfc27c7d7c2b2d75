package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/specialistvlad/saucegrid/internal/sauce"
	"github.com/specialistvlad/saucegrid/internal/scheduler"
	"github.com/specialistvlad/saucegrid/internal/tunnel"
)

// tunnelHandle is the part of a running tunnel the run lifecycle needs.
type tunnelHandle interface {
	Identifier() string
	Close(ctx context.Context) error
}

// tunnelOpener starts a tunnel and blocks until it is ready.
type tunnelOpener func(ctx context.Context, creds sauce.Credentials) (tunnelHandle, error)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW       io.Writer
	logger     *slog.Logger
	config     *Config
	client     *sauce.Client
	openTunnel tunnelOpener
	now        func() time.Time

	mu         sync.Mutex
	scheduler  *scheduler.Scheduler
	httpServer *http.Server
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger and API client.
func NewApp(outW io.Writer, cfg *Config) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	var opts []sauce.Option
	if cfg.HTTPTimeout > 0 {
		opts = append(opts, sauce.WithTimeout(cfg.HTTPTimeout))
	}
	client := sauce.NewClient(cfg.apiURL(), cfg.Credentials, opts...)
	logger.Debug("Sauce Labs client configured.", "url", cfg.apiURL(), "user", cfg.Credentials.Username, "timeout", cfg.HTTPTimeout)

	provisioner := tunnel.NewProvisioner(tunnel.Config{
		Binary: cfg.TunnelBinary,
		Region: cfg.region(),
	})

	return &App{
		outW:   outW,
		logger: logger,
		config: cfg,
		client: client,
		openTunnel: func(ctx context.Context, creds sauce.Credentials) (tunnelHandle, error) {
			t, err := provisioner.Start(ctx, creds)
			if err != nil {
				return nil, err
			}
			return t, nil
		},
		now: time.Now,
	}
}

// Close releases the API client's idle connections.
func (a *App) Close() {
	a.client.Close()
}

func (a *App) setScheduler(s *scheduler.Scheduler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scheduler = s
}

// Status returns the progress of the current run.
func (a *App) Status() scheduler.Snapshot {
	a.mu.Lock()
	s := a.scheduler
	a.mu.Unlock()
	if s == nil {
		return scheduler.Snapshot{State: scheduler.Pending.String()}
	}
	return s.Snapshot()
}
