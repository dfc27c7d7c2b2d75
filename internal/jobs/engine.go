// Package jobs submits one suite at a time to the test composer and polls the
// resulting job until it reaches a terminal state.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/specialistvlad/saucegrid/internal/ctxlog"
	"github.com/specialistvlad/saucegrid/internal/matrix"
	"github.com/specialistvlad/saucegrid/internal/sauce"
)

const (
	DefaultPollInterval       = 15 * time.Second
	DefaultMaxAttempts        = 120
	DefaultBuildRetries       = 5
	DefaultBuildRetryInterval = 2 * time.Second

	// Framework is submitted with every job.
	Framework = "cypress"
)

// ErrPollTimeout is matched by every *TimeoutError.
var ErrPollTimeout = errors.New("timed out waiting for job")

// TimeoutError is returned when a job is still not terminal after the
// configured number of polls.
type TimeoutError struct {
	JobID    string
	Attempts int
	Interval time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s did not complete after %d polls every %s", e.JobID, e.Attempts, e.Interval)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrPollTimeout }

// JobError is returned when the remote service reports the job errored.
type JobError struct {
	JobID   string
	Message string
}

func (e *JobError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("job %s errored", e.JobID)
	}
	return fmt.Sprintf("job %s errored: %s", e.JobID, e.Message)
}

// API is the part of the Sauce Labs client the engine drives.
type API interface {
	SubmitJob(ctx context.Context, req *sauce.JobRequest) (string, error)
	JobStatus(ctx context.Context, jobID string) (*sauce.Job, error)
	ListBuilds(ctx context.Context, status string) ([]sauce.Build, error)
}

// Status is the local view of a remote job state.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

func statusOf(remote string) Status {
	switch remote {
	case sauce.JobNew, sauce.JobQueued:
		return StatusQueued
	case sauce.JobComplete:
		return StatusComplete
	case sauce.JobError:
		return StatusError
	}
	return StatusRunning
}

// Handle identifies a submitted job. Status and Passed reflect the most
// recent poll; Passed is only meaningful once Status is StatusComplete.
type Handle struct {
	JobID  string
	Suite  string
	Status Status
	Passed bool
}

// Options are the run-level fields shared by every job.
type Options struct {
	App              string // storage:<id>
	Build            string
	Tags             []string
	FrameworkVersion string
	TunnelID         string
	Region           sauce.Region

	PollInterval       time.Duration
	MaxAttempts        int
	BuildRetries       int
	BuildRetryInterval time.Duration
}

// Engine submits and tracks jobs for one run. It is safe for concurrent use.
type Engine struct {
	api  API
	opts Options

	discoveryStarted atomic.Bool
	discovery        sync.WaitGroup
	mu               sync.Mutex
	buildID          string
}

// NewEngine fills in defaults for unset timing options.
func NewEngine(api API, opts Options) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BuildRetries <= 0 {
		opts.BuildRetries = DefaultBuildRetries
	}
	if opts.BuildRetryInterval <= 0 {
		opts.BuildRetryInterval = DefaultBuildRetryInterval
	}
	if opts.Region == "" {
		opts.Region = sauce.RegionUSWest
	}
	return &Engine{api: api, opts: opts}
}

// Submit starts a job for s. The first successful submission of the run also
// starts build discovery in the background.
func (e *Engine) Submit(ctx context.Context, s matrix.Suite) (*Handle, error) {
	logger := ctxlog.FromContext(ctx)

	req := &sauce.JobRequest{
		Name:             s.Name,
		BrowserName:      s.BrowserName,
		BrowserVersion:   matrix.VersionOrLatest(s.BrowserVersion),
		PlatformName:     s.PlatformName,
		ScreenResolution: s.ScreenResolution,
		App:              e.opts.App,
		Suite:            s.Name,
		Framework:        Framework,
		FrameworkVersion: e.opts.FrameworkVersion,
		Build:            e.opts.Build,
		Tags:             e.opts.Tags,
	}
	if e.opts.TunnelID != "" {
		req.Tunnel = &sauce.TunnelRef{ID: e.opts.TunnelID}
	}

	id, err := e.api.SubmitJob(ctx, req)
	if err != nil {
		return nil, err
	}
	logger.Info("🚀 Suite submitted.", "job", id, "url", e.opts.Region.JobURL(id))

	if e.discoveryStarted.CompareAndSwap(false, true) {
		e.discovery.Add(1)
		go func() {
			defer e.discovery.Done()
			e.discoverBuild(ctx)
		}()
	}
	return &Handle{JobID: id, Suite: s.Name, Status: StatusQueued}, nil
}

// AwaitCompletion polls h every PollInterval, at most MaxAttempts times, and
// reports whether the job passed. A job that is not yet terminal is retried;
// an error from the status endpoint is returned as is.
func (e *Engine) AwaitCompletion(ctx context.Context, h *Handle) (bool, error) {
	logger := ctxlog.FromContext(ctx).With("job", h.JobID)
	timer := time.NewTimer(e.opts.PollInterval)
	defer timer.Stop()

	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}

		job, err := e.api.JobStatus(ctx, h.JobID)
		if err != nil {
			return false, fmt.Errorf("failed to poll job %s: %w", h.JobID, err)
		}
		h.Status = statusOf(job.Status)
		logger.Debug("Polled job.", "attempt", attempt, "status", job.Status)

		switch h.Status {
		case StatusComplete:
			h.Passed = job.Passed != nil && *job.Passed
			return h.Passed, nil
		case StatusError:
			return false, &JobError{JobID: h.JobID, Message: job.Error}
		}
		timer.Reset(e.opts.PollInterval)
	}
	return false, &TimeoutError{JobID: h.JobID, Attempts: e.opts.MaxAttempts, Interval: e.opts.PollInterval}
}

// Run submits s and waits for its outcome.
func (e *Engine) Run(ctx context.Context, s matrix.Suite) (bool, error) {
	ctx, logger := ctxlog.With(ctx, "suite", s.Name)

	h, err := e.Submit(ctx, s)
	if err != nil {
		return false, err
	}
	passed, err := e.AwaitCompletion(ctx, h)
	if err != nil {
		return false, err
	}
	if passed {
		logger.Info("✅ Suite passed.", "job", h.JobID)
	} else {
		logger.Warn("❌ Suite did not pass.", "job", h.JobID, "url", e.opts.Region.JobURL(h.JobID))
	}
	return passed, nil
}

// BuildID returns the remote build id once discovery resolved it.
func (e *Engine) BuildID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buildID
}

// Wait blocks until background build discovery has finished.
func (e *Engine) Wait() {
	e.discovery.Wait()
}

// discoverBuild correlates the build name with the running builds. Failures
// are logged and otherwise ignored.
func (e *Engine) discoverBuild(ctx context.Context) {
	logger := ctxlog.FromContext(ctx).With("build", e.opts.Build)

	for attempt := 1; attempt <= e.opts.BuildRetries; attempt++ {
		builds, err := e.api.ListBuilds(ctx, "running")
		if err != nil {
			logger.Debug("Build lookup failed.", "attempt", attempt, "error", err)
		}
		for _, b := range builds {
			if b.Name == e.opts.Build {
				e.mu.Lock()
				e.buildID = b.ID
				e.mu.Unlock()
				logger.Info("ℹ️ Follow the build.", "url", e.opts.Region.BuildURL(b.ID))
				return
			}
		}
		if attempt == e.opts.BuildRetries {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.opts.BuildRetryInterval):
		}
	}
	logger.Info("ℹ️ Could not resolve the build, continuing without a build link.")
}
