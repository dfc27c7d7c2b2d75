// Package tunnel starts and stops a Sauce Connect process so remote browsers
// can reach hosts on the local network. The tunnel identifier is generated
// here, before the process starts, so jobs can reference it up front.
package tunnel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/specialistvlad/saucegrid/internal/ctxlog"
	"github.com/specialistvlad/saucegrid/internal/sauce"
)

const (
	// DefaultBinary is looked up on PATH when no binary is configured.
	DefaultBinary = "sc"
	// IdentifierPrefix starts every generated tunnel identifier.
	IdentifierPrefix = "saucegrid-"
	// ReadyLine is printed by Sauce Connect once the tunnel is usable.
	ReadyLine = "you may start your tests"

	DefaultReadyTimeout = 2 * time.Minute
	DefaultStopTimeout  = 15 * time.Second

	readyPollInterval = 200 * time.Millisecond
	maxOutput         = 64 << 10
)

// ErrReadyTimeout is wrapped by ProvisionError when the tunnel never became
// ready.
var ErrReadyTimeout = errors.New("timed out waiting for tunnel")

// ProvisionError reports a tunnel that failed to come up, together with
// whatever the process printed.
type ProvisionError struct {
	Identifier string
	Output     string
	Err        error
}

func (e *ProvisionError) Error() string {
	msg := fmt.Sprintf("failed to start tunnel %s: %v", e.Identifier, e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// Config controls how Sauce Connect is launched.
type Config struct {
	Binary       string
	Region       sauce.Region
	ReadyTimeout time.Duration
	StopTimeout  time.Duration
	ExtraArgs    []string
}

// Provisioner starts tunnels.
type Provisioner struct {
	cfg     Config
	newID   func() string
	command func(name string, args ...string) *exec.Cmd
}

// NewProvisioner fills in defaults for any unset Config field.
func NewProvisioner(cfg Config) *Provisioner {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.Region == "" {
		cfg.Region = sauce.RegionUSWest
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	return &Provisioner{
		cfg:     cfg,
		newID:   func() string { return IdentifierPrefix + uuid.NewString() },
		command: exec.Command,
	}
}

// Start launches Sauce Connect and blocks until it reports ready, exits,
// the ready timeout elapses or ctx ends. Cancelling ctx after Start returns
// does not stop the tunnel; call Close.
func (p *Provisioner) Start(ctx context.Context, creds sauce.Credentials) (*Tunnel, error) {
	id := p.newID()
	ctx, logger := ctxlog.With(ctx, "tunnel", id)

	dir, err := os.MkdirTemp("", "saucegrid-tunnel-*")
	if err != nil {
		return nil, &ProvisionError{Identifier: id, Err: err}
	}
	readyFile := filepath.Join(dir, "ready")

	args := []string{
		"--user", creds.Username,
		"--api-key", creds.AccessKey,
		"--region", string(p.cfg.Region),
		"--tunnel-identifier", id,
		"--readyfile", readyFile,
	}
	args = append(args, p.cfg.ExtraArgs...)

	out := &watcher{ready: make(chan struct{})}
	cmd := p.command(p.cfg.Binary, args...)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = p.cfg.StopTimeout

	logger.Debug("Starting Sauce Connect.", "binary", p.cfg.Binary, "region", p.cfg.Region)
	if err := cmd.Start(); err != nil {
		os.RemoveAll(dir)
		return nil, &ProvisionError{Identifier: id, Err: err}
	}

	t := &Tunnel{
		id:          id,
		cmd:         cmd,
		dir:         dir,
		out:         out,
		done:        make(chan struct{}),
		stopTimeout: p.cfg.StopTimeout,
	}
	go func() {
		t.waitErr = cmd.Wait()
		close(t.done)
	}()

	if err := t.awaitReady(ctx, readyFile, p.cfg.ReadyTimeout); err != nil {
		t.kill()
		os.RemoveAll(dir)
		return nil, &ProvisionError{Identifier: id, Output: out.String(), Err: err}
	}
	logger.Info("✅ Sauce Connect tunnel is up.")
	return t, nil
}

// Tunnel is a running Sauce Connect process.
type Tunnel struct {
	id          string
	cmd         *exec.Cmd
	dir         string
	out         *watcher
	done        chan struct{}
	waitErr     error
	stopTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// Identifier is the name jobs use to route through this tunnel.
func (t *Tunnel) Identifier() string { return t.id }

// Output returns what the process has printed so far.
func (t *Tunnel) Output() string { return t.out.String() }

func (t *Tunnel) awaitReady(ctx context.Context, readyFile string, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.out.ready:
			return nil
		case <-t.done:
			if t.waitErr != nil {
				return fmt.Errorf("sauce connect exited: %w", t.waitErr)
			}
			return errors.New("sauce connect exited before the tunnel was ready")
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("%w after %s", ErrReadyTimeout, timeout)
		case <-ticker.C:
			if _, err := os.Stat(readyFile); err == nil {
				return nil
			}
		}
	}
}

// Close stops the process: interrupt first, kill once the stop timeout or
// ctx expires. Only the first call does any work; later calls return the
// same result.
func (t *Tunnel) Close(ctx context.Context) error {
	t.closeOnce.Do(func() {
		logger := ctxlog.FromContext(ctx).With("tunnel", t.id)
		logger.Info("ℹ️ Closing Sauce Connect tunnel.")
		defer os.RemoveAll(t.dir)

		select {
		case <-t.done:
			logger.Debug("Sauce Connect had already exited.", "error", t.waitErr)
			return
		default:
		}

		if err := t.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
			logger.Debug("Interrupt failed, killing Sauce Connect.", "error", err)
			t.kill()
			return
		}

		timer := time.NewTimer(t.stopTimeout)
		defer timer.Stop()
		select {
		case <-t.done:
			logger.Debug("Sauce Connect stopped.")
		case <-timer.C:
			t.kill()
			t.closeErr = fmt.Errorf("tunnel %s did not stop within %s and was killed", t.id, t.stopTimeout)
		case <-ctx.Done():
			t.kill()
			t.closeErr = fmt.Errorf("tunnel %s was killed: %w", t.id, ctx.Err())
		}
	})
	return t.closeErr
}

func (t *Tunnel) kill() {
	_ = t.cmd.Process.Kill()
	<-t.done
}

// watcher collects process output, bounded to the most recent bytes, and
// closes ready when ReadyLine is seen.
type watcher struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	partial string
	ready   chan struct{}
	seen    bool
}

func (w *watcher) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	if w.buf.Len() > maxOutput {
		w.buf.Next(w.buf.Len() - maxOutput)
	}

	if !w.seen {
		lines := strings.Split(w.partial+string(p), "\n")
		w.partial = lines[len(lines)-1]
		for _, line := range lines {
			if strings.Contains(strings.ToLower(line), ReadyLine) {
				w.seen = true
				close(w.ready)
				break
			}
		}
		if len(w.partial) > maxOutput {
			w.partial = w.partial[len(w.partial)-maxOutput:]
		}
	}
	return len(p), nil
}

func (w *watcher) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}
