package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/specialistvlad/saucegrid/internal/ctxlog"
	"github.com/specialistvlad/saucegrid/internal/matrix"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle of a run.
type State int

const (
	Pending State = iota
	Dispatching
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Dispatching:
		return "dispatching"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// SuiteFailedError reports a suite that completed without passing.
type SuiteFailedError struct {
	Index int
	Name  string
}

func (e *SuiteFailedError) Error() string {
	return fmt.Sprintf("your suites did not pass: %s", e.Name)
}

// SuiteError reports a suite that could not be run to completion.
type SuiteError struct {
	Index int
	Name  string
	Err   error
}

func (e *SuiteError) Error() string {
	return fmt.Sprintf("your suites errored: %s: %v", e.Name, e.Err)
}

func (e *SuiteError) Unwrap() error { return e.Err }

// Snapshot is a point-in-time view of a run.
type Snapshot struct {
	State      string `json:"state"`
	Total      int    `json:"total"`
	Dispatched int    `json:"dispatched"`
	Running    int    `json:"running"`
	Passed     int    `json:"passed"`
	Failure    string `json:"failure,omitempty"`
}

// Ceiling returns the number of suites that may be in flight: the smallest
// positive value among configured, accountMax and total, and at least 1.
func Ceiling(configured, accountMax, total int) int {
	c := 0
	for _, v := range []int{configured, accountMax, total} {
		if v > 0 && (c == 0 || v < c) {
			c = v
		}
	}
	if c < 1 {
		c = 1
	}
	return c
}

// Scheduler runs suites with at most ceiling of them in flight.
type Scheduler struct {
	runner  Runner
	ceiling int

	mu      sync.Mutex
	state   State
	total   int
	cursor  int
	running int
	passed  int
	failure error
}

// New returns a scheduler for r. A ceiling below 1 is treated as 1.
func New(r Runner, ceiling int) *Scheduler {
	if ceiling < 1 {
		ceiling = 1
	}
	return &Scheduler{runner: r, ceiling: ceiling}
}

// Run dispatches suites in order and returns nil only if every suite passed.
// The first failure is returned as a *SuiteFailedError or *SuiteError.
func (s *Scheduler) Run(ctx context.Context, suites []matrix.Suite) error {
	logger := ctxlog.FromContext(ctx)

	s.mu.Lock()
	if s.state != Pending {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already used: %s", s.state)
	}
	if len(suites) == 0 {
		s.state = Done
		s.mu.Unlock()
		logger.Warn("No suites to run.")
		return nil
	}
	s.state = Dispatching
	s.total = len(suites)
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	failed := make(chan struct{})
	var failOnce sync.Once
	declare := func() {
		failOnce.Do(func() {
			cancel()
			close(failed)
		})
	}

	workers := min(s.ceiling, len(suites))
	logger.Info("🚀 Running suites.", "suites", len(suites), "concurrency", workers)

	g, gctx := errgroup.WithContext(runCtx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			s.worker(gctx, w, suites, declare)
			return nil
		})
	}

	finished := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(finished)
	}()

	select {
	case <-failed:
		// Stragglers keep running against a cancelled context.
	case <-finished:
		cancel()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	if err := ctx.Err(); err != nil {
		s.state = Failed
		s.failure = err
		return err
	}
	s.state = Done
	logger.Info("✅ Finished running suites. All passed.", "suites", s.total)
	return nil
}

func (s *Scheduler) worker(ctx context.Context, id int, suites []matrix.Suite, declare func()) {
	logger := ctxlog.FromContext(ctx).With("workerID", id)
	logger.Debug("Worker started.")
	defer logger.Debug("Worker finished.")

	for {
		i, ok := s.claim(ctx)
		if !ok {
			return
		}
		suite := suites[i]
		logger.Debug("Worker picked up suite.", "index", i, "suite", suite.Name)

		passed, err := s.runner.Run(ctx, suite)
		if err == nil && passed {
			s.complete()
			continue
		}

		var failure error
		if err != nil {
			failure = &SuiteError{Index: i, Name: suite.Name, Err: err}
		} else {
			failure = &SuiteFailedError{Index: i, Name: suite.Name}
		}
		if s.fail(failure) {
			logger.Error("Suite failed, stopping the run.", "suite", suite.Name, "error", failure)
			declare()
		}
		return
	}
}

// claim hands out the next suite index unless the run has failed, ctx has
// ended or every suite was dispatched.
func (s *Scheduler) claim(ctx context.Context) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil || ctx.Err() != nil || s.cursor >= s.total {
		return 0, false
	}
	i := s.cursor
	s.cursor++
	s.running++
	return i, true
}

func (s *Scheduler) complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running--
	s.passed++
}

// fail records err as the run's failure if none was recorded yet and
// reports whether it did.
func (s *Scheduler) fail(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running--
	if s.failure != nil {
		return false
	}
	s.failure = err
	s.state = Failed
	return true
}

// Snapshot returns the current progress of the run.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		State:      s.state.String(),
		Total:      s.total,
		Dispatched: s.cursor,
		Running:    s.running,
		Passed:     s.passed,
	}
	if s.failure != nil {
		snap.Failure = s.failure.Error()
	}
	return snap
}
