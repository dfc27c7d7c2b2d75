package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/specialistvlad/saucegrid/internal/matrix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeSuites(n int) []matrix.Suite {
	suites := make([]matrix.Suite, n)
	for i := range suites {
		suites[i] = matrix.Suite{Name: fmt.Sprintf("suite-%d", i+1), BrowserName: "chrome"}
	}
	return suites
}

func TestCeiling(t *testing.T) {
	testCases := []struct {
		name       string
		configured int
		accountMax int
		total      int
		expected   int
	}{
		{"configured is smallest", 2, 10, 5, 2},
		{"account caps configured", 8, 3, 10, 3},
		{"fewer suites than slots", 10, 10, 4, 4},
		{"unknown account limit", 5, 0, 10, 5},
		{"nothing positive", 0, 0, 0, 1},
		{"negative configured", -1, 4, 6, 4},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Ceiling(tc.configured, tc.accountMax, tc.total))
		})
	}
}

func TestRun_NeverExceedsCeiling(t *testing.T) {
	// --- Arrange ---
	var inFlight, maxInFlight atomic.Int32
	runner := RunnerFunc(func(ctx context.Context, s matrix.Suite) (bool, error) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return true, nil
	})
	s := New(runner, Ceiling(3, 10, 12))

	// --- Act ---
	err := s.Run(context.Background(), makeSuites(12))

	// --- Assert ---
	require.NoError(t, err)
	assert.LessOrEqual(t, maxInFlight.Load(), int32(3))
	assert.Equal(t, Snapshot{State: "done", Total: 12, Dispatched: 12, Running: 0, Passed: 12}, s.Snapshot())
}

func TestRun_DispatchesInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	runner := RunnerFunc(func(ctx context.Context, s matrix.Suite) (bool, error) {
		mu.Lock()
		order = append(order, s.Name)
		mu.Unlock()
		return true, nil
	})

	require.NoError(t, New(runner, 1).Run(context.Background(), makeSuites(4)))
	assert.Equal(t, []string{"suite-1", "suite-2", "suite-3", "suite-4"}, order)
}

func TestRun_FailFastWithoutWaitingForStragglers(t *testing.T) {
	// --- Arrange ---
	// Five suites, two slots. Suites 1 and 2 pass, suite 3 fails at once and
	// suite 4 is still running when it does, so suite 5 must never start.
	release := make(chan struct{})
	defer close(release)

	var mu sync.Mutex
	dispatched := map[string]bool{}
	runner := RunnerFunc(func(ctx context.Context, s matrix.Suite) (bool, error) {
		mu.Lock()
		dispatched[s.Name] = true
		mu.Unlock()
		switch s.Name {
		case "suite-3":
			return false, nil
		case "suite-4":
			<-release
			return true, nil
		}
		return true, nil
	})
	s := New(runner, 2)

	// --- Act ---
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), makeSuites(5)) }()

	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run waited for an in-flight suite after a failure")
	}

	// --- Assert ---
	var failed *SuiteFailedError
	require.True(t, errors.As(err, &failed), "expected SuiteFailedError, got %v", err)
	assert.Equal(t, "suite-3", failed.Name)
	assert.Equal(t, 2, failed.Index)

	mu.Lock()
	assert.False(t, dispatched["suite-5"], "suite 5 must not be dispatched after the failure")
	mu.Unlock()

	snap := s.Snapshot()
	assert.Equal(t, "failed", snap.State)
	assert.LessOrEqual(t, snap.Dispatched, 4)
	assert.Contains(t, snap.Failure, "suite-3")
}

func TestRun_SuiteErrorIsDistinguishable(t *testing.T) {
	boom := errors.New("submission rejected")
	runner := RunnerFunc(func(ctx context.Context, s matrix.Suite) (bool, error) {
		if s.Name == "suite-2" {
			return false, boom
		}
		return true, nil
	})

	err := New(runner, 1).Run(context.Background(), makeSuites(3))

	var se *SuiteError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "suite-2", se.Name)
	assert.True(t, errors.Is(err, boom))
	var sf *SuiteFailedError
	assert.False(t, errors.As(err, &sf))
}

func TestRun_CancelsInFlightContext(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	runner := RunnerFunc(func(ctx context.Context, s matrix.Suite) (bool, error) {
		if s.Name == "suite-1" {
			<-started
			return false, nil
		}
		close(started)
		<-ctx.Done()
		close(cancelled)
		return false, ctx.Err()
	})

	err := New(runner, 2).Run(context.Background(), makeSuites(2))
	var sf *SuiteFailedError
	require.True(t, errors.As(err, &sf))

	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight suite did not observe cancellation")
	}
}

func TestRun_EmptyListIsNoop(t *testing.T) {
	called := false
	s := New(RunnerFunc(func(context.Context, matrix.Suite) (bool, error) {
		called = true
		return true, nil
	}), 2)

	require.NoError(t, s.Run(context.Background(), nil))
	assert.False(t, called)
	assert.Equal(t, "done", s.Snapshot().State)
}

func TestRun_ParentContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	s := New(RunnerFunc(func(context.Context, matrix.Suite) (bool, error) {
		called = true
		return true, nil
	}), 2)

	err := s.Run(ctx, makeSuites(3))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestRun_OnlyOnce(t *testing.T) {
	s := New(RunnerFunc(func(context.Context, matrix.Suite) (bool, error) { return true, nil }), 1)
	require.NoError(t, s.Run(context.Background(), makeSuites(1)))
	require.Error(t, s.Run(context.Background(), makeSuites(1)))
}
