package scheduler

import (
	"context"

	"github.com/specialistvlad/saucegrid/internal/matrix"
)

// Runner executes one suite and reports whether it passed. A false result
// with a nil error is a failing suite; a non-nil error means the suite could
// not be run to completion.
type Runner interface {
	Run(ctx context.Context, s matrix.Suite) (bool, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, s matrix.Suite) (bool, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, s matrix.Suite) (bool, error) {
	return f(ctx, s)
}
