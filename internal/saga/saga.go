// Package saga runs a sequence of steps and undoes the completed ones, newest
// first, when a later step fails.
package saga

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Step is a unit of work with an optional compensating action.
type Step struct {
	Name       string
	Execute    func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// StepError wraps the error of the step that aborted the run.
type StepError struct {
	Step string
	Err  error
	// CompensationErrs holds failures of compensating actions, if any.
	CompensationErrs []error
}

func (e *StepError) Error() string {
	return "step " + e.Step + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error { return e.Err }

// Run executes steps in order. When a step fails, Compensate is called for
// every previously completed step in reverse order, on a context that is not
// cancelled with ctx, and the failure is returned as *StepError.
//
// Compensation failures are logged and attached to the StepError; they never
// stop the remaining compensations.
func Run(ctx context.Context, steps []Step) error {
	lg := zctx.From(ctx)
	done := make([]Step, 0, len(steps))

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return rollback(ctx, lg, done, &StepError{Step: step.Name, Err: err})
		}
		if err := step.Execute(ctx); err != nil {
			lg.Debug("Step failed, compensating",
				zap.String("step", step.Name),
				zap.Int("completed", len(done)),
				zap.Error(err),
			)
			return rollback(ctx, lg, done, &StepError{Step: step.Name, Err: err})
		}
		done = append(done, step)
	}
	return nil
}

func rollback(ctx context.Context, lg *zap.Logger, done []Step, stepErr *StepError) error {
	ctx = context.WithoutCancel(ctx)
	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			lg.Error("Compensation failed",
				zap.String("step", step.Name),
				zap.String("failed_step", stepErr.Step),
				zap.Error(err),
			)
			stepErr.CompensationErrs = append(stepErr.CompensationErrs, errors.Wrapf(err, "compensate %s", step.Name))
		}
	}
	return stepErr
}
