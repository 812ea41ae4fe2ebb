// Package saga runs a short sequence of steps that span systems without a
// shared transaction, undoing completed steps when a later one fails.
package saga

import (
	"context"
	"errors"
	"fmt"
)

// Step is one action and its undo. Compensate may be nil.
type Step struct {
	Name       string
	Execute    func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// StepError reports the step that failed and, separately, any failure while
// undoing the steps before it. It unwraps to the step's error.
type StepError struct {
	Saga            string
	Step            string
	Index           int
	Err             error
	CompensationErr error
}

func (e *StepError) Error() string {
	if e.CompensationErr != nil {
		return fmt.Sprintf("saga %s: step %q failed (%v), compensation also failed: %v", e.Saga, e.Step, e.Err, e.CompensationErr)
	}
	return fmt.Sprintf("saga %s: step %q failed: %v", e.Saga, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Compensated reports whether every completed step was undone.
func (e *StepError) Compensated() bool { return e.CompensationErr == nil }

type Saga struct {
	name  string
	steps []Step
}

func New(name string) *Saga {
	return &Saga{name: name}
}

func (s *Saga) AddStep(step Step) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// Execute runs the steps in order. On the first failure it compensates the
// completed steps in reverse and returns a *StepError. Compensation runs
// even when ctx is already canceled, since the caller's deadline is often
// what made the step fail.
func (s *Saga) Execute(ctx context.Context) error {
	for i, step := range s.steps {
		if err := step.Execute(ctx); err != nil {
			return &StepError{
				Saga:            s.name,
				Step:            step.Name,
				Index:           i,
				Err:             err,
				CompensationErr: s.compensate(context.WithoutCancel(ctx), i),
			}
		}
	}
	return nil
}

// compensate undoes steps [0, failed) in reverse order, collecting every error.
func (s *Saga) compensate(ctx context.Context, failed int) error {
	var errs []error
	for i := failed - 1; i >= 0; i-- {
		step := s.steps[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("compensate step %q: %w", step.Name, err))
		}
	}
	return errors.Join(errs...)
}
