package scheduler

import (
	"context"
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Job is the body of a task. It must be idempotent: a task may run more
// than once for the same fire.
type Job func(ctx context.Context) error

// Task is a job fired on a cadence into a named queue.
type Task struct {
	Name     string
	Schedule Schedule
	Queue    string
	// HardTimeLimit cancels the job's context and fails the run.
	HardTimeLimit time.Duration
	// SoftTimeLimit closes the channel returned by SoftDeadline so the job
	// can wind down before the hard limit. Zero disables it.
	SoftTimeLimit time.Duration
	Job           Job
}

func (t Task) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Name, validation.Required),
		validation.Field(&t.Queue, validation.Required),
		validation.Field(&t.Schedule),
		validation.Field(&t.HardTimeLimit, validation.Required, validation.Min(time.Duration(0))),
		validation.Field(&t.SoftTimeLimit,
			validation.Min(time.Duration(0)),
			validation.When(t.SoftTimeLimit > 0, validation.Max(t.HardTimeLimit).Exclusive().Error("must be shorter than the hard time limit")),
		),
		validation.Field(&t.Job, validation.By(func(any) error {
			if t.Job == nil {
				return errors.New("is required")
			}
			return nil
		})),
	)
}

type softDeadlineKey struct{}

// SoftDeadline returns the channel closed when the running task passes its
// soft time limit. It is nil outside a scheduled run or when no soft limit
// is set.
func SoftDeadline(ctx context.Context) <-chan struct{} {
	ch, _ := ctx.Value(softDeadlineKey{}).(chan struct{})
	if ch == nil {
		return nil
	}
	return ch
}

func withSoftDeadline(ctx context.Context, ch chan struct{}) context.Context {
	return context.WithValue(ctx, softDeadlineKey{}, ch)
}
