package view

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/goliatone/go-analytics-cache/batch"
	"github.com/goliatone/go-analytics-cache/profiler"
)

type options struct {
	exec     *batch.Executor
	profiler *profiler.Profiler
	windDown func(context.Context) <-chan struct{}
	logger   logrus.FieldLogger
	now      func() time.Time
}

// Option configures a Builder or a Reader.
type Option func(*options)

// WithExecutor sets the executor used by partitioned builds.
func WithExecutor(exec *batch.Executor) Option {
	return func(o *options) {
		if exec != nil {
			o.exec = exec
		}
	}
}

// WithProfiler runs every aggregation query through p before executing it.
func WithProfiler(p *profiler.Profiler) Option {
	return func(o *options) {
		o.profiler = p
	}
}

// WithWindDownSignal tells builds where to look for a request to stop
// early. A closed channel makes the build give up with ErrWindDown before
// it replaces the target.
func WithWindDownSignal(fn func(context.Context) <-chan struct{}) Option {
	return func(o *options) {
		o.windDown = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func newOptions(component string, opts []Option) options {
	o := options{
		logger: logrus.StandardLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.exec == nil {
		o.exec = batch.NewExecutor(batch.DefaultConfig())
	}
	o.logger = o.logger.WithField("component", component)
	return o
}
