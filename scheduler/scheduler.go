// Package scheduler fires tasks on cron cadences and runs them on
// per-queue worker lanes with hard and soft time limits.
//
// The scheduler loop only enqueues. Workers consume their lane's queue,
// run the job and ack the delivery afterwards, so a worker that dies
// mid-run leaves the message to be delivered again. Failed runs are
// recorded and wait for the next fire; they are never retried early.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorhill/cronexpr"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
)

var (
	// ErrHardTimeLimit marks a run stopped at its hard time limit.
	ErrHardTimeLimit = errors.New("scheduler: hard time limit exceeded")
	// ErrSoftTimeLimit marks a run that failed after its soft time limit.
	ErrSoftTimeLimit = errors.New("scheduler: soft time limit exceeded")
	// ErrUnknownTask is returned for task names the scheduler does not know.
	ErrUnknownTask = errors.New("scheduler: unknown task")
)

// State is a task's run state.
type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Outcome is the result of a task's latest run.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeSuccess
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "none"
	}
}

// Status is the observable state of one task.
type Status struct {
	Name         string
	Queue        string
	Schedule     string
	State        State
	LastOutcome  Outcome
	LastError    error
	LastFired    time.Time
	LastStarted  time.Time
	LastFinished time.Time
	NextFire     time.Time
	Fired        int
	Runs         int
	Successes    int
	Failures     int
	Crashes      int
}

// Config holds the lanes and delivery policy.
type Config struct {
	// Location is the timezone cadences are evaluated in. Default: UTC
	Location *time.Location
	// Queues maps each lane to its worker count.
	Queues map[string]int
	// MaxDeliveries bounds how often a crashed run is delivered. Default: 2
	MaxDeliveries int
}

// DefaultConfig returns a heavy lane with one worker and a light lane with four.
func DefaultConfig() Config {
	return Config{
		Location:      time.UTC,
		Queues:        map[string]int{"heavy": 1, "light": 4},
		MaxDeliveries: 2,
	}
}

// Workers returns the total number of lane workers.
func (c Config) Workers() int {
	total := 0
	for _, n := range c.Queues {
		total += n
	}
	return total
}

// FireGuard lets several scheduler processes share one schedule: only the
// process that claims a (task, fire time) pair enqueues it.
type FireGuard interface {
	Claim(ctx context.Context, task string, at time.Time) (bool, error)
}

type entry struct {
	task Task
	expr *cronexpr.Expression
	next time.Time
}

// Scheduler fires registered tasks and runs them on queue lanes.
type Scheduler struct {
	cfg    Config
	clock  Clock
	broker Broker
	guard  FireGuard
	logger logrus.FieldLogger

	tickMu  sync.Mutex
	tasks   map[string]*entry
	order   []string
	status  *xsync.MapOf[string, Status]
	workers sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock cadences are evaluated against.
func WithClock(clock Clock) Option {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithBroker sets the broker between the loop and the lanes.
func WithBroker(broker Broker) Option {
	return func(s *Scheduler) {
		if broker != nil {
			s.broker = broker
		}
	}
}

// WithFireGuard dedupes fires across processes.
func WithFireGuard(guard FireGuard) Option {
	return func(s *Scheduler) {
		s.guard = guard
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New validates tasks against cfg and primes every cadence from the
// clock's current time.
func New(cfg Config, tasks []Task, opts ...Option) (*Scheduler, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = DefaultConfig().MaxDeliveries
	}
	if len(cfg.Queues) == 0 {
		return nil, errors.New("scheduler: no queues configured")
	}
	for name, n := range cfg.Queues {
		if n <= 0 {
			return nil, fmt.Errorf("scheduler: queue %q needs at least one worker", name)
		}
	}

	s := &Scheduler{
		cfg:    cfg,
		clock:  RealClock(),
		logger: logrus.StandardLogger(),
		tasks:  make(map[string]*entry, len(tasks)),
		status: xsync.NewMapOf[string, Status](),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.broker == nil {
		s.broker = NewMemoryBroker()
	}
	s.logger = s.logger.WithField("component", "scheduler")

	now := s.clock.Now()
	for _, t := range tasks {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("scheduler: task %q: %w", t.Name, err)
		}
		if _, ok := s.tasks[t.Name]; ok {
			return nil, fmt.Errorf("scheduler: duplicate task %q", t.Name)
		}
		if _, ok := cfg.Queues[t.Queue]; !ok {
			return nil, fmt.Errorf("scheduler: task %q routed to unknown queue %q", t.Name, t.Queue)
		}
		expr, err := t.Schedule.compile()
		if err != nil {
			return nil, fmt.Errorf("scheduler: task %q: %w", t.Name, err)
		}

		e := &entry{task: t, expr: expr}
		e.next = nextIn(expr, now, cfg.Location)
		s.tasks[t.Name] = e
		s.order = append(s.order, t.Name)
		s.status.Store(t.Name, Status{
			Name:     t.Name,
			Queue:    t.Queue,
			Schedule: t.Schedule.String(),
			NextFire: e.next,
		})
	}
	sort.Strings(s.order)
	return s, nil
}

// Tick enqueues every task due at now and reschedules it from now. A task
// that missed several fire times is enqueued once.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (int, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	fired := 0
	var errs []error
	for _, name := range s.order {
		e := s.tasks[name]
		if e.next.IsZero() || now.Before(e.next) {
			continue
		}
		due := e.next
		e.next = nextIn(e.expr, now, s.cfg.Location)

		if s.guard != nil {
			claimed, err := s.guard.Claim(ctx, name, due)
			if err != nil {
				// Enqueue anyway; a duplicate run is safe, a lost one is not.
				s.logger.WithError(err).WithField("task", name).Warn("fire guard unavailable")
			} else if !claimed {
				s.status.Compute(name, func(st Status, _ bool) (Status, bool) {
					st.NextFire = e.next
					return st, false
				})
				continue
			}
		}

		if err := s.enqueue(ctx, e.task, now, false); err != nil {
			errs = append(errs, err)
			continue
		}
		fired++
		s.status.Compute(name, func(st Status, _ bool) (Status, bool) {
			st.LastFired = now
			st.NextFire = e.next
			st.Fired++
			return st, false
		})
		s.logger.WithFields(logrus.Fields{
			"task":  name,
			"queue": e.task.Queue,
			"next":  e.next,
		}).Debug("task fired")
	}
	return fired, errors.Join(errs...)
}

// RunNow enqueues a manual run of name.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	e, ok := s.tasks[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return s.enqueue(ctx, e.task, s.clock.Now(), true)
}

func (s *Scheduler) enqueue(ctx context.Context, t Task, now time.Time, manual bool) error {
	err := s.broker.Publish(ctx, Message{
		ID:         uuid.NewString(),
		Task:       t.Name,
		Queue:      t.Queue,
		EnqueuedAt: now,
		Attempt:    1,
		Manual:     manual,
	})
	if err != nil {
		return fmt.Errorf("scheduler: enqueue %s: %w", t.Name, err)
	}
	return nil
}

// Run starts the lanes and ticks until ctx is done, then waits for the
// workers to stop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start(ctx)
	defer s.Wait()

	for {
		now := s.clock.Now()
		if _, err := s.Tick(ctx, now); err != nil {
			s.logger.WithError(err).Error("tick failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(s.untilNext(now)):
		}
	}
}

// untilNext is the wait until the earliest fire time, capped at a minute so
// clock jumps are noticed.
func (s *Scheduler) untilNext(now time.Time) time.Duration {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	wait := time.Minute
	for _, e := range s.tasks {
		if e.next.IsZero() {
			continue
		}
		if d := e.next.Sub(now); d < wait {
			wait = d
		}
	}
	return max(wait, 0)
}

// Start launches the configured workers for every queue.
func (s *Scheduler) Start(ctx context.Context) {
	for queue, n := range s.cfg.Queues {
		for i := 0; i < n; i++ {
			s.workers.Add(1)
			go s.work(ctx, queue, i)
		}
	}
}

// Wait blocks until every worker started by Start has returned.
func (s *Scheduler) Wait() {
	s.workers.Wait()
}

func (s *Scheduler) work(ctx context.Context, queue string, id int) {
	defer s.workers.Done()
	log := s.logger.WithFields(logrus.Fields{"queue": queue, "worker": id})

	for {
		d, err := s.broker.Consume(ctx, queue)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrBrokerClosed) {
				return
			}
			log.WithError(err).Warn("consume failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		s.execute(ctx, d, log)
	}
}

type runResult struct {
	err     error
	crashed bool
}

func (s *Scheduler) execute(ctx context.Context, d Delivery, log logrus.FieldLogger) {
	msg := d.Message()
	log = log.WithFields(logrus.Fields{"task": msg.Task, "attempt": msg.Attempt})

	e, ok := s.tasks[msg.Task]
	if !ok {
		log.WithError(ErrUnknownTask).Error("dropping message")
		_ = d.Ack(ctx)
		return
	}

	started := s.clock.Now()
	s.status.Compute(msg.Task, func(st Status, _ bool) (Status, bool) {
		st.State = Running
		st.LastStarted = started
		return st, false
	})

	res := s.run(ctx, e.task)
	settle := context.WithoutCancel(ctx)

	switch {
	case res.err != nil && ctx.Err() != nil:
		// Shutting down: hand the message back for the next process.
		if err := d.Nack(settle); err != nil {
			log.WithError(err).Warn("nack failed")
		}
	case res.crashed && msg.Attempt < s.cfg.MaxDeliveries:
		if err := d.Nack(settle); err != nil {
			log.WithError(err).Warn("nack failed")
		}
	default:
		if err := d.Ack(settle); err != nil {
			log.WithError(err).Warn("ack failed")
		}
	}

	finished := s.clock.Now()
	s.status.Compute(msg.Task, func(st Status, _ bool) (Status, bool) {
		st.State = Idle
		st.LastFinished = finished
		st.LastError = res.err
		st.Runs++
		if res.err != nil {
			st.LastOutcome = OutcomeFailure
			st.Failures++
		} else {
			st.LastOutcome = OutcomeSuccess
			st.Successes++
		}
		if res.crashed {
			st.Crashes++
		}
		return st, false
	})

	if res.err != nil {
		log.WithError(res.err).WithField("crashed", res.crashed).Error("task failed")
		return
	}
	log.WithField("duration", finished.Sub(started)).Info("task finished")
}

// run executes t's job under its time limits. At the hard limit the worker
// stops waiting; the job's context is cancelled and its result discarded.
func (s *Scheduler) run(parent context.Context, t Task) runResult {
	ctx, cancel := context.WithTimeout(parent, t.HardTimeLimit)
	defer cancel()

	var softFired func() bool
	if t.SoftTimeLimit > 0 {
		soft := make(chan struct{})
		timer := time.AfterFunc(t.SoftTimeLimit, func() { close(soft) })
		defer timer.Stop()
		ctx = withSoftDeadline(ctx, soft)
		softFired = func() bool {
			select {
			case <-soft:
				return true
			default:
				return false
			}
		}
	}

	done := make(chan runResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- runResult{
					err:     fmt.Errorf("scheduler: task %s panicked: %v\n%s", t.Name, r, debug.Stack()),
					crashed: true,
				}
			}
		}()
		done <- runResult{err: t.Job(ctx)}
	}()

	select {
	case res := <-done:
		if res.err != nil && !res.crashed {
			switch {
			case errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil:
				res.err = fmt.Errorf("%w: %w", ErrHardTimeLimit, res.err)
			case softFired != nil && softFired():
				res.err = fmt.Errorf("%w: %w", ErrSoftTimeLimit, res.err)
			}
		}
		return res
	case <-ctx.Done():
		if err := parent.Err(); err != nil {
			return runResult{err: err}
		}
		return runResult{err: fmt.Errorf("%w after %s", ErrHardTimeLimit, t.HardTimeLimit)}
	}
}

// Status returns the state of task name.
func (s *Scheduler) Status(name string) (Status, bool) {
	return s.status.Load(name)
}

// Statuses returns every task's state ordered by name.
func (s *Scheduler) Statuses() []Status {
	out := make([]Status, 0, len(s.order))
	for _, name := range s.order {
		if st, ok := s.status.Load(name); ok {
			out = append(out, st)
		}
	}
	return out
}

// Tasks returns the registered task names in order.
func (s *Scheduler) Tasks() []string {
	return append([]string(nil), s.order...)
}

// Close closes the broker.
func (s *Scheduler) Close() error {
	return s.broker.Close()
}
