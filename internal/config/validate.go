package config

import (
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"

	"github.com/goliatone/go-analytics-cache/batch"
	"github.com/goliatone/go-analytics-cache/scheduler"
	"github.com/goliatone/go-analytics-cache/store"
)

// Validate checks every section and the cross references between tasks,
// queues and views.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Log),
		validation.Field(&c.Database),
		validation.Field(&c.Cache),
		validation.Field(&c.Valkey, validation.Skip.When(!c.UsesValkey())),
		validation.Field(&c.Batch),
		validation.Field(&c.Scheduler),
	)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.CacheConfig().Validate(); err != nil {
		return fmt.Errorf("config: cache: %w", err)
	}
	if err := c.validateViews(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.validateTasks(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.validateConcurrency(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (l LogConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.Required, validation.By(func(any) error {
			_, err := logrus.ParseLevel(l.Level)
			return err
		})),
		validation.Field(&l.Format, validation.In("text", "json")),
	)
}

func (d DatabaseConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Driver, validation.Required,
			validation.In(store.DriverSQLite, "sqlite3", store.DriverPostgres, "pg")),
		validation.Field(&d.DSN, validation.Required),
		validation.Field(&d.MaxOpenConns, validation.Min(0)),
	)
}

func (c CacheConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Backend, validation.Required, validation.In(BackendMemory, BackendValkey)),
		validation.Field(&c.TTL, validation.Required, validation.Min(time.Second)),
	)
}

func (v ValkeyConfig) Validate() error {
	return validation.ValidateStruct(&v,
		validation.Field(&v.Address, validation.Required),
		validation.Field(&v.DB, validation.Min(0)),
	)
}

func (b BatchConfig) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.MaxWorkers, validation.Required, validation.Min(1)),
		validation.Field(&b.CPUWorkers, validation.Min(0)),
	)
}

func (s SchedulerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Timezone, validation.Required, validation.By(func(any) error {
			_, err := time.LoadLocation(s.Timezone)
			return err
		})),
		validation.Field(&s.Broker, validation.Required, validation.In(BackendMemory, BackendValkey)),
		validation.Field(&s.MaxConcurrency, validation.Required, validation.Min(1)),
		validation.Field(&s.MaxDeliveries, validation.Min(0)),
		validation.Field(&s.Queues, validation.Required),
	)
}

func (q QueueConfig) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.Name, validation.Required),
		validation.Field(&q.Workers, validation.Required, validation.Min(1)),
	)
}

func (t TaskConfig) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Name, validation.Required),
		validation.Field(&t.Queue, validation.Required),
		validation.Field(&t.HardTimeLimit, validation.Required),
		validation.Field(&t.SoftTimeLimit,
			validation.When(t.SoftTimeLimit > 0, validation.Max(t.HardTimeLimit).Exclusive().Error("must be shorter than hard_time_limit")),
		),
		validation.Field(&t.Cadence, validation.When(t.Cadence != "", validation.By(func(any) error {
			_, err := scheduler.ParseSchedule(t.Cadence)
			return err
		}))),
	)
}

func (c Config) validateViews() error {
	seen := map[string]bool{}
	for _, d := range c.Views {
		if seen[d.Name] {
			return fmt.Errorf("views: duplicate view %q", d.Name)
		}
		seen[d.Name] = true
	}
	var errs []error
	for _, d := range c.ViewDefinitions() {
		if err := d.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("views: %s: %w", d.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (c Config) validateTasks() error {
	queues := map[string]bool{}
	for _, q := range c.Scheduler.Queues {
		if queues[q.Name] {
			return fmt.Errorf("scheduler: duplicate queue %q", q.Name)
		}
		queues[q.Name] = true
	}
	views := map[string]string{}
	for _, d := range c.ViewDefinitions() {
		views[d.Name] = d.Cadence
	}

	seen := map[string]bool{}
	var errs []error
	for _, t := range c.Scheduler.Tasks {
		if err := t.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: task %s: %w", t.Name, err))
			continue
		}
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("scheduler: duplicate task %q", t.Name))
		}
		seen[t.Name] = true
		if !queues[t.Queue] {
			errs = append(errs, fmt.Errorf("scheduler: task %s: unknown queue %q", t.Name, t.Queue))
		}
		cadence, ok := views[t.ViewName()]
		if !ok {
			errs = append(errs, fmt.Errorf("scheduler: task %s: unknown view %q", t.Name, t.ViewName()))
			continue
		}
		if t.Cadence == "" && cadence == "" {
			errs = append(errs, fmt.Errorf("scheduler: task %s: no cadence on the task or view %q", t.Name, t.ViewName()))
		}
	}
	return errors.Join(errs...)
}

// validateConcurrency bounds the goroutines a fully loaded process can run:
// every lane worker may drive a batch run using the larger of the IO and
// CPU pools.
func (c Config) validateConcurrency() error {
	workers := laneWorkers(c.Scheduler.Queues)
	pool := batch.NewExecutor(c.BatchConfig()).MaxConcurrency()
	total := workers * pool
	if total > c.Scheduler.MaxConcurrency {
		return fmt.Errorf("scheduler: %d lane workers x %d batch workers = %d exceeds max_concurrency %d",
			workers, pool, total, c.Scheduler.MaxConcurrency)
	}
	return nil
}
