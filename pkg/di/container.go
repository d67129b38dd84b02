package di

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-analytics-cache/batch"
	"github.com/goliatone/go-analytics-cache/cache"
	"github.com/goliatone/go-analytics-cache/internal/config"
	"github.com/goliatone/go-analytics-cache/internal/valkeystore"
	"github.com/goliatone/go-analytics-cache/profiler"
	"github.com/goliatone/go-analytics-cache/repositorycache"
	"github.com/goliatone/go-analytics-cache/scheduler"
	"github.com/goliatone/go-analytics-cache/stats"
	"github.com/goliatone/go-analytics-cache/store"
	"github.com/goliatone/go-analytics-cache/view"
)

// Container wires every component from one configuration and owns the
// connections it opened.
type Container struct {
	config config.Config
	logger logrus.FieldLogger

	db         *bun.DB
	ownsDB     bool
	valkey     *valkeystore.Client
	ownsValkey bool

	cache     *cache.ResultCache
	executor  *batch.Executor
	profiler  *profiler.Profiler
	builder   *view.Builder
	reader    *view.Reader
	catalog   *store.Catalog
	products  *repositorycache.CachedRepository[*store.Product]
	stats     *stats.Service
	broker    scheduler.Broker
	scheduler *scheduler.Scheduler

	views map[string]view.Definition
	order []string
}

// Option configures a Container.
type Option func(*containerOptions)

type containerOptions struct {
	logger logrus.FieldLogger
	db     *bun.DB
	valkey *valkeystore.Client
	clock  scheduler.Clock
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *containerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithDB uses db instead of opening the configured database. The container
// does not close it.
func WithDB(db *bun.DB) Option {
	return func(o *containerOptions) {
		o.db = db
	}
}

// WithValkeyClient uses client instead of dialing the configured address.
// The container does not close it.
func WithValkeyClient(client *valkeystore.Client) Option {
	return func(o *containerOptions) {
		o.valkey = client
	}
}

// WithClock sets the scheduler clock.
func WithClock(clock scheduler.Clock) Option {
	return func(o *containerOptions) {
		o.clock = clock
	}
}

// NewContainer builds every component described by cfg. On error, whatever
// was already opened is closed again.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := containerOptions{logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Container{config: cfg, logger: o.logger, db: o.db, valkey: o.valkey}
	ready := false
	defer func() {
		if !ready {
			_ = c.Close()
		}
	}()

	var err error
	if c.db == nil {
		if c.db, err = store.Open(ctx, cfg.StoreConfig()); err != nil {
			return nil, err
		}
		c.ownsDB = true
	}

	if c.valkey == nil && cfg.UsesValkey() {
		if c.valkey, err = valkeystore.NewClient(cfg.ValkeyStoreConfig()); err != nil {
			return nil, err
		}
		c.ownsValkey = true
	}

	if c.cache, err = c.newResultCache(); err != nil {
		return nil, err
	}

	c.executor = batch.NewExecutor(cfg.BatchConfig())
	c.profiler = profiler.New(c.db,
		profiler.WithEnabled(cfg.Profiler.Enabled),
		profiler.WithLogger(c.logger),
	)

	viewOpts := []view.Option{
		view.WithExecutor(c.executor),
		view.WithProfiler(c.profiler),
		view.WithWindDownSignal(scheduler.SoftDeadline),
		view.WithLogger(c.logger),
	}
	c.builder = view.NewBuilder(c.db, viewOpts...)
	c.reader = view.NewReader(c.db, viewOpts...)
	c.products = repositorycache.New(store.NewProductRepository(c.db), c.cache, "products", 0,
		repositorycache.WithLogger(c.logger),
	)
	c.catalog = store.NewCatalogWithRepositories(c.products, store.NewReviewRepository(c.db))

	defs := cfg.ViewDefinitions()
	c.views = make(map[string]view.Definition, len(defs))
	for _, d := range defs {
		c.views[d.Name] = d
		c.order = append(c.order, d.Name)
	}

	c.stats = stats.NewService(c.cache, c.reader, c.catalog,
		stats.WithViews(defs...),
		stats.WithLogger(c.logger),
	)
	c.stats.InvalidateOn(c.builder)

	if c.scheduler, err = c.newScheduler(o.clock); err != nil {
		return nil, err
	}
	ready = true
	return c, nil
}

func (c *Container) newResultCache() (*cache.ResultCache, error) {
	cfg := c.config.CacheConfig()
	if c.config.Cache.Backend == config.BackendValkey {
		return cache.NewWithStore(cfg, valkeystore.NewStore(c.valkey), cache.WithLogger(c.logger)), nil
	}
	return cache.New(cfg, cache.WithLogger(c.logger))
}

func (c *Container) newScheduler(clock scheduler.Clock) (*scheduler.Scheduler, error) {
	schedCfg, err := c.config.SchedulerConfig()
	if err != nil {
		return nil, err
	}
	tasks, err := BuildTasks(c.config.Scheduler.Tasks, c.views, c.builder)
	if err != nil {
		return nil, err
	}

	if c.config.Scheduler.Broker == config.BackendValkey {
		c.broker = valkeystore.NewBroker(c.valkey)
	} else {
		c.broker = scheduler.NewMemoryBroker()
	}

	opts := []scheduler.Option{
		scheduler.WithBroker(c.broker),
		scheduler.WithClock(clock),
		scheduler.WithLogger(c.logger),
	}
	if c.config.Scheduler.SharedSchedule {
		opts = append(opts, scheduler.WithFireGuard(valkeystore.NewFireGuard(c.valkey, 0)))
	}
	return scheduler.New(schedCfg, tasks, opts...)
}

// BuildTasks turns task settings into scheduler tasks that build their view.
// A task without a cadence uses its view's.
func BuildTasks(settings []config.TaskConfig, views map[string]view.Definition, builder *view.Builder) ([]scheduler.Task, error) {
	tasks := make([]scheduler.Task, 0, len(settings))
	for _, ts := range settings {
		def, ok := views[ts.ViewName()]
		if !ok {
			return nil, fmt.Errorf("task %s: unknown view %q", ts.Name, ts.ViewName())
		}
		cadence := ts.Cadence
		if cadence == "" {
			cadence = def.Cadence
		}
		schedule, err := scheduler.ParseSchedule(cadence)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", ts.Name, err)
		}

		tasks = append(tasks, scheduler.Task{
			Name:          ts.Name,
			Schedule:      schedule,
			Queue:         ts.Queue,
			HardTimeLimit: ts.HardTimeLimit,
			SoftTimeLimit: ts.SoftTimeLimit,
			Job: func(ctx context.Context) error {
				_, err := builder.Build(ctx, def)
				return err
			},
		})
	}
	return tasks, nil
}

// Migrate creates the source tables.
func (c *Container) Migrate(ctx context.Context) error {
	return store.Migrate(ctx, c.db)
}

// View returns the definition registered under name.
func (c *Container) View(name string) (view.Definition, bool) {
	d, ok := c.views[name]
	return d, ok
}

// Views returns every view definition, defaults first.
func (c *Container) Views() []view.Definition {
	out := make([]view.Definition, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.views[name])
	}
	return out
}

func (c *Container) Config() config.Config           { return c.config }
func (c *Container) Logger() logrus.FieldLogger      { return c.logger }
func (c *Container) DB() *bun.DB                     { return c.db }
func (c *Container) Cache() *cache.ResultCache       { return c.cache }
func (c *Container) Executor() *batch.Executor       { return c.executor }
func (c *Container) Profiler() *profiler.Profiler    { return c.profiler }
func (c *Container) Builder() *view.Builder          { return c.builder }
func (c *Container) Reader() *view.Reader            { return c.reader }
func (c *Container) Catalog() *store.Catalog         { return c.catalog }
func (c *Container) Stats() *stats.Service           { return c.stats }
func (c *Container) Broker() scheduler.Broker        { return c.broker }
func (c *Container) Scheduler() *scheduler.Scheduler { return c.scheduler }

// Products returns the cached product repository behind Catalog.
func (c *Container) Products() *repositorycache.CachedRepository[*store.Product] {
	return c.products
}

// Close stops the broker and closes the connections the container opened.
func (c *Container) Close() error {
	var errs []error
	if c.scheduler != nil {
		errs = append(errs, c.scheduler.Close())
	} else if c.broker != nil {
		errs = append(errs, c.broker.Close())
	}
	if c.ownsValkey && c.valkey != nil {
		c.valkey.Close()
	}
	if c.ownsDB && c.db != nil {
		errs = append(errs, c.db.Close())
	}
	return errors.Join(errs...)
}
