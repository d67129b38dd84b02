// Package config loads the analyticsd configuration from a file, a .env file
// and ANALYTICS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/goliatone/go-analytics-cache/batch"
	"github.com/goliatone/go-analytics-cache/cache"
	"github.com/goliatone/go-analytics-cache/internal/valkeystore"
	"github.com/goliatone/go-analytics-cache/scheduler"
	"github.com/goliatone/go-analytics-cache/stats"
	"github.com/goliatone/go-analytics-cache/store"
	"github.com/goliatone/go-analytics-cache/view"
)

// EnvPrefix prefixes every environment override, e.g. ANALYTICS_CACHE_TTL.
const EnvPrefix = "ANALYTICS"

// Backends.
const (
	BackendMemory = "memory"
	BackendValkey = "valkey"
)

// Config is the full application configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log" json:"log"`
	Database  DatabaseConfig  `mapstructure:"database" json:"database"`
	Cache     CacheConfig     `mapstructure:"cache" json:"cache"`
	Valkey    ValkeyConfig    `mapstructure:"valkey" json:"valkey"`
	Batch     BatchConfig     `mapstructure:"batch" json:"batch"`
	Profiler  ProfilerConfig  `mapstructure:"profiler" json:"profiler"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" json:"scheduler"`
	// Views adds view definitions or replaces the defaults with the same name.
	Views []view.Definition `mapstructure:"views" json:"views"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver" json:"driver"`
	DSN          string `mapstructure:"dsn" json:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns" json:"max_open_conns"`
}

type CacheConfig struct {
	// Backend is memory or valkey.
	Backend   string           `mapstructure:"backend" json:"backend"`
	TTL       time.Duration    `mapstructure:"ttl" json:"ttl"`
	Namespace string           `mapstructure:"namespace" json:"namespace"`
	Local     LocalCacheConfig `mapstructure:"local" json:"local"`
}

// LocalCacheConfig holds the sturdyc settings of the memory backend.
type LocalCacheConfig struct {
	Capacity           int           `mapstructure:"capacity" json:"capacity"`
	NumShards          int           `mapstructure:"num_shards" json:"num_shards"`
	MaxTTL             time.Duration `mapstructure:"max_ttl" json:"max_ttl"`
	EvictionPercentage int           `mapstructure:"eviction_percentage" json:"eviction_percentage"`
	EvictionInterval   time.Duration `mapstructure:"eviction_interval" json:"eviction_interval"`
}

// ValkeyConfig is shared by the valkey cache backend, broker and fire guard.
type ValkeyConfig struct {
	Address        string        `mapstructure:"address" json:"address"`
	Password       string        `mapstructure:"password" json:"-"`
	DB             int           `mapstructure:"db" json:"db"`
	KeyPrefix      string        `mapstructure:"key_prefix" json:"key_prefix"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" json:"connect_timeout"`
}

type BatchConfig struct {
	MaxWorkers int `mapstructure:"max_workers" json:"max_workers"`
	CPUWorkers int `mapstructure:"cpu_workers" json:"cpu_workers"`
}

type ProfilerConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
}

type SchedulerConfig struct {
	Timezone string `mapstructure:"timezone" json:"timezone"`
	// Broker is memory or valkey.
	Broker string `mapstructure:"broker" json:"broker"`
	// SharedSchedule claims every fire in valkey so several processes can
	// run the same schedule.
	SharedSchedule bool          `mapstructure:"shared_schedule" json:"shared_schedule"`
	MaxConcurrency int           `mapstructure:"max_concurrency" json:"max_concurrency"`
	MaxDeliveries  int           `mapstructure:"max_deliveries" json:"max_deliveries"`
	Queues         []QueueConfig `mapstructure:"queues" json:"queues"`
	Tasks          []TaskConfig  `mapstructure:"tasks" json:"tasks"`
}

type QueueConfig struct {
	Name    string `mapstructure:"name" json:"name"`
	Workers int    `mapstructure:"workers" json:"workers"`
}

// TaskConfig schedules the build of one view.
type TaskConfig struct {
	Name string `mapstructure:"name" json:"name"`
	// View defaults to Name.
	View string `mapstructure:"view" json:"view"`
	// Cadence defaults to the view's cadence.
	Cadence       string        `mapstructure:"cadence" json:"cadence"`
	Queue         string        `mapstructure:"queue" json:"queue"`
	HardTimeLimit time.Duration `mapstructure:"hard_time_limit" json:"hard_time_limit"`
	SoftTimeLimit time.Duration `mapstructure:"soft_time_limit" json:"soft_time_limit"`
}

// ViewName returns View, or Name when View is empty.
func (t TaskConfig) ViewName() string {
	if t.View != "" {
		return t.View
	}
	return t.Name
}

// Default returns the built in configuration.
func Default() Config {
	local := cache.DefaultConfig().Local
	exec := batch.DefaultConfig()
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Database: DatabaseConfig{
			Driver:       store.DriverSQLite,
			DSN:          store.DefaultConfig().DSN,
			MaxOpenConns: store.DefaultConfig().MaxOpenConns,
		},
		Cache: CacheConfig{
			Backend:   BackendMemory,
			TTL:       cache.DefaultTTL,
			Namespace: "analytics",
			Local: LocalCacheConfig{
				Capacity:           local.Capacity,
				NumShards:          local.NumShards,
				MaxTTL:             local.MaxTTL,
				EvictionPercentage: local.EvictionPercentage,
				EvictionInterval:   local.EvictionInterval,
			},
		},
		Valkey: ValkeyConfig{
			Address:        "localhost:6379",
			KeyPrefix:      "analytics",
			ConnectTimeout: valkeystore.DefaultConnectTimeout,
		},
		Batch:    BatchConfig{MaxWorkers: exec.MaxWorkers, CPUWorkers: exec.CPUWorkers},
		Profiler: ProfilerConfig{Enabled: true},
		Scheduler: SchedulerConfig{
			Timezone:       "UTC",
			Broker:         BackendMemory,
			MaxConcurrency: defaultMaxConcurrency(exec),
			MaxDeliveries:  scheduler.DefaultConfig().MaxDeliveries,
			Queues:         DefaultQueues(),
			Tasks:          DefaultTasks(),
		},
	}
}

// defaultMaxConcurrency is 64, raised when the default lanes running the
// default pools need more.
func defaultMaxConcurrency(exec batch.Config) int {
	return max(64, laneWorkers(DefaultQueues())*batch.NewExecutor(exec).MaxConcurrency())
}

func laneWorkers(queues []QueueConfig) int {
	n := 0
	for _, q := range queues {
		n += q.Workers
	}
	return n
}

// DefaultQueues returns a heavy lane with one worker and a light lane with
// four.
func DefaultQueues() []QueueConfig {
	return []QueueConfig{
		{Name: "heavy", Workers: 1},
		{Name: "light", Workers: 4},
	}
}

// DefaultTasks schedules every default view: product stats on the light
// lane, the rollups on the heavy lane.
func DefaultTasks() []TaskConfig {
	return []TaskConfig{
		{Name: stats.ProductStatsView, Queue: "light", HardTimeLimit: 5 * time.Minute, SoftTimeLimit: 4 * time.Minute},
		{Name: stats.PlatformRollupView, Queue: "heavy", HardTimeLimit: 30 * time.Minute, SoftTimeLimit: 25 * time.Minute},
		{Name: stats.RatingDistributionView, Queue: "heavy", HardTimeLimit: 30 * time.Minute, SoftTimeLimit: 25 * time.Minute},
	}
}

// Load reads path (or ./analytics.{yaml,json,toml} when path is empty),
// applies ANALYTICS_* overrides and validates the result. envFiles are
// loaded into the environment first; without any, ./.env is tried.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := loadEnv(envFiles); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		v.SetConfigName("analytics")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config: read: %w", err)
			}
		}
	}

	cfg := Default()
	// Lists are replaced as a whole, never merged index by index.
	cfg.Scheduler.Queues = nil
	cfg.Scheduler.Tasks = nil
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if len(cfg.Scheduler.Queues) == 0 {
		cfg.Scheduler.Queues = DefaultQueues()
	}
	if len(cfg.Scheduler.Tasks) == 0 {
		cfg.Scheduler.Tasks = DefaultTasks()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadEnv(files []string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load .env: %w", err)
		}
		return nil
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("config: env file: %w", err)
		}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("config: load env files: %w", err)
	}
	return nil
}

// setDefaults registers every scalar key so AutomaticEnv can override it
// during Unmarshal.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)

	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.namespace", d.Cache.Namespace)
	v.SetDefault("cache.local.capacity", d.Cache.Local.Capacity)
	v.SetDefault("cache.local.num_shards", d.Cache.Local.NumShards)
	v.SetDefault("cache.local.max_ttl", d.Cache.Local.MaxTTL)
	v.SetDefault("cache.local.eviction_percentage", d.Cache.Local.EvictionPercentage)
	v.SetDefault("cache.local.eviction_interval", d.Cache.Local.EvictionInterval)

	v.SetDefault("valkey.address", d.Valkey.Address)
	v.SetDefault("valkey.password", d.Valkey.Password)
	v.SetDefault("valkey.db", d.Valkey.DB)
	v.SetDefault("valkey.key_prefix", d.Valkey.KeyPrefix)
	v.SetDefault("valkey.connect_timeout", d.Valkey.ConnectTimeout)

	v.SetDefault("batch.max_workers", d.Batch.MaxWorkers)
	v.SetDefault("batch.cpu_workers", d.Batch.CPUWorkers)

	v.SetDefault("profiler.enabled", d.Profiler.Enabled)

	v.SetDefault("scheduler.timezone", d.Scheduler.Timezone)
	v.SetDefault("scheduler.broker", d.Scheduler.Broker)
	v.SetDefault("scheduler.shared_schedule", d.Scheduler.SharedSchedule)
	v.SetDefault("scheduler.max_concurrency", d.Scheduler.MaxConcurrency)
	v.SetDefault("scheduler.max_deliveries", d.Scheduler.MaxDeliveries)
}

// StoreConfig returns the database settings.
func (c Config) StoreConfig() store.Config {
	return store.Config{
		Driver:       c.Database.Driver,
		DSN:          c.Database.DSN,
		MaxOpenConns: c.Database.MaxOpenConns,
	}
}

// CacheConfig returns the result cache settings.
func (c Config) CacheConfig() cache.Config {
	return cache.Config{
		TTL:       c.Cache.TTL,
		Namespace: c.Cache.Namespace,
		Local: cache.LocalConfig{
			Capacity:           c.Cache.Local.Capacity,
			NumShards:          c.Cache.Local.NumShards,
			MaxTTL:             c.Cache.Local.MaxTTL,
			EvictionPercentage: c.Cache.Local.EvictionPercentage,
			EvictionInterval:   c.Cache.Local.EvictionInterval,
		},
	}
}

// ValkeyStoreConfig returns the valkey connection settings.
func (c Config) ValkeyStoreConfig() valkeystore.Config {
	return valkeystore.Config{
		Address:        c.Valkey.Address,
		Password:       c.Valkey.Password,
		DB:             c.Valkey.DB,
		KeyPrefix:      c.Valkey.KeyPrefix,
		ConnectTimeout: c.Valkey.ConnectTimeout,
	}
}

// UsesValkey reports whether any component needs a valkey connection.
func (c Config) UsesValkey() bool {
	return c.Cache.Backend == BackendValkey || c.Scheduler.Broker == BackendValkey || c.Scheduler.SharedSchedule
}

// BatchConfig returns the executor pool limits.
func (c Config) BatchConfig() batch.Config {
	return batch.Config{MaxWorkers: c.Batch.MaxWorkers, CPUWorkers: c.Batch.CPUWorkers}
}

// SchedulerConfig returns the scheduler lanes and timezone.
func (c Config) SchedulerConfig() (scheduler.Config, error) {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return scheduler.Config{}, fmt.Errorf("config: scheduler timezone: %w", err)
	}
	queues := make(map[string]int, len(c.Scheduler.Queues))
	for _, q := range c.Scheduler.Queues {
		queues[q.Name] = q.Workers
	}
	return scheduler.Config{
		Location:      loc,
		Queues:        queues,
		MaxDeliveries: c.Scheduler.MaxDeliveries,
	}, nil
}

// ViewDefinitions returns the default views with Views applied on top, in a
// stable order: defaults first, then added views.
func (c Config) ViewDefinitions() []view.Definition {
	defs := stats.DefaultViews()
	index := make(map[string]int, len(defs))
	for i, d := range defs {
		index[d.Name] = i
	}
	for _, d := range c.Views {
		if i, ok := index[d.Name]; ok {
			defs[i] = d
			continue
		}
		index[d.Name] = len(defs)
		defs = append(defs, d)
	}
	return defs
}
