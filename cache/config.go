package cache

import (
	"time"

	"github.com/goliatone/go-analytics-cache/internal/cacheinfra"
)

// Config exposes cache configuration options for consumers of the cache package.
type Config struct {
	// TTL is the default entry lifetime for calls that do not pass one.
	TTL time.Duration
	// Namespace prefixes every key, letting several deployments share a backend.
	Namespace string
	// Local configures the in-process store.
	Local LocalConfig
}

// LocalConfig mirrors the sturdyc settings of the in-process store.
type LocalConfig struct {
	Capacity           int
	NumShards          int
	MaxTTL             time.Duration
	EvictionPercentage int
	EvictionInterval   time.Duration
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return Config{
		TTL:       DefaultTTL,
		Namespace: "analytics",
		Local:     convertFromInternal(cacheinfra.DefaultConfig()),
	}
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	if c.TTL <= 0 {
		return &cacheinfra.ConfigError{Field: "TTL", Message: "must be greater than 0"}
	}
	if err := c.Local.toInternal().Validate(); err != nil {
		return err
	}
	if c.Local.MaxTTL < c.TTL {
		return &cacheinfra.ConfigError{Field: "Local.MaxTTL", Message: "must not be shorter than TTL"}
	}
	return nil
}

// NewLocalStore constructs the in-process sturdyc store.
func NewLocalStore(cfg LocalConfig) (Store, error) {
	return cacheinfra.NewSturdycStore(cfg.toInternal())
}

// New builds a ResultCache over the in-process store described by cfg.
func New(cfg Config, opts ...Option) (*ResultCache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := NewLocalStore(cfg.Local)
	if err != nil {
		return nil, err
	}
	return NewWithStore(cfg, store, opts...), nil
}

// NewWithStore builds a ResultCache over store using the TTL and namespace of cfg.
func NewWithStore(cfg Config, store Store, opts ...Option) *ResultCache {
	base := []Option{
		WithTTL(cfg.TTL),
		WithKeySerializer(NewDefaultKeySerializer(cfg.Namespace)),
	}
	return NewResultCache(store, append(base, opts...)...)
}

func (c LocalConfig) toInternal() cacheinfra.Config {
	return cacheinfra.Config{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		TTL:                c.MaxTTL,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
	}
}

func convertFromInternal(cfg cacheinfra.Config) LocalConfig {
	return LocalConfig{
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		MaxTTL:             cfg.TTL,
		EvictionPercentage: cfg.EvictionPercentage,
		EvictionInterval:   cfg.EvictionInterval,
	}
}
