// Package stats serves the dashboard reads: cached first, then the
// materialized views, then a live aggregation over the reviews.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/goliatone/go-analytics-cache/cache"
	"github.com/goliatone/go-analytics-cache/store"
	"github.com/goliatone/go-analytics-cache/view"
)

// Cache identities of the read operations.
const (
	IdentityStats        = "stats.GetStats"
	IdentityPlatforms    = "stats.PlatformSummary"
	IdentityDistribution = "stats.RatingDistribution"
	IdentityKeywords     = "stats.Keywords"
)

// ProductStats is the per product summary. A product without reviews has
// ReviewCount 0 and zero averages.
type ProductStats struct {
	ProductID    string  `bun:"product_id" json:"product_id" msgpack:"product_id"`
	ReviewCount  int64   `bun:"review_count" json:"review_count" msgpack:"review_count"`
	AvgRating    float64 `bun:"avg_rating" json:"avg_rating" msgpack:"avg_rating"`
	AvgSentiment float64 `bun:"avg_sentiment" json:"avg_sentiment" msgpack:"avg_sentiment"`
	MinRating    int64   `bun:"min_rating" json:"min_rating" msgpack:"min_rating"`
	MaxRating    int64   `bun:"max_rating" json:"max_rating" msgpack:"max_rating"`
}

// PlatformStats is one row of the platform rollup.
type PlatformStats struct {
	Platform     string  `bun:"platform" json:"platform" msgpack:"platform"`
	Products     int64   `bun:"products" json:"products" msgpack:"products"`
	ReviewCount  int64   `bun:"review_count" json:"review_count" msgpack:"review_count"`
	AvgRating    float64 `bun:"avg_rating" json:"avg_rating" msgpack:"avg_rating"`
	AvgSentiment float64 `bun:"avg_sentiment" json:"avg_sentiment" msgpack:"avg_sentiment"`
}

// RatingBucket counts the reviews of one product with one rating.
type RatingBucket struct {
	ProductID   string `bun:"product_id" json:"product_id" msgpack:"product_id"`
	Rating      int64  `bun:"rating" json:"rating" msgpack:"rating"`
	ReviewCount int64  `bun:"review_count" json:"review_count" msgpack:"review_count"`
}

// Service answers stats reads.
type Service struct {
	cache     *cache.ResultCache
	reader    *view.Reader
	catalog   *store.Catalog
	extractor KeywordExtractor
	views     map[string]view.Definition
	ttl       time.Duration
	logger    logrus.FieldLogger
}

// Option configures a Service.
type Option func(*Service)

// WithViews replaces the default view definitions. Definitions are matched
// by name.
func WithViews(defs ...view.Definition) Option {
	return func(s *Service) {
		for _, d := range defs {
			s.views[d.Name] = d
		}
	}
}

// WithKeywordExtractor replaces the FrequencyExtractor.
func WithKeywordExtractor(e KeywordExtractor) Option {
	return func(s *Service) {
		if e != nil {
			s.extractor = e
		}
	}
}

// WithTTL sets how long reads stay cached. Zero uses the cache default.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.ttl = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService returns a Service. rc may be nil-store backed; reads then go
// straight to the views.
func NewService(rc *cache.ResultCache, reader *view.Reader, catalog *store.Catalog, opts ...Option) *Service {
	s := &Service{
		cache:     rc,
		reader:    reader,
		catalog:   catalog,
		extractor: FrequencyExtractor{},
		views:     DefaultViewMap(),
		logger:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithField("component", "stats")
	return s
}

// View returns the definition registered under name.
func (s *Service) View(name string) (view.Definition, bool) {
	d, ok := s.views[name]
	return d, ok
}

// GetStats returns the stats of one product.
func (s *Service) GetStats(ctx context.Context, productID string) (ProductStats, error) {
	return cache.GetOrCompute(ctx, s.cache, IdentityStats, s.ttl, func(ctx context.Context) (ProductStats, error) {
		var rows []ProductStats
		if err := s.query(ctx, ProductStatsView, &rows, view.Eq("product_id", productID)); err != nil {
			return ProductStats{}, err
		}
		if len(rows) == 0 {
			return ProductStats{ProductID: productID}, nil
		}
		return rows[0], nil
	}, productID)
}

// PlatformSummary returns one row per platform ordered by platform.
func (s *Service) PlatformSummary(ctx context.Context) ([]PlatformStats, error) {
	return cache.GetOrCompute(ctx, s.cache, IdentityPlatforms, s.ttl, func(ctx context.Context) ([]PlatformStats, error) {
		rows := []PlatformStats{}
		if err := s.query(ctx, PlatformRollupView, &rows); err != nil {
			return nil, err
		}
		return rows, nil
	})
}

// RatingDistribution returns the review count per rating of one product,
// lowest rating first.
func (s *Service) RatingDistribution(ctx context.Context, productID string) ([]RatingBucket, error) {
	return cache.GetOrCompute(ctx, s.cache, IdentityDistribution, s.ttl, func(ctx context.Context) ([]RatingBucket, error) {
		rows := []RatingBucket{}
		if err := s.query(ctx, RatingDistributionView, &rows, view.Eq("product_id", productID)); err != nil {
			return nil, err
		}
		return rows, nil
	}, productID)
}

// Keywords returns the top limit keywords of a product's reviews.
func (s *Service) Keywords(ctx context.Context, productID string, limit int) ([]Keyword, error) {
	return cache.GetOrCompute(ctx, s.cache, IdentityKeywords, s.ttl, func(ctx context.Context) ([]Keyword, error) {
		bodies, err := s.catalog.ReviewBodies(ctx, productID)
		if err != nil {
			return nil, fmt.Errorf("stats: keywords: %w", err)
		}
		keywords, err := s.extractor.Extract(ctx, bodies, limit)
		if err != nil {
			return nil, fmt.Errorf("stats: keywords: %w", err)
		}
		if keywords == nil {
			keywords = []Keyword{}
		}
		return keywords, nil
	}, productID, limit)
}

func (s *Service) query(ctx context.Context, name string, dest any, filters ...view.Filter) error {
	def, ok := s.views[name]
	if !ok {
		return fmt.Errorf("stats: view %q is not registered", name)
	}
	origin, err := s.reader.Query(ctx, def, dest, filters...)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"view": name, "origin": origin.String()}).Debug("stats read")
	return nil
}

// identities maps a view to the cached reads derived from it.
var identities = map[string]string{
	ProductStatsView:       IdentityStats,
	PlatformRollupView:     IdentityPlatforms,
	RatingDistributionView: IdentityDistribution,
}

// InvalidateOn drops the cached reads of a view every time builder swaps it
// in, so readers see the new rows before their entries expire.
func (s *Service) InvalidateOn(builder *view.Builder) {
	if s.cache == nil {
		return
	}
	builder.OnBuilt(func(ctx context.Context, res view.Result) {
		identity, ok := identities[res.View]
		if !ok {
			return
		}
		if err := s.cache.InvalidateIdentity(ctx, identity); err != nil {
			s.logger.WithError(err).WithField("view", res.View).Warn("could not invalidate cached reads")
		}
	})
}
