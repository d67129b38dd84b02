package stats

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-analytics-cache/cache"
	"github.com/goliatone/go-analytics-cache/pkg/testsupport"
	"github.com/goliatone/go-analytics-cache/store"
	"github.com/goliatone/go-analytics-cache/view"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

type fixture struct {
	db      *bun.DB
	cache   *cache.ResultCache
	builder *view.Builder
	catalog *store.Catalog
	svc     *Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	db := testsupport.SeededDB(t)

	rc, err := cache.New(cache.DefaultConfig(), cache.WithLogger(quietLogger()))
	require.NoError(t, err)

	catalog := store.NewCatalog(db)
	reader := view.NewReader(db, view.WithLogger(quietLogger()))
	builder := view.NewBuilder(db, view.WithLogger(quietLogger()))

	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	svc := NewService(rc, reader, catalog, opts...)
	svc.InvalidateOn(builder)

	return &fixture{db: db, cache: rc, builder: builder, catalog: catalog, svc: svc}
}

func (f *fixture) build(t *testing.T, name string) {
	t.Helper()
	def, ok := f.svc.View(name)
	require.True(t, ok)
	_, err := f.builder.Build(context.Background(), def)
	require.NoError(t, err)
}

func TestDefaultViews_Valid(t *testing.T) {
	defs := DefaultViews()
	require.Len(t, defs, 3)
	for _, d := range defs {
		assert.NoError(t, d.Validate(), d.Name)
		assert.NotEmpty(t, d.Cadence, d.Name)
	}
	assert.Equal(t, "product_id", DefaultViewMap()[RatingDistributionView].Aggregation.PartitionBy)
}

func TestGetStats_Live(t *testing.T) {
	f := newFixture(t)

	got, err := f.svc.GetStats(context.Background(), testsupport.AuroraID)
	require.NoError(t, err)

	assert.Equal(t, testsupport.AuroraID, got.ProductID)
	assert.EqualValues(t, 4, got.ReviewCount)
	assert.InDelta(t, 4.0, got.AvgRating, 1e-9)
	assert.InDelta(t, 0.475, got.AvgSentiment, 1e-9)
	assert.EqualValues(t, 2, got.MinRating)
	assert.EqualValues(t, 5, got.MaxRating)
}

func TestGetStats_SameShapeFromView(t *testing.T) {
	live := newFixture(t)
	want, err := live.svc.GetStats(context.Background(), testsupport.BorealisID)
	require.NoError(t, err)

	built := newFixture(t)
	built.build(t, ProductStatsView)
	got, err := built.svc.GetStats(context.Background(), testsupport.BorealisID)
	require.NoError(t, err)

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("view read differs from live read (-live +view):\n%s", diff)
	}
}

func TestGetStats_UnknownProduct(t *testing.T) {
	f := newFixture(t)
	f.build(t, ProductStatsView)

	got, err := f.svc.GetStats(context.Background(), "00000000-0000-4000-8000-000000000000")
	require.NoError(t, err)
	assert.Equal(t, ProductStats{ProductID: "00000000-0000-4000-8000-000000000000"}, got)
}

func TestGetStats_CachedUntilRebuild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before, err := f.svc.GetStats(ctx, testsupport.CirrusID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, before.ReviewCount)

	_, err = f.catalog.AddReviews(ctx, []*store.Review{
		{ProductID: uuid.MustParse(testsupport.CirrusID), Platform: "amazon", Rating: 1, Sentiment: -1, Body: "Broke in a day"},
	})
	require.NoError(t, err)

	cached, err := f.svc.GetStats(ctx, testsupport.CirrusID)
	require.NoError(t, err)
	assert.Equal(t, before, cached)
	assert.EqualValues(t, 1, f.cache.Stats().Hits)

	f.build(t, ProductStatsView)

	after, err := f.svc.GetStats(ctx, testsupport.CirrusID)
	require.NoError(t, err)
	assert.EqualValues(t, 4, after.ReviewCount)
	assert.InDelta(t, 3.25, after.AvgRating, 1e-9)
	assert.EqualValues(t, 1, after.MinRating)
}

func TestPlatformSummary(t *testing.T) {
	for _, built := range []bool{false, true} {
		f := newFixture(t)
		if built {
			f.build(t, PlatformRollupView)
		}

		rows, err := f.svc.PlatformSummary(context.Background())
		require.NoError(t, err)
		require.Len(t, rows, 2)

		assert.Equal(t, "amazon", rows[0].Platform)
		assert.EqualValues(t, 3, rows[0].Products)
		assert.EqualValues(t, 7, rows[0].ReviewCount)
		assert.InDelta(t, 24.0/7.0, rows[0].AvgRating, 1e-9)

		assert.Equal(t, "bestbuy", rows[1].Platform)
		assert.EqualValues(t, 2, rows[1].Products)
		assert.EqualValues(t, 3, rows[1].ReviewCount)
		assert.InDelta(t, 4.0, rows[1].AvgRating, 1e-9)
	}
}

func TestRatingDistribution(t *testing.T) {
	f := newFixture(t)
	f.build(t, RatingDistributionView)

	rows, err := f.svc.RatingDistribution(context.Background(), testsupport.AuroraID)
	require.NoError(t, err)

	want := []RatingBucket{
		{ProductID: testsupport.AuroraID, Rating: 2, ReviewCount: 1},
		{ProductID: testsupport.AuroraID, Rating: 4, ReviewCount: 1},
		{ProductID: testsupport.AuroraID, Rating: 5, ReviewCount: 2},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("distribution mismatch (-want +got):\n%s", diff)
	}
}

func TestKeywords_Default(t *testing.T) {
	f := newFixture(t)

	got, err := f.svc.Keywords(context.Background(), testsupport.AuroraID, 3)
	require.NoError(t, err)
	assert.Equal(t, []Keyword{
		{Term: "great", Count: 4},
		{Term: "sound", Count: 3},
		{Term: "battery", Count: 2},
	}, got)
}

func TestKeywords_CustomExtractorCached(t *testing.T) {
	var calls atomic.Int32
	extractor := KeywordExtractorFunc(func(ctx context.Context, texts []string, limit int) ([]Keyword, error) {
		calls.Add(1)
		return []Keyword{{Term: strings.ToUpper(texts[0][:4]), Count: len(texts)}}, nil
	})
	f := newFixture(t, WithKeywordExtractor(extractor))
	ctx := context.Background()

	first, err := f.svc.Keywords(ctx, testsupport.BorealisID, 5)
	require.NoError(t, err)
	second, err := f.svc.Keywords(ctx, testsupport.BorealisID, 5)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, 3, first[0].Count)

	_, err = f.svc.Keywords(ctx, testsupport.BorealisID, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load(), "limit is part of the cache key")
}

func TestKeywords_NoReviews(t *testing.T) {
	f := newFixture(t)

	got, err := f.svc.Keywords(context.Background(), "00000000-0000-4000-8000-000000000000", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestService_UnknownView(t *testing.T) {
	f := newFixture(t)
	delete(f.svc.views, PlatformRollupView)

	_, err := f.svc.PlatformSummary(context.Background())
	assert.ErrorContains(t, err, "not registered")
}

func TestFrequencyExtractor(t *testing.T) {
	cases := []struct {
		name  string
		texts []string
		limit int
		min   int
		want  []Keyword
	}{
		{
			name:  "stop words and short words dropped",
			texts: []string{"The fit is OK and the sound is fine"},
			want:  []Keyword{{Term: "fine", Count: 1}, {Term: "fit", Count: 1}, {Term: "sound", Count: 1}},
		},
		{
			name:  "ties break alphabetically",
			texts: []string{"zeta alpha", "alpha zeta beta"},
			limit: 2,
			want:  []Keyword{{Term: "alpha", Count: 2}, {Term: "zeta", Count: 2}},
		},
		{
			name:  "case and punctuation folded",
			texts: []string{"Bass! bass, BASS."},
			want:  []Keyword{{Term: "bass", Count: 3}},
		},
		{
			name:  "min length",
			texts: []string{"fit sound"},
			min:   4,
			want:  []Keyword{{Term: "sound", Count: 1}},
		},
		{
			name: "no texts",
			want: []Keyword{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FrequencyExtractor{MinLength: tc.min}.Extract(context.Background(), tc.texts, tc.limit)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFrequencyExtractor_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := FrequencyExtractor{}.Extract(ctx, []string{"text"}, 0)
	assert.ErrorIs(t, err, context.Canceled)
}
