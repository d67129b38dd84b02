package stats

import "github.com/goliatone/go-analytics-cache/view"

// View names.
const (
	ProductStatsView       = "product_stats"
	PlatformRollupView     = "platform_rollup"
	RatingDistributionView = "rating_distribution"
)

// DefaultViews returns the views behind the read contract: per product
// stats refreshed hourly, a platform rollup nightly at 03:00 and the rating
// distribution every Monday at 04:00.
func DefaultViews() []view.Definition {
	return []view.Definition{
		{
			Name:    ProductStatsView,
			Source:  "reviews",
			Target:  "mv_product_stats",
			Cadence: "0 * * * *",
			Aggregation: view.Aggregation{
				GroupBy: []string{"product_id"},
				Measures: []view.Measure{
					{Name: "review_count", Func: view.Count},
					{Name: "avg_rating", Func: view.Avg, Column: "rating"},
					{Name: "avg_sentiment", Func: view.Avg, Column: "sentiment"},
					{Name: "min_rating", Func: view.Min, Column: "rating"},
					{Name: "max_rating", Func: view.Max, Column: "rating"},
				},
			},
		},
		{
			Name:    PlatformRollupView,
			Source:  "reviews",
			Target:  "mv_platform_rollup",
			Cadence: "0 3 * * *",
			Aggregation: view.Aggregation{
				GroupBy: []string{"platform"},
				Measures: []view.Measure{
					{Name: "products", Func: view.CountDistinct, Column: "product_id"},
					{Name: "review_count", Func: view.Count},
					{Name: "avg_rating", Func: view.Avg, Column: "rating"},
					{Name: "avg_sentiment", Func: view.Avg, Column: "sentiment"},
				},
			},
		},
		{
			Name:    RatingDistributionView,
			Source:  "reviews",
			Target:  "mv_rating_distribution",
			Cadence: "0 4 * * 1",
			Aggregation: view.Aggregation{
				GroupBy: []string{"product_id", "rating"},
				Measures: []view.Measure{
					{Name: "review_count", Func: view.Count},
				},
				PartitionBy: "product_id",
			},
		},
	}
}

// DefaultViewMap indexes DefaultViews by name.
func DefaultViewMap() map[string]view.Definition {
	return indexViews(DefaultViews())
}

func indexViews(defs []view.Definition) map[string]view.Definition {
	m := make(map[string]view.Definition, len(defs))
	for _, d := range defs {
		m[d.Name] = d
	}
	return m
}
