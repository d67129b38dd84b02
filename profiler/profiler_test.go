package profiler

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-analytics-cache/pkg/testsupport"
)

func warnings(hook *logtest.Hook) []*logrus.Entry {
	var out []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			out = append(out, e)
		}
	}
	return out
}

func TestAnalyze_SQLite(t *testing.T) {
	db := testsupport.SeededDB(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		query     string
		args      []any
		indexScan bool
	}{
		{
			name:      "indexed lookup",
			query:     "SELECT rating FROM reviews WHERE product_id = ?",
			args:      []any{testsupport.AuroraID},
			indexScan: true,
		},
		{
			name:      "full table scan",
			query:     "SELECT rating FROM reviews WHERE body = ?",
			args:      []any{"great"},
			indexScan: false,
		},
		{
			name:      "primary key lookup",
			query:     "SELECT name FROM products WHERE id = ?",
			args:      []any{testsupport.CirrusID},
			indexScan: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, hook := logtest.NewNullLogger()
			p := New(db, WithLogger(logger))

			summary := p.Analyze(ctx, tt.query, tt.args...)
			require.NotNil(t, summary)
			assert.Equal(t, "sqlite", summary.Dialect)
			assert.NotEmpty(t, summary.Stages)
			assert.Equal(t, tt.indexScan, summary.IndexScan)

			if tt.indexScan {
				assert.Empty(t, summary.Scans)
				assert.Empty(t, warnings(hook))
			} else {
				require.NotEmpty(t, summary.Scans)
				assert.Contains(t, summary.Scans[0], "reviews")
				require.Len(t, warnings(hook), len(summary.Scans))
				assert.Equal(t, tt.query, warnings(hook)[0].Data["query"])
			}
		})
	}
}

func TestAnalyzeSelect(t *testing.T) {
	db := testsupport.SeededDB(t)
	logger, hook := logtest.NewNullLogger()
	p := New(db, WithLogger(logger))

	q := db.NewSelect().Table("reviews").Column("platform").Where("sentiment > ?", 0.5)
	summary := p.AnalyzeSelect(context.Background(), q)
	require.NotNil(t, summary)
	assert.False(t, summary.IndexScan)
	assert.NotEmpty(t, warnings(hook))
}

func TestAnalyze_FailureReturnsNil(t *testing.T) {
	db := testsupport.OpenTestDB(t)
	logger, hook := logtest.NewNullLogger()
	p := New(db, WithLogger(logger))

	summary := p.Analyze(context.Background(), "SELECT * FROM missing_table")
	assert.Nil(t, summary)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "query plan unavailable", hook.LastEntry().Message)
}

func TestAnalyze_Disabled(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	p := New(nil, WithLogger(logger))
	assert.Nil(t, p.Analyze(context.Background(), "SELECT 1"))

	p = New(testsupport.OpenTestDB(t), WithLogger(logger), WithEnabled(false))
	assert.False(t, p.Enabled())
	assert.Nil(t, p.Analyze(context.Background(), "SELECT * FROM reviews"))
	assert.Empty(t, hook.AllEntries())

	var nilProfiler *Profiler
	assert.Nil(t, nilProfiler.Analyze(context.Background(), "SELECT 1"))
}

func TestParsePostgresPlan(t *testing.T) {
	raw := `[{"Plan": {"Node Type": "Hash Join", "Plans": [
		{"Node Type": "Seq Scan", "Relation Name": "reviews"},
		{"Node Type": "Hash", "Plans": [
			{"Node Type": "Index Scan", "Relation Name": "products", "Index Name": "products_pkey"}
		]}
	]}}]`

	summary, err := parsePostgresPlan(raw)
	require.NoError(t, err)
	require.Len(t, summary.Stages, 4)
	assert.Equal(t, []string{"Seq Scan on reviews"}, summary.Scans)
	assert.Equal(t, "Index Scan on products using products_pkey", summary.Stages[3].Detail)
	assert.True(t, summary.Stages[3].Leaf)
	assert.Equal(t, 3, summary.Stages[3].Parent)

	_, err = parsePostgresPlan(`[]`)
	assert.Error(t, err)
}

func TestSQLiteTableScan(t *testing.T) {
	cases := []struct {
		detail string
		want   bool
	}{
		{"SCAN reviews", true},
		{"SCAN TABLE reviews", true},
		{"SCAN reviews USING INDEX reviews_platform_idx", false},
		{"SCAN r USING COVERING INDEX reviews_product_id_idx", false},
		{"SEARCH reviews USING INDEX reviews_product_id_idx (product_id=?)", false},
		{"SCAN CONSTANT ROW", false},
		{"USE TEMP B-TREE FOR GROUP BY", false},
	}
	for _, tc := range cases {
		if got := sqliteTableScan(tc.detail); got != tc.want {
			t.Errorf("sqliteTableScan(%q) = %v, want %v", tc.detail, got, tc.want)
		}
	}
}
