// Package profiler inspects query plans and warns about scans that do not
// use an index. It is advisory: it never changes or blocks the queries it
// looks at, and a failed inspection yields a nil summary.
package profiler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// Stage is one node of a query plan.
type Stage struct {
	ID     int
	Parent int
	Detail string
	Leaf   bool
}

// PlanSummary describes the plan the store picked for a query.
type PlanSummary struct {
	Dialect string
	Query   string
	Stages  []Stage
	// IndexScan reports whether every leaf access stage uses an index.
	IndexScan bool
	// Scans lists the leaf stages that read a table without an index.
	Scans []string
}

// Profiler runs plan explanations against a database.
type Profiler struct {
	db      *bun.DB
	enabled bool
	logger  logrus.FieldLogger
}

// Option configures a Profiler.
type Option func(*Profiler)

// WithLogger sets the logger warnings are written to.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(p *Profiler) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithEnabled turns profiling on or off. A disabled profiler never touches
// the database.
func WithEnabled(enabled bool) Option {
	return func(p *Profiler) {
		p.enabled = enabled
	}
}

// New returns an enabled Profiler for db.
func New(db *bun.DB, opts ...Option) *Profiler {
	p := &Profiler{
		db:      db,
		enabled: true,
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithField("component", "profiler")
	return p
}

// Enabled reports whether Analyze inspects queries.
func (p *Profiler) Enabled() bool {
	return p != nil && p.enabled && p.db != nil
}

// AnalyzeSelect explains a bun select query.
func (p *Profiler) AnalyzeSelect(ctx context.Context, q *bun.SelectQuery) *PlanSummary {
	if !p.Enabled() || q == nil {
		return nil
	}
	return p.Analyze(ctx, q.String())
}

// Analyze explains query and logs a warning for every index-less scan.
// It returns nil when profiling is disabled or the plan cannot be read.
func (p *Profiler) Analyze(ctx context.Context, query string, args ...any) *PlanSummary {
	if !p.Enabled() {
		return nil
	}

	var (
		summary *PlanSummary
		err     error
	)
	name := p.db.Dialect().Name()
	switch name {
	case dialect.SQLite:
		summary, err = p.explainSQLite(ctx, query, args...)
	case dialect.PG:
		summary, err = p.explainPostgres(ctx, query, args...)
	default:
		err = fmt.Errorf("explain not supported for dialect %s", name)
	}
	if err != nil {
		p.logger.WithError(err).WithField("query", query).Warn("query plan unavailable")
		return nil
	}

	summary.Dialect = name.String()
	summary.Query = query
	summary.IndexScan = len(summary.Scans) == 0
	for _, scan := range summary.Scans {
		p.logger.WithFields(logrus.Fields{
			"query": query,
			"stage": scan,
		}).Warn("query scans without an index")
	}
	return summary
}

func (p *Profiler) explainSQLite(ctx context.Context, query string, args ...any) (*PlanSummary, error) {
	rows, err := p.db.QueryContext(ctx, "EXPLAIN QUERY PLAN "+query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summary := &PlanSummary{}
	parents := map[int]bool{}
	for rows.Next() {
		var (
			stage   Stage
			notused int
		)
		if err := rows.Scan(&stage.ID, &stage.Parent, &notused, &stage.Detail); err != nil {
			return nil, err
		}
		parents[stage.Parent] = true
		summary.Stages = append(summary.Stages, stage)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range summary.Stages {
		stage := &summary.Stages[i]
		stage.Leaf = !parents[stage.ID]
		if stage.Leaf && sqliteTableScan(stage.Detail) {
			summary.Scans = append(summary.Scans, stage.Detail)
		}
	}
	return summary, nil
}

// sqliteTableScan matches "SCAN reviews" and the older "SCAN TABLE reviews",
// but not scans that walk an index or a constant row.
func sqliteTableScan(detail string) bool {
	if !strings.HasPrefix(detail, "SCAN ") {
		return false
	}
	if strings.Contains(detail, " INDEX") || strings.Contains(detail, "CONSTANT ROW") {
		return false
	}
	return true
}

type pgPlanNode struct {
	NodeType     string       `json:"Node Type"`
	RelationName string       `json:"Relation Name"`
	IndexName    string       `json:"Index Name"`
	Plans        []pgPlanNode `json:"Plans"`
}

func (p *Profiler) explainPostgres(ctx context.Context, query string, args ...any) (*PlanSummary, error) {
	var raw string
	if err := p.db.QueryRowContext(ctx, "EXPLAIN (FORMAT JSON) "+query, args...).Scan(&raw); err != nil {
		return nil, err
	}
	return parsePostgresPlan(raw)
}

func parsePostgresPlan(raw string) (*PlanSummary, error) {
	var plans []struct {
		Plan pgPlanNode `json:"Plan"`
	}
	if err := json.Unmarshal([]byte(raw), &plans); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if len(plans) == 0 {
		return nil, fmt.Errorf("empty plan")
	}

	summary := &PlanSummary{}
	var walk func(node pgPlanNode, parent int)
	walk = func(node pgPlanNode, parent int) {
		stage := Stage{
			ID:     len(summary.Stages) + 1,
			Parent: parent,
			Detail: pgDetail(node),
			Leaf:   len(node.Plans) == 0,
		}
		summary.Stages = append(summary.Stages, stage)
		if stage.Leaf && node.NodeType == "Seq Scan" {
			summary.Scans = append(summary.Scans, stage.Detail)
		}
		for _, child := range node.Plans {
			walk(child, stage.ID)
		}
	}
	walk(plans[0].Plan, 0)
	return summary, nil
}

func pgDetail(node pgPlanNode) string {
	detail := node.NodeType
	if node.RelationName != "" {
		detail += " on " + node.RelationName
	}
	if node.IndexName != "" {
		detail += " using " + node.IndexName
	}
	return detail
}
