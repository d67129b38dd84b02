package view

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var (
	// ErrInvalidIdentifier is returned for table or column names that are not
	// plain identifiers.
	ErrInvalidIdentifier = errors.New("view: invalid identifier")
	// ErrWindDown is returned when a build is asked to stop before its swap.
	ErrWindDown = errors.New("view: build asked to wind down")
)

// DefaultChunkSize is the number of partition values per chunk in
// partitioned builds.
const DefaultChunkSize = 50

// MeasureFunc is an aggregate function.
type MeasureFunc string

const (
	Count         MeasureFunc = "count"
	CountDistinct MeasureFunc = "count_distinct"
	Sum           MeasureFunc = "sum"
	Avg           MeasureFunc = "avg"
	Min           MeasureFunc = "min"
	Max           MeasureFunc = "max"
)

// Measure is one aggregated output column. Count without a Column counts rows.
type Measure struct {
	Name   string      `json:"name" mapstructure:"name"`
	Func   MeasureFunc `json:"func" mapstructure:"func"`
	Column string      `json:"column,omitempty" mapstructure:"column"`
}

func (m Measure) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Name, validation.Required, validation.By(identRule)),
		validation.Field(&m.Func, validation.Required, validation.In(Count, CountDistinct, Sum, Avg, Min, Max)),
		validation.Field(&m.Column,
			validation.When(m.Func != Count, validation.Required),
			validation.When(m.Column != "", validation.By(identRule)),
		),
	)
}

// Filter restricts the rows an aggregation reads.
type Filter struct {
	Column string `json:"column" mapstructure:"column"`
	// Op is one of = != < <= > >= in. Empty means =.
	Op    string `json:"op,omitempty" mapstructure:"op"`
	Value any    `json:"value" mapstructure:"value"`
}

var filterOps = []any{"", "=", "!=", "<", "<=", ">", ">=", "in"}

func (f Filter) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Column, validation.Required, validation.By(identRule)),
		validation.Field(&f.Op, validation.In(filterOps...)),
	)
}

// Eq is shorthand for an equality Filter.
func Eq(column string, value any) Filter {
	return Filter{Column: column, Op: "=", Value: value}
}

// Order is one ORDER BY term.
type Order struct {
	Column string `json:"column" mapstructure:"column"`
	Desc   bool   `json:"desc,omitempty" mapstructure:"desc"`
}

func (o Order) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.Column, validation.Required, validation.By(identRule)),
	)
}

// Aggregation describes the grouping and projection a view materializes.
type Aggregation struct {
	GroupBy  []string  `json:"group_by" mapstructure:"group_by"`
	Measures []Measure `json:"measures" mapstructure:"measures"`
	Filters  []Filter  `json:"filters,omitempty" mapstructure:"filters"`
	// OrderBy defaults to the group keys.
	OrderBy []Order `json:"order_by,omitempty" mapstructure:"order_by"`
	Limit   int     `json:"limit,omitempty" mapstructure:"limit"`
	// PartitionBy, when set, must be one of GroupBy. The build then
	// aggregates chunks of partition values concurrently.
	PartitionBy string `json:"partition_by,omitempty" mapstructure:"partition_by"`
	ChunkSize   int    `json:"chunk_size,omitempty" mapstructure:"chunk_size"`
}

func (a Aggregation) Validate() error {
	groupKeys := make([]any, len(a.GroupBy))
	for i, g := range a.GroupBy {
		groupKeys[i] = g
	}

	err := validation.ValidateStruct(&a,
		validation.Field(&a.GroupBy, validation.Each(validation.By(identRule))),
		validation.Field(&a.Measures, validation.Required),
		validation.Field(&a.Filters),
		validation.Field(&a.OrderBy),
		validation.Field(&a.Limit, validation.Min(0)),
		validation.Field(&a.ChunkSize, validation.Min(0)),
		validation.Field(&a.PartitionBy,
			validation.When(a.PartitionBy != "", validation.In(groupKeys...).Error("must be one of group_by")),
			validation.When(a.PartitionBy != "" && a.Limit > 0, validation.Empty.Error("cannot be combined with limit")),
		),
	)
	if err != nil {
		return err
	}

	seen := map[string]bool{}
	for _, c := range a.Columns() {
		if seen[c] {
			return fmt.Errorf("view: duplicate output column %q", c)
		}
		seen[c] = true
	}
	return nil
}

// Columns returns the output columns: group keys first, then measures.
func (a Aggregation) Columns() []string {
	cols := make([]string, 0, len(a.GroupBy)+len(a.Measures))
	cols = append(cols, a.GroupBy...)
	for _, m := range a.Measures {
		cols = append(cols, m.Name)
	}
	return cols
}

// Ordering returns OrderBy, or the group keys in ascending order.
func (a Aggregation) Ordering() []Order {
	if len(a.OrderBy) > 0 {
		return a.OrderBy
	}
	order := make([]Order, len(a.GroupBy))
	for i, g := range a.GroupBy {
		order[i] = Order{Column: g}
	}
	return order
}

func (a Aggregation) chunkSize() int {
	if a.ChunkSize > 0 {
		return a.ChunkSize
	}
	return DefaultChunkSize
}

// Definition is a materialized view: an aggregation over Source whose
// result fully replaces Target on every successful build.
type Definition struct {
	Name        string      `json:"name" mapstructure:"name"`
	Source      string      `json:"source" mapstructure:"source"`
	Target      string      `json:"target,omitempty" mapstructure:"target"`
	Aggregation Aggregation `json:"aggregation" mapstructure:"aggregation"`
	// Cadence is a five field cron expression; the scheduler owns its
	// evaluation.
	Cadence string `json:"cadence,omitempty" mapstructure:"cadence"`
}

// Validate checks names and the aggregation.
func (d Definition) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Name, validation.Required, validation.By(func(any) error {
			if d.Target == "" && !validIdent(d.TargetName()) {
				return errors.New("cannot derive a target table name")
			}
			return nil
		})),
		validation.Field(&d.Source, validation.Required, validation.By(identRule)),
		validation.Field(&d.Target, validation.When(d.Target != "", validation.By(identRule))),
		validation.Field(&d.Aggregation),
	)
}

// TargetName returns Target, or a snake_case form of Name.
func (d Definition) TargetName() string {
	if d.Target != "" {
		return d.Target
	}
	return toSnake(d.Name)
}

func identRule(value any) error {
	s, _ := value.(string)
	if !validIdent(s) {
		return errors.New("must be a plain identifier")
	}
	return nil
}
