package view

import (
	"github.com/uptrace/bun"
)

// LiveQuery returns def's aggregation over its source, as a Reader runs it
// when the target cannot answer.
func LiveQuery(db bun.IDB, def Definition, filters ...Filter) (*bun.SelectQuery, error) {
	if err := checkFilters(def, filters); err != nil {
		return nil, err
	}
	return aggregateQuery(db, def.Source, def.Aggregation, filters...), nil
}

// comparisons maps filter operators to their SQL form. Operators outside
// this table never reach a query.
var comparisons = map[string]string{
	"":   "? = ?",
	"=":  "? = ?",
	"!=": "? <> ?",
	"<":  "? < ?",
	"<=": "? <= ?",
	">":  "? > ?",
	">=": "? >= ?",
}

// aggregateQuery projects agg over source, group keys first.
func aggregateQuery(db bun.IDB, source string, agg Aggregation, extra ...Filter) *bun.SelectQuery {
	q := db.NewSelect().TableExpr("?", bun.Ident(source))
	for _, g := range agg.GroupBy {
		q = q.ColumnExpr("?", bun.Ident(g))
	}
	for _, m := range agg.Measures {
		q = appendMeasure(q, m)
	}
	q = applyFilters(q, agg.Filters)
	q = applyFilters(q, extra)
	for _, g := range agg.GroupBy {
		q = q.GroupExpr("?", bun.Ident(g))
	}
	q = applyOrder(q, agg.Ordering())
	if agg.Limit > 0 {
		q = q.Limit(agg.Limit)
	}
	return q
}

// targetQuery reads a built view with the same projection and ordering as
// aggregateQuery.
func targetQuery(db bun.IDB, target string, agg Aggregation, filters ...Filter) *bun.SelectQuery {
	q := db.NewSelect().TableExpr("?", bun.Ident(target))
	for _, c := range agg.Columns() {
		q = q.ColumnExpr("?", bun.Ident(c))
	}
	q = applyFilters(q, filters)
	return applyOrder(q, agg.Ordering())
}

func appendMeasure(q *bun.SelectQuery, m Measure) *bun.SelectQuery {
	name := bun.Ident(m.Name)
	switch m.Func {
	case Count:
		if m.Column == "" {
			return q.ColumnExpr("count(*) AS ?", name)
		}
		return q.ColumnExpr("count(?) AS ?", bun.Ident(m.Column), name)
	case CountDistinct:
		return q.ColumnExpr("count(DISTINCT ?) AS ?", bun.Ident(m.Column), name)
	default:
		return q.ColumnExpr(string(m.Func)+"(?) AS ?", bun.Ident(m.Column), name)
	}
}

func applyFilters(q *bun.SelectQuery, filters []Filter) *bun.SelectQuery {
	for _, f := range filters {
		if f.Op == "in" {
			q = q.Where("? IN (?)", bun.Ident(f.Column), bun.In(f.Value))
			continue
		}
		expr, ok := comparisons[f.Op]
		if !ok {
			// Unknown operators match nothing.
			q = q.Where("1 = 0")
			continue
		}
		q = q.Where(expr, bun.Ident(f.Column), f.Value)
	}
	return q
}

func applyOrder(q *bun.SelectQuery, order []Order) *bun.SelectQuery {
	for _, o := range order {
		if o.Desc {
			q = q.OrderExpr("? DESC", bun.Ident(o.Column))
		} else {
			q = q.OrderExpr("? ASC", bun.Ident(o.Column))
		}
	}
	return q
}
