package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"agencydb/internal/query"
	"agencydb/internal/schema"
	"agencydb/internal/store"
)

// Aggregate computes the selected aggregates over the rows matching p.Where.
// Null values are skipped; a field with no non-null values is absent from the
// per-field result maps.
func (e *Engine) Aggregate(ctx context.Context, entity string, p query.AggregateParams) (*query.AggregateResult, error) {
	ent, err := schema.Get(entity)
	if err != nil {
		return nil, err
	}
	if err := query.ValidateAggregate(ent, p); err != nil {
		return nil, err
	}

	var result *query.AggregateResult
	err = e.read(ctx, func(tx store.Tx) error {
		rows, err := e.collect(tx, ent, p.Where)
		if err != nil {
			return err
		}
		result = aggregateRows(ent, rows, p.Min, p.Max, p.Avg, p.Sum)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GroupBy groups the matching rows by the by fields, computes the selected
// aggregates per group, filters the groups through having, and orders the
// result. The by-subset contract is validated before any row is read.
func (e *Engine) GroupBy(ctx context.Context, entity string, p query.GroupByParams) ([]store.Record, error) {
	ent, err := schema.Get(entity)
	if err != nil {
		return nil, err
	}
	if err := query.ValidateGroupBy(ent, p); err != nil {
		return nil, err
	}

	var out []store.Record
	err = e.read(ctx, func(tx store.Tx) error {
		rows, err := e.collect(tx, ent, p.Where)
		if err != nil {
			return err
		}

		groups := map[string][]store.Record{}
		var order []string
		for _, row := range rows {
			var key strings.Builder
			for _, f := range p.By {
				fmt.Fprintf(&key, "%v\x00", row[f])
			}
			k := key.String()
			if _, seen := groups[k]; !seen {
				order = append(order, k)
			}
			groups[k] = append(groups[k], row)
		}

		for _, k := range order {
			members := groups[k]
			group := store.Record{}
			for _, f := range p.By {
				group[f] = members[0][f]
			}
			agg := aggregateRows(ent, members, p.Min, p.Max, p.Avg, p.Sum)
			group["_count"] = agg.Count
			if len(p.Min) > 0 {
				group["_min"] = agg.Min
			}
			if len(p.Max) > 0 {
				group["_max"] = agg.Max
			}
			if len(p.Avg) > 0 {
				group["_avg"] = agg.Avg
			}
			if len(p.Sum) > 0 {
				group["_sum"] = agg.Sum
			}
			if query.MatchHaving(ent, group, p.Having) {
				out = append(out, group)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortGroups(ent, out, p.By, p.OrderBy)
	return sliceGroups(out, p.Take, p.Skip), nil
}

func aggregateRows(ent *schema.Entity, rows []store.Record, minF, maxF, avgF, sumF []string) *query.AggregateResult {
	result := &query.AggregateResult{Count: int64(len(rows))}

	if len(minF) > 0 {
		result.Min = extremes(ent, rows, minF, true)
	}
	if len(maxF) > 0 {
		result.Max = extremes(ent, rows, maxF, false)
	}
	if len(avgF) > 0 {
		result.Avg = map[string]float64{}
		for _, field := range avgF {
			if sum, n := numericSum(rows, field); n > 0 {
				result.Avg[field] = sum / float64(n)
			}
		}
	}
	if len(sumF) > 0 {
		result.Sum = map[string]float64{}
		for _, field := range sumF {
			if sum, n := numericSum(rows, field); n > 0 {
				result.Sum[field] = sum
			}
		}
	}
	return result
}

func extremes(ent *schema.Entity, rows []store.Record, fields []string, min bool) map[string]any {
	out := map[string]any{}
	for _, field := range fields {
		kind := ent.Field(field).Kind
		var best any
		for _, row := range rows {
			val := row[field]
			if val == nil {
				continue
			}
			if best == nil {
				best = val
				continue
			}
			cmp := query.Compare(kind, val, best)
			if (min && cmp < 0) || (!min && cmp > 0) {
				best = val
			}
		}
		if best != nil {
			out[field] = best
		}
	}
	return out
}

func numericSum(rows []store.Record, field string) (float64, int) {
	var sum float64
	var n int
	for _, row := range rows {
		if row[field] == nil {
			continue
		}
		if v, ok := query.Number(row[field]); ok {
			sum += v
			n++
		}
	}
	return sum, n
}

func sortGroups(ent *schema.Entity, groups []store.Record, by []string, orderBy []query.Order) {
	sort.SliceStable(groups, func(i, j int) bool {
		for _, o := range orderBy {
			kind := ent.Field(o.Field).Kind
			cmp := query.Compare(kind, groups[i][o.Field], groups[j][o.Field])
			if cmp != 0 {
				if o.Desc {
					return cmp > 0
				}
				return cmp < 0
			}
		}
		// Deterministic fallback: compare the full by-tuple.
		for _, f := range by {
			kind := ent.Field(f).Kind
			cmp := query.Compare(kind, groups[i][f], groups[j][f])
			if cmp != 0 {
				return cmp < 0
			}
		}
		return false
	})
}

func sliceGroups(groups []store.Record, take *int, skip int) []store.Record {
	if skip > 0 {
		if skip >= len(groups) {
			return nil
		}
		groups = groups[skip:]
	}
	if take != nil && *take >= 0 && *take < len(groups) {
		groups = groups[:*take]
	}
	return groups
}
