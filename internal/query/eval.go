package query

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"agencydb/internal/domain"
	"agencydb/internal/schema"
	"agencydb/internal/store"
)

// Resolver fetches the rows related to rec through rel. For to-one relations
// it returns zero or one row.
type Resolver func(rel *schema.Relation, rec store.Record) ([]store.Record, error)

// Match evaluates a predicate tree against one record. Unknown fields and
// relations are validation errors, not non-matches.
func Match(ent *schema.Entity, rec store.Record, w *Where, resolve Resolver) (bool, error) {
	if w == nil {
		return true, nil
	}

	for _, sub := range w.And {
		ok, err := Match(ent, rec, sub, resolve)
		if err != nil || !ok {
			return false, err
		}
	}

	if len(w.Or) > 0 {
		anyMatch := false
		for _, sub := range w.Or {
			ok, err := Match(ent, rec, sub, resolve)
			if err != nil {
				return false, err
			}
			if ok {
				anyMatch = true
				break
			}
		}
		if !anyMatch {
			return false, nil
		}
	}

	for _, sub := range w.Not {
		ok, err := Match(ent, rec, sub, resolve)
		if err != nil {
			return false, err
		}
		if ok {
			return false, nil
		}
	}

	for name, cond := range w.Fields {
		field := ent.Field(name)
		if field == nil {
			return false, &domain.ValidationError{Message: fmt.Sprintf("unknown field %q on %s", name, ent.Name)}
		}
		if !matchCond(field, rec[name], cond) {
			return false, nil
		}
	}

	for name, rc := range w.Relations {
		rel := ent.Relation(name)
		if rel == nil {
			return false, &domain.ValidationError{Message: fmt.Sprintf("unknown relation %q on %s", name, ent.Name)}
		}
		if resolve == nil {
			return false, &domain.ValidationError{Message: fmt.Sprintf("relation filter on %q is not supported here", name)}
		}
		ok, err := matchRelation(rel, rec, rc, resolve)
		if err != nil || !ok {
			return false, err
		}
	}

	return true, nil
}

func matchRelation(rel *schema.Relation, rec store.Record, rc *RelationCond, resolve Resolver) (bool, error) {
	target, err := schema.Get(rel.Target)
	if err != nil {
		return false, err
	}
	related, err := resolve(rel, rec)
	if err != nil {
		return false, err
	}

	if rc.IsNull != nil {
		if (len(related) == 0) != *rc.IsNull {
			return false, nil
		}
	}
	if rc.IsSet {
		if rc.Is == nil {
			if len(related) != 0 {
				return false, nil
			}
		} else {
			if len(related) == 0 {
				return false, nil
			}
			ok, err := Match(target, related[0], rc.Is, resolve)
			if err != nil || !ok {
				return false, err
			}
		}
	}
	if rc.Some != nil {
		anyMatch := false
		for _, r := range related {
			ok, err := Match(target, r, rc.Some, resolve)
			if err != nil {
				return false, err
			}
			if ok {
				anyMatch = true
				break
			}
		}
		if !anyMatch {
			return false, nil
		}
	}
	if rc.Every != nil {
		for _, r := range related {
			ok, err := Match(target, r, rc.Every, resolve)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
	}
	if rc.None != nil {
		for _, r := range related {
			ok, err := Match(target, r, rc.None, resolve)
			if err != nil {
				return false, err
			}
			if ok {
				return false, nil
			}
		}
	}
	return true, nil
}

func matchCond(field *schema.Field, val any, c *Cond) bool {
	insensitive := strings.EqualFold(c.Mode, "insensitive")

	if c.EqualsSet && !Equal(field.Kind, val, c.Equals, insensitive) {
		return false
	}
	if c.InSet && !containsValue(field.Kind, c.In, val, insensitive) {
		return false
	}
	if c.NotInSet && containsValue(field.Kind, c.NotIn, val, insensitive) {
		return false
	}

	if c.Lt != nil {
		if cmp, ok := compareNonNull(field.Kind, val, c.Lt); !ok || cmp >= 0 {
			return false
		}
	}
	if c.Lte != nil {
		if cmp, ok := compareNonNull(field.Kind, val, c.Lte); !ok || cmp > 0 {
			return false
		}
	}
	if c.Gt != nil {
		if cmp, ok := compareNonNull(field.Kind, val, c.Gt); !ok || cmp <= 0 {
			return false
		}
	}
	if c.Gte != nil {
		if cmp, ok := compareNonNull(field.Kind, val, c.Gte); !ok || cmp < 0 {
			return false
		}
	}

	if c.Contains != nil && !matchString(val, *c.Contains, insensitive, strings.Contains) {
		return false
	}
	if c.StartsWith != nil && !matchString(val, *c.StartsWith, insensitive, strings.HasPrefix) {
		return false
	}
	if c.EndsWith != nil && !matchString(val, *c.EndsWith, insensitive, strings.HasSuffix) {
		return false
	}

	if c.HasSet || c.HasEverySet || c.HasSomeSet || c.IsEmpty != nil {
		list := toList(val)
		if c.HasSet && !listHas(list, c.Has) {
			return false
		}
		if c.HasEverySet {
			for _, want := range c.HasEvery {
				if !listHas(list, want) {
					return false
				}
			}
		}
		if c.HasSomeSet {
			anyMatch := false
			for _, want := range c.HasSome {
				if listHas(list, want) {
					anyMatch = true
					break
				}
			}
			if !anyMatch {
				return false
			}
		}
		if c.IsEmpty != nil && (len(list) == 0) != *c.IsEmpty {
			return false
		}
	}

	if c.Not != nil && matchCond(field, val, c.Not) {
		return false
	}

	return true
}

func matchString(val any, operand string, insensitive bool, op func(string, string) bool) bool {
	s, ok := val.(string)
	if !ok {
		return false
	}
	if insensitive {
		return op(strings.ToLower(s), strings.ToLower(operand))
	}
	return op(s, operand)
}

func containsValue(kind schema.Kind, list []any, val any, insensitive bool) bool {
	for _, item := range list {
		if Equal(kind, val, item, insensitive) {
			return true
		}
	}
	return false
}

func listHas(list []any, want any) bool {
	for _, item := range list {
		if Equal(schema.KindString, item, want, false) {
			return true
		}
	}
	return false
}

// Equal compares two values under the field kind. Nulls equal only nulls.
func Equal(kind schema.Kind, a, b any, insensitive bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch kind {
	case schema.KindInt, schema.KindFloat:
		fa, aok := toFloat(a)
		fb, bok := toFloat(b)
		return aok && bok && fa == fb
	case schema.KindBool:
		ba, aok := a.(bool)
		bb, bok := b.(bool)
		return aok && bok && ba == bb
	case schema.KindTime:
		ta, aok := toTime(a)
		tb, bok := toTime(b)
		return aok && bok && ta.Equal(tb)
	case schema.KindStringList:
		la, lb := toList(a), toList(b)
		if len(la) != len(lb) {
			return false
		}
		for i := range la {
			if !Equal(schema.KindString, la[i], lb[i], insensitive) {
				return false
			}
		}
		return true
	default:
		sa, aok := toComparableString(a)
		sb, bok := toComparableString(b)
		if !aok || !bok {
			return false
		}
		if insensitive {
			return strings.EqualFold(sa, sb)
		}
		return sa == sb
	}
}

// compareNonNull orders two values under the field kind. The second result
// is false when either value is null or the pair is not comparable.
func compareNonNull(kind schema.Kind, a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	switch kind {
	case schema.KindInt, schema.KindFloat:
		fa, aok := toFloat(a)
		fb, bok := toFloat(b)
		if !aok || !bok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	case schema.KindBool:
		ba, aok := a.(bool)
		bb, bok := b.(bool)
		if !aok || !bok {
			return 0, false
		}
		switch {
		case !ba && bb:
			return -1, true
		case ba && !bb:
			return 1, true
		}
		return 0, true
	case schema.KindTime:
		ta, aok := toTime(a)
		tb, bok := toTime(b)
		if !aok || !bok {
			return 0, false
		}
		return ta.Compare(tb), true
	default:
		sa, aok := toComparableString(a)
		sb, bok := toComparableString(b)
		if !aok || !bok {
			return 0, false
		}
		return strings.Compare(sa, sb), true
	}
}

// Compare orders values for sorting: nulls sort first, then kind order.
func Compare(kind schema.Kind, a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if cmp, ok := compareNonNull(kind, a, b); ok {
		return cmp
	}
	// Mixed incomparable values: fall back to their string forms so sorting
	// stays deterministic.
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, true
		}
		if parsed, err := time.Parse("2006-01-02", t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func toComparableString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case fmt.Stringer:
		return s.String(), true
	}
	return "", false
}

// toList normalizes a stored list value. Nulls are empty lists.
func toList(v any) []any {
	switch list := v.(type) {
	case nil:
		return nil
	case []any:
		return list
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out
	}
	return nil
}

// Number reports v as float64 when it is numeric.
func Number(v any) (float64, bool) {
	return toFloat(v)
}

// Time reports v as a time.Time when it parses as one.
func Time(v any) (time.Time, bool) {
	return toTime(v)
}

// MatchHaving evaluates a having filter against one grouped row. Grouped rows
// hold the by-field values at the top level, the group size under "_count",
// and per-field aggregates under "_min", "_max", "_avg", "_sum".
func MatchHaving(ent *schema.Entity, group store.Record, h *Having) bool {
	if h == nil {
		return true
	}
	for field, cond := range h.Fields {
		f := ent.Field(field)
		if f == nil || !matchCond(f, group[field], cond) {
			return false
		}
	}
	for op, conds := range h.Agg {
		for field, cond := range conds {
			val := aggValue(group, op, field)
			kind := schema.KindFloat
			if op == "_min" || op == "_max" {
				if f := ent.Field(field); f != nil {
					kind = f.Kind
				}
			}
			if !matchCond(&schema.Field{Name: field, Kind: kind}, val, cond) {
				return false
			}
		}
	}
	return true
}

func aggValue(group store.Record, op, field string) any {
	if op == "_count" {
		return group["_count"]
	}
	switch m := group[op].(type) {
	case map[string]any:
		return m[field]
	case map[string]float64:
		v, ok := m[field]
		if !ok {
			return nil
		}
		return v
	}
	return nil
}
