package query

import (
	"encoding/json"
	"fmt"
	"strings"

	"agencydb/internal/domain"
)

// Unique identifies at most one row: a map holding exactly one unique field
// (id, or a declared unique field such as email).
type Unique map[string]any

// Order is one (field, direction) pair. The wire shape is {"field": "asc"}
// or {"field": "desc"}.
type Order struct {
	Field string
	Desc  bool
}

// UnmarshalJSON decodes the single-key object form.
func (o *Order) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return &domain.ValidationError{Message: fmt.Sprintf("invalid orderBy entry: %v", err)}
	}
	if len(raw) != 1 {
		return &domain.ValidationError{Message: "orderBy entries must hold exactly one field"}
	}
	for field, dir := range raw {
		o.Field = field
		switch strings.ToLower(dir) {
		case "asc":
			o.Desc = false
		case "desc":
			o.Desc = true
		default:
			return &domain.ValidationError{Message: fmt.Sprintf("orderBy direction for %q must be asc or desc", field)}
		}
	}
	return nil
}

// MarshalJSON emits the wire shape.
func (o Order) MarshalJSON() ([]byte, error) {
	dir := "asc"
	if o.Desc {
		dir = "desc"
	}
	return json.Marshal(map[string]string{o.Field: dir})
}

// Asc and Desc build orderBy entries for programmatic callers.
func Asc(field string) Order  { return Order{Field: field} }
func Desc(field string) Order { return Order{Field: field, Desc: true} }

// FindManyParams drives a list query. Take is signed: positive takes forward
// from the cursor (cursor row included), negative takes the window ending at
// the cursor. Skip offsets away from the cursor before taking.
type FindManyParams struct {
	Where    *Where   `json:"where,omitempty"`
	OrderBy  []Order  `json:"orderBy,omitempty"`
	Cursor   Unique   `json:"cursor,omitempty"`
	Take     *int     `json:"take,omitempty"`
	Skip     int      `json:"skip,omitempty"`
	Distinct []string `json:"distinct,omitempty"`
}

// FindFirstParams drives a first-match query.
type FindFirstParams struct {
	Where   *Where  `json:"where,omitempty"`
	OrderBy []Order `json:"orderBy,omitempty"`
}

// AggregateParams selects aggregate computations over the matching rows.
// Min/Max/Avg/Sum name the fields to aggregate; Avg and Sum are restricted to
// numeric fields. Null values are skipped.
type AggregateParams struct {
	Where *Where   `json:"where,omitempty"`
	Count bool     `json:"_count,omitempty"`
	Min   []string `json:"_min,omitempty"`
	Max   []string `json:"_max,omitempty"`
	Avg   []string `json:"_avg,omitempty"`
	Sum   []string `json:"_sum,omitempty"`
}

// AggregateResult carries per-field aggregate values. A field with no
// non-null values is absent from its map.
type AggregateResult struct {
	Count int64              `json:"_count"`
	Min   map[string]any     `json:"_min,omitempty"`
	Max   map[string]any     `json:"_max,omitempty"`
	Avg   map[string]float64 `json:"_avg,omitempty"`
	Sum   map[string]float64 `json:"_sum,omitempty"`
}

// GroupByParams groups matching rows by the By fields and computes the
// selected aggregates per group. OrderBy fields and the plain-field part of
// Having must be a subset of By; this is validated before execution.
type GroupByParams struct {
	By      []string `json:"by"`
	Where   *Where   `json:"where,omitempty"`
	Having  *Having  `json:"having,omitempty"`
	OrderBy []Order  `json:"orderBy,omitempty"`
	Take    *int     `json:"take,omitempty"`
	Skip    int      `json:"skip,omitempty"`

	Count bool     `json:"_count,omitempty"`
	Min   []string `json:"_min,omitempty"`
	Max   []string `json:"_max,omitempty"`
	Avg   []string `json:"_avg,omitempty"`
	Sum   []string `json:"_sum,omitempty"`
}

// Having filters groups after aggregation. Plain keys condition the grouped
// field values; keys _count/_min/_max/_avg/_sum condition aggregate results
// per field ({"_avg": {"hoursWorked": {"gt": 4}}}). All conditions are ANDed.
type Having struct {
	Fields map[string]*Cond
	Agg    map[string]map[string]*Cond
}

var aggOps = map[string]bool{
	"_count": true, "_min": true, "_max": true, "_avg": true, "_sum": true,
}

// UnmarshalJSON splits plain-field conditions from aggregate conditions.
func (h *Having) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return &domain.ValidationError{Message: fmt.Sprintf("invalid having: %v", err)}
	}
	for key, val := range raw {
		if aggOps[key] {
			var perField map[string]json.RawMessage
			if err := json.Unmarshal(val, &perField); err != nil {
				return &domain.ValidationError{Message: fmt.Sprintf("having %s must map fields to conditions", key)}
			}
			if h.Agg == nil {
				h.Agg = map[string]map[string]*Cond{}
			}
			conds := map[string]*Cond{}
			for field, condRaw := range perField {
				var probe map[string]json.RawMessage
				if err := json.Unmarshal(condRaw, &probe); err != nil || probe == nil {
					return &domain.ValidationError{Message: fmt.Sprintf("having %s.%s must be an operator object", key, field)}
				}
				c, err := parseCond(field, probe)
				if err != nil {
					return err
				}
				conds[field] = c
			}
			h.Agg[key] = conds
			continue
		}

		var probe map[string]json.RawMessage
		if err := json.Unmarshal(val, &probe); err == nil && probe != nil {
			c, err := parseCond(key, probe)
			if err != nil {
				return err
			}
			if h.Fields == nil {
				h.Fields = map[string]*Cond{}
			}
			h.Fields[key] = c
			continue
		}
		var v any
		if err := json.Unmarshal(val, &v); err != nil {
			return &domain.ValidationError{Message: fmt.Sprintf("invalid having condition for %q", key)}
		}
		if h.Fields == nil {
			h.Fields = map[string]*Cond{}
		}
		h.Fields[key] = &Cond{Equals: v, EqualsSet: true}
	}
	return nil
}
