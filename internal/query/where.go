// Package query defines the declarative filter, ordering, pagination, and
// aggregation surface of the data client, plus the evaluator that interprets
// filters against stored records.
package query

import (
	"encoding/json"
	"fmt"

	"agencydb/internal/domain"
)

// Where is a predicate tree. AND/OR/NOT hold sub-trees; Fields holds scalar
// conditions keyed by field name; Relations holds sub-filters keyed by
// relation name. A nil Where matches every record.
type Where struct {
	And []*Where
	Or  []*Where
	Not []*Where

	Fields    map[string]*Cond
	Relations map[string]*RelationCond
}

// Cond is the condition set for one scalar field. The *Set flags preserve the
// distinction between "equals: null" (match stored null) and an absent key
// (do not filter on this field).
type Cond struct {
	Equals    any
	EqualsSet bool

	In       []any
	InSet    bool
	NotIn    []any
	NotInSet bool

	Lt  any
	Lte any
	Gt  any
	Gte any

	Contains   *string
	StartsWith *string
	EndsWith   *string
	// Mode "insensitive" makes the string operators case-insensitive.
	Mode string

	// Not negates a nested condition on the same field.
	Not *Cond

	// List-field operators.
	Has         any
	HasSet      bool
	HasEvery    []any
	HasEverySet bool
	HasSome     []any
	HasSomeSet  bool
	IsEmpty     *bool
}

// RelationCond filters on a related entity. Is/IsNull apply to to-one
// relations; Some/Every/None apply to to-many relations.
type RelationCond struct {
	Some  *Where
	Every *Where
	None  *Where

	Is     *Where
	IsSet  bool
	IsNull *bool
}

// Equals builds an equality condition; Equals(nil) matches stored nulls.
func Equals(v any) *Cond { return &Cond{Equals: v, EqualsSet: true} }

// In builds a list-membership condition.
func In(vs ...any) *Cond { return &Cond{In: vs, InSet: true} }

var condOps = map[string]bool{
	"equals": true, "in": true, "notIn": true,
	"lt": true, "lte": true, "gt": true, "gte": true,
	"contains": true, "startsWith": true, "endsWith": true, "mode": true,
	"not": true,
	"has": true, "hasEvery": true, "hasSome": true, "isEmpty": true,
}

var relOps = map[string]bool{
	"some": true, "every": true, "none": true, "is": true, "isNull": true,
}

// UnmarshalJSON decodes the wire shape of a filter tree. Structural keys AND /
// OR / NOT accept a single object or a list; any other key is a field
// condition (object of operators, or a bare value as equality shorthand) or a
// relation condition (object whose keys are relation operators).
func (w *Where) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return &domain.ValidationError{Message: fmt.Sprintf("invalid filter: %v", err)}
	}

	for key, val := range raw {
		switch key {
		case "AND":
			subs, err := oneOrMany(val)
			if err != nil {
				return err
			}
			w.And = subs
		case "OR":
			subs, err := oneOrMany(val)
			if err != nil {
				return err
			}
			w.Or = subs
		case "NOT":
			subs, err := oneOrMany(val)
			if err != nil {
				return err
			}
			w.Not = subs
		default:
			if err := w.addCondition(key, val); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Where) addCondition(key string, val json.RawMessage) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(val, &probe); err == nil && probe != nil {
		if isRelationCond(probe) {
			rc, err := parseRelationCond(key, probe)
			if err != nil {
				return err
			}
			if w.Relations == nil {
				w.Relations = map[string]*RelationCond{}
			}
			w.Relations[key] = rc
			return nil
		}
		c, err := parseCond(key, probe)
		if err != nil {
			return err
		}
		if w.Fields == nil {
			w.Fields = map[string]*Cond{}
		}
		w.Fields[key] = c
		return nil
	}

	// Bare value: equality shorthand, null included.
	var v any
	if err := json.Unmarshal(val, &v); err != nil {
		return &domain.ValidationError{Message: fmt.Sprintf("invalid condition for %q", key)}
	}
	if w.Fields == nil {
		w.Fields = map[string]*Cond{}
	}
	w.Fields[key] = &Cond{Equals: v, EqualsSet: true}
	return nil
}

// isRelationCond reports whether the probed object uses relation operators.
// An empty object is treated as a (match-all) field condition.
func isRelationCond(probe map[string]json.RawMessage) bool {
	for k := range probe {
		return relOps[k]
	}
	return false
}

func parseRelationCond(field string, probe map[string]json.RawMessage) (*RelationCond, error) {
	rc := &RelationCond{}
	for op, raw := range probe {
		switch op {
		case "some", "every", "none", "is":
			sub := &Where{}
			// "is": null is valid and means the relation is absent
			if op == "is" && string(raw) == "null" {
				rc.IsSet = true
				rc.Is = nil
				continue
			}
			if err := json.Unmarshal(raw, sub); err != nil {
				return nil, err
			}
			switch op {
			case "some":
				rc.Some = sub
			case "every":
				rc.Every = sub
			case "none":
				rc.None = sub
			case "is":
				rc.Is = sub
				rc.IsSet = true
			}
		case "isNull":
			var b bool
			if err := json.Unmarshal(raw, &b); err != nil {
				return nil, &domain.ValidationError{Message: fmt.Sprintf("%s.isNull must be a boolean", field)}
			}
			rc.IsNull = &b
		default:
			return nil, &domain.ValidationError{Message: fmt.Sprintf("unknown relation operator %q on %q", op, field)}
		}
	}
	return rc, nil
}

func parseCond(field string, probe map[string]json.RawMessage) (*Cond, error) {
	c := &Cond{}
	for op, raw := range probe {
		if !condOps[op] {
			return nil, &domain.ValidationError{Message: fmt.Sprintf("unknown operator %q on field %q", op, field)}
		}
		var err error
		switch op {
		case "equals":
			c.EqualsSet = true
			err = json.Unmarshal(raw, &c.Equals)
		case "in":
			c.InSet = true
			err = json.Unmarshal(raw, &c.In)
		case "notIn":
			c.NotInSet = true
			err = json.Unmarshal(raw, &c.NotIn)
		case "lt":
			err = json.Unmarshal(raw, &c.Lt)
		case "lte":
			err = json.Unmarshal(raw, &c.Lte)
		case "gt":
			err = json.Unmarshal(raw, &c.Gt)
		case "gte":
			err = json.Unmarshal(raw, &c.Gte)
		case "contains":
			c.Contains, err = parseString(raw)
		case "startsWith":
			c.StartsWith, err = parseString(raw)
		case "endsWith":
			c.EndsWith, err = parseString(raw)
		case "mode":
			err = json.Unmarshal(raw, &c.Mode)
		case "not":
			c.Not, err = parseNot(field, raw)
		case "has":
			c.HasSet = true
			err = json.Unmarshal(raw, &c.Has)
		case "hasEvery":
			c.HasEverySet = true
			err = json.Unmarshal(raw, &c.HasEvery)
		case "hasSome":
			c.HasSomeSet = true
			err = json.Unmarshal(raw, &c.HasSome)
		case "isEmpty":
			var b bool
			if err = json.Unmarshal(raw, &b); err == nil {
				c.IsEmpty = &b
			}
		}
		if err != nil {
			return nil, &domain.ValidationError{Message: fmt.Sprintf("invalid %q operand on field %q: %v", op, field, err)}
		}
	}
	return c, nil
}

// parseNot accepts either a nested operator object or a bare value
// (shorthand for not-equals, null included).
func parseNot(field string, raw json.RawMessage) (*Cond, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err == nil && probe != nil {
		return parseCond(field, probe)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &Cond{Equals: v, EqualsSet: true}, nil
}

func parseString(raw json.RawMessage) (*string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func oneOrMany(raw json.RawMessage) ([]*Where, error) {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]*Where, 0, len(list))
		for _, item := range list {
			sub := &Where{}
			if err := json.Unmarshal(item, sub); err != nil {
				return nil, err
			}
			out = append(out, sub)
		}
		return out, nil
	}
	sub := &Where{}
	if err := json.Unmarshal(raw, sub); err != nil {
		return nil, err
	}
	return []*Where{sub}, nil
}
