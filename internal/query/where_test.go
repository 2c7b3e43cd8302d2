package query

import (
	"encoding/json"
	"testing"
)

func mustWhere(t *testing.T, raw string) *Where {
	t.Helper()
	var w Where
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
	return &w
}

func TestWhere_UnmarshalEquality(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"bare value shorthand", `{"status": "active"}`},
		{"explicit equals", `{"status": {"equals": "active"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := mustWhere(t, tt.raw)
			cond := w.Fields["status"]
			if cond == nil {
				t.Fatal("expected a condition on status")
			}
			if !cond.EqualsSet {
				t.Error("EqualsSet should be true")
			}
			if cond.Equals != "active" {
				t.Errorf("Equals = %v, want active", cond.Equals)
			}
		})
	}
}

func TestWhere_NullVersusAbsent(t *testing.T) {
	// equals: null must be distinguishable from no equals key at all
	withNull := mustWhere(t, `{"phone": {"equals": null}}`)
	cond := withNull.Fields["phone"]
	if !cond.EqualsSet {
		t.Error("equals: null should set EqualsSet")
	}
	if cond.Equals != nil {
		t.Errorf("Equals = %v, want nil", cond.Equals)
	}

	withoutEquals := mustWhere(t, `{"phone": {"lt": "z"}}`)
	if withoutEquals.Fields["phone"].EqualsSet {
		t.Error("absent equals should leave EqualsSet false")
	}

	// bare null shorthand
	bareNull := mustWhere(t, `{"phone": null}`)
	if !bareNull.Fields["phone"].EqualsSet {
		t.Error("bare null should set EqualsSet")
	}
}

func TestWhere_UnmarshalOperators(t *testing.T) {
	w := mustWhere(t, `{
		"priority": {"in": ["high", "urgent"], "not": {"equals": "urgent"}},
		"progress": {"gte": 10, "lt": 90},
		"name": {"contains": "plan", "mode": "insensitive"},
		"attachments": {"has": "a.pdf", "isEmpty": false}
	}`)

	pr := w.Fields["priority"]
	if !pr.InSet || len(pr.In) != 2 {
		t.Errorf("In = %v (set=%v), want two values", pr.In, pr.InSet)
	}
	if pr.Not == nil || !pr.Not.EqualsSet {
		t.Error("not should parse as a nested condition")
	}

	pg := w.Fields["progress"]
	if pg.Gte == nil || pg.Lt == nil {
		t.Errorf("range bounds missing: gte=%v lt=%v", pg.Gte, pg.Lt)
	}

	nm := w.Fields["name"]
	if nm.Contains == nil || *nm.Contains != "plan" {
		t.Errorf("Contains = %v, want plan", nm.Contains)
	}
	if nm.Mode != "insensitive" {
		t.Errorf("Mode = %q, want insensitive", nm.Mode)
	}

	at := w.Fields["attachments"]
	if !at.HasSet {
		t.Error("has should be set")
	}
	if at.IsEmpty == nil || *at.IsEmpty {
		t.Errorf("IsEmpty = %v, want false", at.IsEmpty)
	}
}

func TestWhere_UnmarshalLogical(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		and, or int
		not     int
	}{
		{"list forms", `{"AND": [{"status": "active"}], "OR": [{"role": "admin"}, {"role": "manager"}]}`, 1, 2, 0},
		{"single object treated as one-element list", `{"AND": {"status": "active"}, "NOT": {"role": "viewer"}}`, 1, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := mustWhere(t, tt.raw)
			if len(w.And) != tt.and {
				t.Errorf("AND len = %d, want %d", len(w.And), tt.and)
			}
			if len(w.Or) != tt.or {
				t.Errorf("OR len = %d, want %d", len(w.Or), tt.or)
			}
			if len(w.Not) != tt.not {
				t.Errorf("NOT len = %d, want %d", len(w.Not), tt.not)
			}
		})
	}
}

func TestWhere_UnmarshalRelation(t *testing.T) {
	w := mustWhere(t, `{
		"tasks": {"some": {"status": "todo"}},
		"client": {"is": null},
		"assignee": {"is": {"role": "admin"}}
	}`)

	tasks := w.Relations["tasks"]
	if tasks == nil || tasks.Some == nil {
		t.Fatal("tasks.some should parse as a relation condition")
	}

	cl := w.Relations["client"]
	if cl == nil || !cl.IsSet || cl.Is != nil {
		t.Fatalf("client {is: null} should set IsSet with nil Is, got %+v", cl)
	}

	as := w.Relations["assignee"]
	if as == nil || as.Is == nil {
		t.Fatal("assignee.is should carry a nested where")
	}
}

func TestOrder_UnmarshalJSON(t *testing.T) {
	var o Order
	if err := json.Unmarshal([]byte(`{"dueDate": "desc"}`), &o); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if o.Field != "dueDate" || !o.Desc {
		t.Errorf("got %+v, want dueDate desc", o)
	}

	if err := json.Unmarshal([]byte(`{"a": "asc", "b": "desc"}`), &o); err == nil {
		t.Error("two keys in one orderBy entry should fail")
	}
}

func TestHaving_UnmarshalJSON(t *testing.T) {
	var h Having
	raw := `{"status": {"equals": "done"}, "_count": {"id": {"gt": 2}}, "_avg": {"progress": {"gte": 50}}}`
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if h.Fields["status"] == nil {
		t.Error("plain field condition missing")
	}
	if h.Agg["_count"]["id"] == nil {
		t.Error("_count condition missing")
	}
	if h.Agg["_avg"]["progress"] == nil {
		t.Error("_avg condition missing")
	}
}
