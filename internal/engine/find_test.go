package engine

import (
	"context"
	"errors"
	"testing"

	"agencydb/internal/domain"
	"agencydb/internal/query"
)

func intp(n int) *int { return &n }

func titles(t *testing.T, eng *Engine, p query.FindManyParams) []string {
	t.Helper()
	rows, err := eng.FindMany(context.Background(), "task", p)
	if err != nil {
		t.Fatalf("findMany: %v", err)
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row["title"].(string))
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func seedFiveTasks(t *testing.T, eng *Engine) {
	t.Helper()
	u := seedUser(t, eng, "Ann", "ann@x.dev")
	p := seedProject(t, eng, u.ID(), "Site", "active")
	// ids are sequential, so insertion order is the PK order
	seedTask(t, eng, p.ID(), "a", "todo", "low")
	seedTask(t, eng, p.ID(), "b", "todo", "high")
	seedTask(t, eng, p.ID(), "c", "done", "low")
	seedTask(t, eng, p.ID(), "d", "in_progress", "high")
	seedTask(t, eng, p.ID(), "e", "todo", "low")
}

func TestFindMany_OrderBy(t *testing.T) {
	eng := newTestEngine(t)
	seedFiveTasks(t, eng)

	got := titles(t, eng, query.FindManyParams{
		OrderBy: []query.Order{{Field: "status"}, {Field: "title", Desc: true}},
	})
	// status asc: done, in_progress, todo; todo ties broken by title desc
	want := []string{"c", "d", "e", "b", "a"}
	if !equalStrings(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFindMany_PrimaryKeyTiebreak(t *testing.T) {
	eng := newTestEngine(t)
	seedFiveTasks(t, eng)

	// priority has ties; PK order must break them deterministically
	got := titles(t, eng, query.FindManyParams{
		OrderBy: []query.Order{{Field: "priority"}},
	})
	want := []string{"b", "d", "a", "c", "e"}
	if !equalStrings(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFindMany_TakeSkip(t *testing.T) {
	eng := newTestEngine(t)
	seedFiveTasks(t, eng)

	tests := []struct {
		name string
		p    query.FindManyParams
		want []string
	}{
		{"take", query.FindManyParams{OrderBy: []query.Order{{Field: "title"}}, Take: intp(2)}, []string{"a", "b"}},
		{"skip", query.FindManyParams{OrderBy: []query.Order{{Field: "title"}}, Skip: 3}, []string{"d", "e"}},
		{"take and skip", query.FindManyParams{OrderBy: []query.Order{{Field: "title"}}, Take: intp(2), Skip: 1}, []string{"b", "c"}},
		{"take zero", query.FindManyParams{Take: intp(0)}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := titles(t, eng, tt.p)
			if !equalStrings(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFindMany_Cursor(t *testing.T) {
	eng := newTestEngine(t)
	seedFiveTasks(t, eng)

	ctx := context.Background()
	all, err := eng.FindMany(ctx, "task", query.FindManyParams{OrderBy: []query.Order{{Field: "title"}}})
	if err != nil {
		t.Fatal(err)
	}
	cID := all[2].ID() // task "c"

	tests := []struct {
		name string
		p    query.FindManyParams
		want []string
	}{
		{
			"forward from cursor inclusive",
			query.FindManyParams{OrderBy: []query.Order{{Field: "title"}}, Cursor: query.Unique{"id": cID}, Take: intp(2)},
			[]string{"c", "d"},
		},
		{
			"forward with skip steps past the cursor",
			query.FindManyParams{OrderBy: []query.Order{{Field: "title"}}, Cursor: query.Unique{"id": cID}, Take: intp(2), Skip: 1},
			[]string{"d", "e"},
		},
		{
			"negative take is a window ending at the cursor",
			query.FindManyParams{OrderBy: []query.Order{{Field: "title"}}, Cursor: query.Unique{"id": cID}, Take: intp(-2)},
			[]string{"b", "c"},
		},
		{
			"negative take without cursor is the tail",
			query.FindManyParams{OrderBy: []query.Order{{Field: "title"}}, Take: intp(-2)},
			[]string{"d", "e"},
		},
		{
			"missing cursor yields nothing",
			query.FindManyParams{OrderBy: []query.Order{{Field: "title"}}, Cursor: query.Unique{"id": "absent"}, Take: intp(2)},
			[]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := titles(t, eng, tt.p)
			if !equalStrings(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFindMany_Distinct(t *testing.T) {
	eng := newTestEngine(t)
	seedFiveTasks(t, eng)

	ctx := context.Background()
	rows, err := eng.FindMany(ctx, "task", query.FindManyParams{
		OrderBy:  []query.Order{{Field: "title"}},
		Distinct: []string{"status"},
	})
	if err != nil {
		t.Fatal(err)
	}
	// first row per status in title order: a (todo), c (done), d (in_progress)
	want := []string{"a", "c", "d"}
	got := make([]string, 0, len(rows))
	for _, row := range rows {
		got = append(got, row["title"].(string))
	}
	if !equalStrings(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFindMany_WhereRelation(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	ann := seedUser(t, eng, "Ann", "ann@x.dev")
	p1 := seedProject(t, eng, ann.ID(), "Site", "active")
	p2 := seedProject(t, eng, ann.ID(), "App", "active")
	seedTask(t, eng, p1.ID(), "only-p1", "todo", "low")

	var w query.Where
	if err := w.UnmarshalJSON([]byte(`{"tasks": {"some": {"status": "todo"}}}`)); err != nil {
		t.Fatal(err)
	}
	rows, err := eng.FindMany(ctx, "project", query.FindManyParams{Where: &w})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].ID() != p1.ID() {
		t.Errorf("got %d rows, want only %s (not %s)", len(rows), p1.ID(), p2.ID())
	}
}

func TestFindUnique(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	u := seedUser(t, eng, "Ann", "ann@x.dev")

	got, err := eng.FindUnique(ctx, "user", query.Unique{"email": "ann@x.dev"})
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID() != u.ID() {
		t.Errorf("got %v, want row %s", got, u.ID())
	}

	// absent row is nil, not an error
	got, err = eng.FindUnique(ctx, "user", query.Unique{"email": "nobody@x.dev"})
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("got %v, want nil", got)
	}

	// OrThrow converts absence into NotFound
	_, err = eng.FindUniqueOrThrow(ctx, "user", query.Unique{"email": "nobody@x.dev"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestFindFirst(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	seedFiveTasks(t, eng)

	var w query.Where
	if err := w.UnmarshalJSON([]byte(`{"status": "todo"}`)); err != nil {
		t.Fatal(err)
	}
	got, err := eng.FindFirst(ctx, "task", query.FindFirstParams{
		Where:   &w,
		OrderBy: []query.Order{{Field: "title", Desc: true}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got["title"] != "e" {
		t.Errorf("got %v, want task e", got)
	}

	var none query.Where
	if err := none.UnmarshalJSON([]byte(`{"status": "blocked"}`)); err != nil {
		t.Fatal(err)
	}
	got, err = eng.FindFirst(ctx, "task", query.FindFirstParams{Where: &none})
	if err != nil || got != nil {
		t.Errorf("got (%v, %v), want (nil, nil)", got, err)
	}

	_, err = eng.FindFirstOrThrow(ctx, "task", query.FindFirstParams{Where: &none})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestCount(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	seedFiveTasks(t, eng)

	n, err := eng.Count(ctx, "task", nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("count = %d, want 5", n)
	}

	var w query.Where
	if err := w.UnmarshalJSON([]byte(`{"status": "todo"}`)); err != nil {
		t.Fatal(err)
	}
	n, err = eng.Count(ctx, "task", &w)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("count(todo) = %d, want 3", n)
	}
}
