package engine

import (
	"context"
	"testing"

	"agencydb/internal/query"
	"agencydb/internal/store"
)

func seedTimesheets(t *testing.T, eng *Engine) {
	t.Helper()
	rows := []struct {
		user  string
		hours float64
	}{
		{"u1", 8},
		{"u1", 6},
		{"u2", 4},
	}
	for _, r := range rows {
		mustCreate(t, eng, "timesheet", store.Record{
			"userId":      r.user,
			"date":        "2026-02-01T00:00:00Z",
			"hoursWorked": r.hours,
			"status":      "submitted",
		})
	}
}

func TestAggregate_SkipsNulls(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	for _, hours := range []any{float64(8), float64(6), float64(4), nil} {
		mustCreate(t, eng, "task", store.Record{
			"title": "t", "status": "todo", "priority": "low",
			"estimatedHours": hours,
		})
	}

	res, err := eng.Aggregate(ctx, "task", query.AggregateParams{
		Count: true,
		Min:   []string{"estimatedHours"},
		Max:   []string{"estimatedHours"},
		Avg:   []string{"estimatedHours"},
		Sum:   []string{"estimatedHours"},
	})
	if err != nil {
		t.Fatal(err)
	}

	// count is row count, but the null row contributes to no aggregate
	if res.Count != 4 {
		t.Errorf("count = %d, want 4", res.Count)
	}
	if got, _ := query.Number(res.Min["estimatedHours"]); got != 4 {
		t.Errorf("min = %v, want 4", res.Min["estimatedHours"])
	}
	if got, _ := query.Number(res.Max["estimatedHours"]); got != 8 {
		t.Errorf("max = %v, want 8", res.Max["estimatedHours"])
	}
	if res.Avg["estimatedHours"] != 6 {
		t.Errorf("avg = %v, want 6", res.Avg["estimatedHours"])
	}
	if res.Sum["estimatedHours"] != 18 {
		t.Errorf("sum = %v, want 18", res.Sum["estimatedHours"])
	}
}

func TestAggregate_AllNullFieldAbsent(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	mustCreate(t, eng, "task", store.Record{
		"title": "t", "status": "todo", "priority": "low",
	})

	res, err := eng.Aggregate(ctx, "task", query.AggregateParams{
		Min: []string{"estimatedHours"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.Min["estimatedHours"]; ok {
		t.Errorf("min over all-null field should be absent, got %v", res.Min["estimatedHours"])
	}
}

func TestGroupBy(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	seedTimesheets(t, eng)

	groups, err := eng.GroupBy(ctx, "timesheet", query.GroupByParams{
		By:      []string{"userId"},
		Count:   true,
		Sum:     []string{"hoursWorked"},
		OrderBy: []query.Order{{Field: "userId"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}

	first := groups[0]
	if first["userId"] != "u1" || first["_count"] != int64(2) {
		t.Errorf("first group = %v, want u1 with count 2", first)
	}
	sums, _ := first["_sum"].(map[string]float64)
	if sums["hoursWorked"] != 14 {
		t.Errorf("u1 sum = %v, want 14", sums["hoursWorked"])
	}

	second := groups[1]
	sums2, _ := second["_sum"].(map[string]float64)
	if second["userId"] != "u2" || sums2["hoursWorked"] != 4 {
		t.Errorf("second group = %v, want u2 with sum 4", second)
	}
}

func TestGroupBy_Having(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	seedTimesheets(t, eng)

	having := &query.Having{
		Agg: map[string]map[string]*query.Cond{
			"_sum": {"hoursWorked": {Gt: float64(5)}},
		},
	}
	groups, err := eng.GroupBy(ctx, "timesheet", query.GroupByParams{
		By:     []string{"userId"},
		Sum:    []string{"hoursWorked"},
		Having: having,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 || groups[0]["userId"] != "u1" {
		t.Errorf("groups = %v, want only u1", groups)
	}
}

func TestGroupBy_HavingOutsideByFails(t *testing.T) {
	eng := newTestEngine(t)
	seedTimesheets(t, eng)

	having := &query.Having{
		Fields: map[string]*query.Cond{
			"status": {EqualsSet: true, Equals: "submitted"},
		},
	}
	_, err := eng.GroupBy(context.Background(), "timesheet", query.GroupByParams{
		By:     []string{"userId"},
		Having: having,
	})
	if err == nil {
		t.Error("having on a field outside by must fail validation")
	}
}

func TestGroupBy_TakeSkip(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	seedTimesheets(t, eng)

	groups, err := eng.GroupBy(ctx, "timesheet", query.GroupByParams{
		By:      []string{"userId"},
		OrderBy: []query.Order{{Field: "userId", Desc: true}},
		Take:    intp(1),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 || groups[0]["userId"] != "u2" {
		t.Errorf("groups = %v, want only u2", groups)
	}
}
