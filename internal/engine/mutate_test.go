package engine

import (
	"context"
	"errors"
	"testing"

	"agencydb/internal/domain"
	"agencydb/internal/query"
	"agencydb/internal/store"
)

func TestCreate_Defaults(t *testing.T) {
	eng := newTestEngine(t)

	rec := mustCreate(t, eng, "task", store.Record{
		"projectId": "p1",
		"title":     "write brief",
		"status":    "todo",
		"priority":  "low",
	})

	if rec.ID() == "" {
		t.Error("id should be defaulted")
	}
	if rec["createdAt"] == nil || rec["updatedAt"] == nil {
		t.Error("timestamps should be defaulted")
	}
	if list, ok := rec["attachments"].([]any); !ok || len(list) != 0 {
		t.Errorf("attachments = %v, want empty list", rec["attachments"])
	}
}

func TestCreate_RequiredMissing(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.Create(context.Background(), "user", store.Record{"name": "Ann"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("err = %v, want validation error", err)
	}
}

func TestCreate_UnknownFieldRejected(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.Create(context.Background(), "user", store.Record{
		"name": "Ann", "email": "ann@x.dev", "role": "member", "status": "active",
		"nickname": "annie",
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("err = %v, want validation error", err)
	}
}

func TestCreate_UniqueViolationKeepsFirstRow(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	first := seedUser(t, eng, "Ann", "ann@x.dev")

	_, err := eng.Create(ctx, "user", store.Record{
		"name": "Impostor", "email": "ann@x.dev", "role": "member", "status": "active",
	})
	var uniq *domain.UniqueConstraintError
	if !errors.As(err, &uniq) {
		t.Fatalf("err = %v, want unique constraint violation", err)
	}
	if uniq.Field != "email" {
		t.Errorf("violated field = %q, want email", uniq.Field)
	}

	got, err := eng.FindUniqueOrThrow(ctx, "user", query.Unique{"email": "ann@x.dev"})
	if err != nil {
		t.Fatal(err)
	}
	if got.ID() != first.ID() || got["name"] != "Ann" {
		t.Errorf("surviving row = %v, want the original", got)
	}
}

func TestCreateMany(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	rows := []store.Record{
		{"name": "Ann", "email": "ann@x.dev", "role": "member", "status": "active"},
		{"name": "Bob", "email": "bob@x.dev", "role": "member", "status": "active"},
		{"name": "Dup", "email": "ann@x.dev", "role": "member", "status": "active"},
	}

	// without skipDuplicates the batch fails and nothing is kept
	_, err := eng.CreateMany(ctx, "user", rows, false)
	var uniq *domain.UniqueConstraintError
	if !errors.As(err, &uniq) {
		t.Fatalf("err = %v, want unique constraint violation", err)
	}
	if n, _ := eng.Count(ctx, "user", nil); n != 0 {
		t.Errorf("count after failed batch = %d, want 0", n)
	}

	// with skipDuplicates the duplicate is dropped, the rest land
	n, err := eng.CreateMany(ctx, "user", rows, true)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("created = %d, want 2", n)
	}
}

func TestCreateMany_RejectsNestedWrites(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.CreateMany(context.Background(), "project", []store.Record{
		{"name": "Site", "agencyId": "ag-1", "status": "active", "createdBy": "u1",
			"tasks": map[string]any{"create": map[string]any{"title": "x"}}},
	}, false)
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("err = %v, want validation error", err)
	}
}

func TestUpdate(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	task := mustCreate(t, eng, "task", store.Record{
		"projectId": "p1", "title": "draft", "status": "todo", "priority": "low",
		"attachments": []any{"a.pdf"},
	})

	got, err := eng.Update(ctx, "task", query.Unique{"id": task.ID()}, store.Record{
		"status":      "in_progress",
		"attachments": map[string]any{"push": "b.pdf"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got["status"] != "in_progress" {
		t.Errorf("status = %v, want in_progress", got["status"])
	}
	list, _ := got["attachments"].([]any)
	if len(list) != 2 || list[1] != "b.pdf" {
		t.Errorf("attachments = %v, want [a.pdf b.pdf]", list)
	}
	if got["updatedAt"] == task["updatedAt"] {
		t.Error("updatedAt should strictly increase on update")
	}
}

func TestUpdate_ListSetReplaces(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	task := mustCreate(t, eng, "task", store.Record{
		"projectId": "p1", "title": "draft", "status": "todo", "priority": "low",
		"attachments": []any{"a.pdf", "b.pdf"},
	})

	got, err := eng.Update(ctx, "task", query.Unique{"id": task.ID()}, store.Record{
		"attachments": map[string]any{"set": []any{"c.pdf"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	list, _ := got["attachments"].([]any)
	if len(list) != 1 || list[0] != "c.pdf" {
		t.Errorf("attachments = %v, want [c.pdf]", list)
	}
}

func TestUpdate_IDImmutable(t *testing.T) {
	eng := newTestEngine(t)
	u := seedUser(t, eng, "Ann", "ann@x.dev")

	_, err := eng.Update(context.Background(), "user", query.Unique{"id": u.ID()}, store.Record{"id": "other"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("err = %v, want validation error", err)
	}
}

func TestUpdate_MissingRow(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.Update(context.Background(), "user", query.Unique{"id": "absent"}, store.Record{"name": "X"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestUpdateMany_Limit(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	seedFiveTasks(t, eng)

	var w query.Where
	if err := w.UnmarshalJSON([]byte(`{"status": "todo"}`)); err != nil {
		t.Fatal(err)
	}

	n, err := eng.UpdateMany(ctx, "task", &w, store.Record{"priority": "urgent"}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("updated = %d, want 2", n)
	}

	var urgent query.Where
	if err := urgent.UnmarshalJSON([]byte(`{"priority": "urgent"}`)); err != nil {
		t.Fatal(err)
	}
	left, err := eng.Count(ctx, "task", &urgent)
	if err != nil {
		t.Fatal(err)
	}
	if left != 2 {
		t.Errorf("urgent rows = %d, want 2", left)
	}
}

func TestUpsert(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	create := store.Record{"name": "Ann", "email": "ann@x.dev", "role": "member", "status": "active"}
	update := store.Record{"status": "inactive"}

	// first call inserts
	got, err := eng.Upsert(ctx, "user", query.Unique{"email": "ann@x.dev"}, create, update)
	if err != nil {
		t.Fatal(err)
	}
	if got["status"] != "active" {
		t.Errorf("status after insert = %v, want active", got["status"])
	}

	// second call updates the same row
	got2, err := eng.Upsert(ctx, "user", query.Unique{"email": "ann@x.dev"}, create, update)
	if err != nil {
		t.Fatal(err)
	}
	if got2.ID() != got.ID() {
		t.Errorf("upsert created a second row: %s vs %s", got2.ID(), got.ID())
	}
	if got2["status"] != "inactive" {
		t.Errorf("status after update = %v, want inactive", got2["status"])
	}

	if n, _ := eng.Count(ctx, "user", nil); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestDelete(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	u := seedUser(t, eng, "Ann", "ann@x.dev")

	got, err := eng.Delete(ctx, "user", query.Unique{"id": u.ID()})
	if err != nil {
		t.Fatal(err)
	}
	if got["email"] != "ann@x.dev" {
		t.Errorf("deleted row = %v, want the old row back", got)
	}

	_, err = eng.Delete(ctx, "user", query.Unique{"id": u.ID()})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second delete err = %v, want not found", err)
	}

	// the unique value must be reusable after delete
	seedUser(t, eng, "Ann again", "ann@x.dev")
}

func TestDeleteMany(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	seedFiveTasks(t, eng)

	var w query.Where
	if err := w.UnmarshalJSON([]byte(`{"status": "todo"}`)); err != nil {
		t.Fatal(err)
	}
	n, err := eng.DeleteMany(ctx, "task", &w, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("deleted = %d, want 3", n)
	}
	if left, _ := eng.Count(ctx, "task", nil); left != 2 {
		t.Errorf("remaining = %d, want 2", left)
	}

	// deleting with no matches reports zero, not an error
	n, err = eng.DeleteMany(ctx, "task", &w, 0)
	if err != nil || n != 0 {
		t.Errorf("got (%d, %v), want (0, nil)", n, err)
	}
}

func TestCreate_NestedCreateAndConnect(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	ann := seedUser(t, eng, "Ann", "ann@x.dev")

	proj, err := eng.Create(ctx, "project", store.Record{
		"name":     "Site",
		"agencyId": "ag-1",
		"status":   "active",
		"creator": map[string]any{
			"connect": map[string]any{"id": ann.ID()},
		},
		"tasks": map[string]any{
			"create": []any{
				map[string]any{"title": "kickoff", "status": "todo", "priority": "high"},
				map[string]any{"title": "wireframes", "status": "todo", "priority": "low"},
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if proj["createdBy"] != ann.ID() {
		t.Errorf("createdBy = %v, want %s", proj["createdBy"], ann.ID())
	}

	var w query.Where
	if err := w.UnmarshalJSON([]byte(`{"projectId": "` + proj.ID() + `"}`)); err != nil {
		t.Fatal(err)
	}
	n, err := eng.Count(ctx, "task", &w)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("nested tasks = %d, want 2", n)
	}
}

func TestCreate_ConnectMissingTargetRollsBack(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Create(ctx, "project", store.Record{
		"name":      "Site",
		"agencyId":  "ag-1",
		"status":    "active",
		"createdBy": "u1",
		"tasks": map[string]any{
			"connect": map[string]any{"id": "no-such-task"},
		},
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}

	// the parent insert must have been rolled back with the failed connect
	if n, _ := eng.Count(ctx, "project", nil); n != 0 {
		t.Errorf("projects after rollback = %d, want 0", n)
	}
}

func TestUpdate_Disconnect(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	ann := seedUser(t, eng, "Ann", "ann@x.dev")
	proj := seedProject(t, eng, ann.ID(), "Site", "active")
	task := mustCreate(t, eng, "task", store.Record{
		"projectId": proj.ID(), "title": "draft", "status": "todo", "priority": "low",
		"assignedTo": ann.ID(),
	})

	got, err := eng.Update(ctx, "task", query.Unique{"id": task.ID()}, store.Record{
		"assignee": map[string]any{"disconnect": true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got["assignedTo"] != nil {
		t.Errorf("assignedTo = %v, want nil after disconnect", got["assignedTo"])
	}
}
