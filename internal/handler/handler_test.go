package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"agencydb/internal/auth"
	"agencydb/internal/client"
	"agencydb/internal/engine"
	"agencydb/internal/store"
	"agencydb/internal/store/memory"
)

func newTestServer(t *testing.T) (*httptest.Server, *client.Client) {
	t.Helper()
	st := memory.New(memory.Options{})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := client.New(engine.New(st, logger, store.TxOptions{}))

	mux := http.NewServeMux()
	New(c, logger).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, c
}

func post(t *testing.T, srv *httptest.Server, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if len(bytes.TrimSpace(raw)) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decode %q: %v", raw, err)
		}
	}
	return resp, decoded
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestCreateAndFindMany(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := post(t, srv, "/api/client/create", `{
		"data": {"name": "Acme", "email": "ops@acme.test", "status": "active"}
	}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create status = %d, body %v", resp.StatusCode, body)
	}
	if body["id"] == "" || body["name"] != "Acme" {
		t.Errorf("created = %v", body)
	}
	if body["createdAt"] == nil || body["updatedAt"] == nil {
		t.Errorf("timestamps missing: %v", body)
	}

	resp2, err := http.Post(srv.URL+"/api/client/findMany", "application/json",
		strings.NewReader(`{"where": {"status": "active"}}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	var rows []map[string]any
	if err := json.NewDecoder(resp2.Body).Decode(&rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0]["email"] != "ops@acme.test" {
		t.Errorf("rows = %v", rows)
	}
}

func TestCreateUserHashesPassword(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := post(t, srv, "/api/user/create", `{
		"data": {"name": "Ada", "email": "ada@example.com", "role": "admin",
		         "status": "active", "password": "hunter2"}
	}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}
	stored, _ := body["password"].(string)
	if stored == "" || stored == "hunter2" {
		t.Fatalf("password stored in plaintext: %q", stored)
	}
	if !auth.CheckPassword(stored, "hunter2") {
		t.Error("hash does not verify against the original password")
	}
}

func TestUniqueViolationIsConflict(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"data": {"name": "Acme", "email": "ops@acme.test", "status": "active"}}`
	if resp, _ := post(t, srv, "/api/client/create", body); resp.StatusCode != http.StatusOK {
		t.Fatalf("first create status = %d", resp.StatusCode)
	}

	resp, problem := post(t, srv, "/api/client/create", body)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("content type = %q", ct)
	}
	if problem["status"] != float64(http.StatusConflict) {
		t.Errorf("problem = %v", problem)
	}
}

func TestFindUniqueRequiresEquality(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := post(t, srv, "/api/user/findUnique", `{"where": {"email": {"contains": "x"}}}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMissingRowIsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := post(t, srv, "/api/user/findUniqueOrThrow", `{"where": {"id": "nope"}}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestUnknownOperation(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := post(t, srv, "/api/user/explode", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUnknownEntity(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := post(t, srv, "/api/widget/findMany", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCountAndDeleteMany(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, email := range []string{"a@x.test", "b@x.test"} {
		resp, _ := post(t, srv, "/api/contact/create",
			`{"data": {"name": "C", "email": "`+email+`"}}`)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("create status = %d", resp.StatusCode)
		}
	}

	resp, body := post(t, srv, "/api/contact/count", `{}`)
	if resp.StatusCode != http.StatusOK || body["count"] != float64(2) {
		t.Fatalf("count = %v (status %d)", body, resp.StatusCode)
	}

	resp, body = post(t, srv, "/api/contact/deleteMany", `{"where": {"name": "C"}}`)
	if resp.StatusCode != http.StatusOK || body["count"] != float64(2) {
		t.Fatalf("deleteMany = %v (status %d)", body, resp.StatusCode)
	}
}

func TestRawSQLWithoutPostgres(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := post(t, srv, "/api/$raw/query", `{"sql": "SELECT 1"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGroupByOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	rows := `{"data": [
		{"userId": "u1", "date": "2026-02-01T00:00:00Z", "hoursWorked": 8, "status": "submitted"},
		{"userId": "u1", "date": "2026-02-02T00:00:00Z", "hoursWorked": 6, "status": "submitted"},
		{"userId": "u2", "date": "2026-02-01T00:00:00Z", "hoursWorked": 4, "status": "submitted"}
	]}`
	if resp, body := post(t, srv, "/api/timesheet/createMany", rows); resp.StatusCode != http.StatusOK || body["count"] != float64(3) {
		t.Fatalf("createMany = %v", body)
	}

	resp, err := http.Post(srv.URL+"/api/timesheet/groupBy", "application/json",
		strings.NewReader(`{"by": ["userId"], "_count": true, "_sum": ["hoursWorked"], "orderBy": [{"userId": "asc"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var groups []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&groups); err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 {
		t.Fatalf("groups = %v", groups)
	}
	first := groups[0]
	if first["userId"] != "u1" || first["_count"] != float64(2) {
		t.Errorf("first = %v", first)
	}
	sums, _ := first["_sum"].(map[string]any)
	if sums["hoursWorked"] != float64(14) {
		t.Errorf("sum = %v", sums)
	}
}
