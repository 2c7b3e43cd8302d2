package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"agencydb/internal/auth"
	"agencydb/internal/httputil"
	"agencydb/internal/query"
	"agencydb/internal/store"
)

// envelope is the JSON body shared by every entity operation. Fields not used
// by a given operation are simply ignored.
type envelope struct {
	Where    *query.Where    `json:"where"`
	OrderBy  []query.Order   `json:"orderBy"`
	Cursor   query.Unique    `json:"cursor"`
	Take     *int            `json:"take"`
	Skip     int             `json:"skip"`
	Distinct []string        `json:"distinct"`
	Data     json.RawMessage `json:"data"`
	Create   store.Record    `json:"create"`
	Update   store.Record    `json:"update"`
	Limit    int             `json:"limit"`
	By       []string        `json:"by"`
	Having   *query.Having   `json:"having"`

	SkipDuplicates bool `json:"skipDuplicates"`

	Count bool            `json:"_count"`
	Min   json.RawMessage `json:"_min"`
	Max   json.RawMessage `json:"_max"`
	Avg   json.RawMessage `json:"_avg"`
	Sum   json.RawMessage `json:"_sum"`
}

// Operation dispatches POST /api/{entity}/{op}.
func (h *Handler) Operation(w http.ResponseWriter, r *http.Request) {
	entity := r.PathValue("entity")
	op := r.PathValue("op")

	var req envelope
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.dispatch(r, entity, op, &req)
	if err != nil {
		h.handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, result)
}

func (h *Handler) dispatch(r *http.Request, entity, op string, req *envelope) (any, error) {
	ctx := r.Context()
	eng := h.client.Engine()

	switch op {
	case "findMany":
		return eng.FindMany(ctx, entity, query.FindManyParams{
			Where: req.Where, OrderBy: req.OrderBy, Cursor: req.Cursor,
			Take: req.Take, Skip: req.Skip, Distinct: req.Distinct,
		})

	case "findUnique":
		u, err := req.unique()
		if err != nil {
			return nil, err
		}
		return eng.FindUnique(ctx, entity, u)

	case "findUniqueOrThrow":
		u, err := req.unique()
		if err != nil {
			return nil, err
		}
		return eng.FindUniqueOrThrow(ctx, entity, u)

	case "findFirst":
		return eng.FindFirst(ctx, entity, query.FindFirstParams{
			Where: req.Where, OrderBy: req.OrderBy,
		})

	case "findFirstOrThrow":
		return eng.FindFirstOrThrow(ctx, entity, query.FindFirstParams{
			Where: req.Where, OrderBy: req.OrderBy,
		})

	case "count":
		n, err := eng.Count(ctx, entity, req.Where)
		if err != nil {
			return nil, err
		}
		return map[string]int64{"count": n}, nil

	case "aggregate":
		return eng.Aggregate(ctx, entity, query.AggregateParams{
			Where: req.Where, Count: req.Count,
			Min: fieldSelection(req.Min), Max: fieldSelection(req.Max),
			Avg: fieldSelection(req.Avg), Sum: fieldSelection(req.Sum),
		})

	case "groupBy":
		return eng.GroupBy(ctx, entity, query.GroupByParams{
			By: req.By, Where: req.Where, Having: req.Having,
			OrderBy: req.OrderBy, Take: req.Take, Skip: req.Skip,
			Count: req.Count,
			Min:   fieldSelection(req.Min), Max: fieldSelection(req.Max),
			Avg: fieldSelection(req.Avg), Sum: fieldSelection(req.Sum),
		})

	case "create":
		data, err := req.dataOne()
		if err != nil {
			return nil, err
		}
		if err := h.hashPassword(entity, data); err != nil {
			return nil, err
		}
		return eng.Create(ctx, entity, data)

	case "createMany", "createManyAndReturn":
		rows, err := req.dataMany()
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if err := h.hashPassword(entity, row); err != nil {
				return nil, err
			}
		}
		if op == "createMany" {
			n, err := eng.CreateMany(ctx, entity, rows, req.SkipDuplicates)
			if err != nil {
				return nil, err
			}
			return map[string]int64{"count": n}, nil
		}
		return eng.CreateManyAndReturn(ctx, entity, rows, req.SkipDuplicates)

	case "update":
		u, err := req.unique()
		if err != nil {
			return nil, err
		}
		data, err := req.dataOne()
		if err != nil {
			return nil, err
		}
		if err := h.hashPassword(entity, data); err != nil {
			return nil, err
		}
		return eng.Update(ctx, entity, u, data)

	case "updateMany":
		data, err := req.dataOne()
		if err != nil {
			return nil, err
		}
		n, err := eng.UpdateMany(ctx, entity, req.Where, data, req.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]int64{"count": n}, nil

	case "updateManyAndReturn":
		data, err := req.dataOne()
		if err != nil {
			return nil, err
		}
		return eng.UpdateManyAndReturn(ctx, entity, req.Where, data, req.Limit)

	case "upsert":
		u, err := req.unique()
		if err != nil {
			return nil, err
		}
		if err := h.hashPassword(entity, req.Create); err != nil {
			return nil, err
		}
		if err := h.hashPassword(entity, req.Update); err != nil {
			return nil, err
		}
		return eng.Upsert(ctx, entity, u, req.Create, req.Update)

	case "delete":
		u, err := req.unique()
		if err != nil {
			return nil, err
		}
		return eng.Delete(ctx, entity, u)

	case "deleteMany":
		n, err := eng.DeleteMany(ctx, entity, req.Where, req.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]int64{"count": n}, nil

	default:
		return nil, badRequestf("unknown operation %q", op)
	}
}

// unique reads the where clause of a by-unique operation as a plain lookup
// map rather than a filter tree.
func (e *envelope) unique() (query.Unique, error) {
	if e.Where == nil || len(e.Where.Fields) != 1 {
		return nil, badRequestf("where must name exactly one unique field")
	}
	u := query.Unique{}
	for field, cond := range e.Where.Fields {
		if cond == nil || !cond.EqualsSet {
			return nil, badRequestf("unique lookup on %q must be an equality", field)
		}
		u[field] = cond.Equals
	}
	return u, nil
}

func (e *envelope) dataOne() (store.Record, error) {
	if len(e.Data) == 0 {
		return nil, badRequestf("data is required")
	}
	var rec store.Record
	if err := json.Unmarshal(e.Data, &rec); err != nil {
		return nil, badRequestf("data must be an object")
	}
	return rec, nil
}

// dataMany accepts either an array of rows or a single object.
func (e *envelope) dataMany() ([]store.Record, error) {
	if len(e.Data) == 0 {
		return nil, badRequestf("data is required")
	}
	var rows []store.Record
	if err := json.Unmarshal(e.Data, &rows); err == nil {
		return rows, nil
	}
	row, err := e.dataOne()
	if err != nil {
		return nil, err
	}
	return []store.Record{row}, nil
}

// fieldSelection accepts either ["field", ...] or {"field": true, ...}.
func fieldSelection(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var m map[string]bool
	if err := json.Unmarshal(raw, &m); err == nil {
		for field, on := range m {
			if on {
				list = append(list, field)
			}
		}
	}
	return list
}

// hashPassword replaces a plaintext password value in user write data with
// its bcrypt hash. Other entities pass through untouched.
func (h *Handler) hashPassword(entity string, data store.Record) error {
	if entity != "user" || data == nil {
		return nil
	}
	raw, ok := data["password"].(string)
	if !ok || raw == "" {
		return nil
	}
	hashed, err := auth.HashPassword(raw)
	if err != nil {
		return err
	}
	data["password"] = hashed
	return nil
}

func badRequestf(format string, args ...any) error {
	return &httpError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string   { return e.msg }
func (e *httpError) StatusCode() int { return e.status }
