package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"agencydb/internal/engine"
	"agencydb/internal/query"
	"agencydb/internal/store"
)

// Collection exposes the engine's operations for one entity with typed
// results. Write data is passed as store.Record because nested relation
// writes and operations like {push: ...} have no struct representation;
// Create accepts the model struct for the common scalar case.
type Collection[T any] struct {
	eng    *engine.Engine
	entity string
}

// Name reports the entity this collection serves.
func (c Collection[T]) Name() string { return c.entity }

func (c Collection[T]) FindMany(ctx context.Context, p query.FindManyParams) ([]T, error) {
	recs, err := c.eng.FindMany(ctx, c.entity, p)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](recs)
}

// FindUnique returns nil without error when no row matches.
func (c Collection[T]) FindUnique(ctx context.Context, u query.Unique) (*T, error) {
	rec, err := c.eng.FindUnique(ctx, c.entity, u)
	if err != nil || rec == nil {
		return nil, err
	}
	return decodePtr[T](rec)
}

func (c Collection[T]) FindUniqueOrThrow(ctx context.Context, u query.Unique) (T, error) {
	var zero T
	rec, err := c.eng.FindUniqueOrThrow(ctx, c.entity, u)
	if err != nil {
		return zero, err
	}
	return decode[T](rec)
}

// FindFirst returns nil without error when no row matches.
func (c Collection[T]) FindFirst(ctx context.Context, p query.FindFirstParams) (*T, error) {
	rec, err := c.eng.FindFirst(ctx, c.entity, p)
	if err != nil || rec == nil {
		return nil, err
	}
	return decodePtr[T](rec)
}

func (c Collection[T]) FindFirstOrThrow(ctx context.Context, p query.FindFirstParams) (T, error) {
	var zero T
	rec, err := c.eng.FindFirstOrThrow(ctx, c.entity, p)
	if err != nil {
		return zero, err
	}
	return decode[T](rec)
}

// Create inserts the model. A zero id and zero timestamps are stripped so the
// engine fills them in; zero-valued optionals marked omitempty never reach the
// record in the first place.
func (c Collection[T]) Create(ctx context.Context, data T) (T, error) {
	var zero T
	rec, err := encode(data)
	if err != nil {
		return zero, err
	}
	if id, _ := rec["id"].(string); id == "" {
		delete(rec, "id")
	}
	for _, name := range []string{"createdAt", "updatedAt"} {
		if s, _ := rec[name].(string); s == "" || strings.HasPrefix(s, "0001-01-01T") {
			delete(rec, name)
		}
	}
	return c.CreateRecord(ctx, rec)
}

// CreateRecord inserts raw create data, including nested relation writes.
func (c Collection[T]) CreateRecord(ctx context.Context, data store.Record) (T, error) {
	var zero T
	rec, err := c.eng.Create(ctx, c.entity, data)
	if err != nil {
		return zero, err
	}
	return decode[T](rec)
}

func (c Collection[T]) CreateMany(ctx context.Context, rows []store.Record, skipDuplicates bool) (int64, error) {
	return c.eng.CreateMany(ctx, c.entity, rows, skipDuplicates)
}

func (c Collection[T]) CreateManyAndReturn(ctx context.Context, rows []store.Record, skipDuplicates bool) ([]T, error) {
	recs, err := c.eng.CreateManyAndReturn(ctx, c.entity, rows, skipDuplicates)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](recs)
}

func (c Collection[T]) Update(ctx context.Context, u query.Unique, data store.Record) (T, error) {
	var zero T
	rec, err := c.eng.Update(ctx, c.entity, u, data)
	if err != nil {
		return zero, err
	}
	return decode[T](rec)
}

func (c Collection[T]) UpdateMany(ctx context.Context, where *query.Where, data store.Record, limit int) (int64, error) {
	return c.eng.UpdateMany(ctx, c.entity, where, data, limit)
}

func (c Collection[T]) UpdateManyAndReturn(ctx context.Context, where *query.Where, data store.Record, limit int) ([]T, error) {
	recs, err := c.eng.UpdateManyAndReturn(ctx, c.entity, where, data, limit)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](recs)
}

func (c Collection[T]) Upsert(ctx context.Context, u query.Unique, create, update store.Record) (T, error) {
	var zero T
	rec, err := c.eng.Upsert(ctx, c.entity, u, create, update)
	if err != nil {
		return zero, err
	}
	return decode[T](rec)
}

// Delete removes the matched row and returns it.
func (c Collection[T]) Delete(ctx context.Context, u query.Unique) (T, error) {
	var zero T
	rec, err := c.eng.Delete(ctx, c.entity, u)
	if err != nil {
		return zero, err
	}
	return decode[T](rec)
}

func (c Collection[T]) DeleteMany(ctx context.Context, where *query.Where, limit int) (int64, error) {
	return c.eng.DeleteMany(ctx, c.entity, where, limit)
}

func (c Collection[T]) Count(ctx context.Context, where *query.Where) (int64, error) {
	return c.eng.Count(ctx, c.entity, where)
}

func (c Collection[T]) Aggregate(ctx context.Context, p query.AggregateParams) (*query.AggregateResult, error) {
	return c.eng.Aggregate(ctx, c.entity, p)
}

func (c Collection[T]) GroupBy(ctx context.Context, p query.GroupByParams) ([]store.Record, error) {
	return c.eng.GroupBy(ctx, c.entity, p)
}

func decode[T any](rec store.Record) (T, error) {
	var out T
	raw, err := json.Marshal(rec)
	if err != nil {
		return out, fmt.Errorf("encoding record: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decoding record: %w", err)
	}
	return out, nil
}

func decodePtr[T any](rec store.Record) (*T, error) {
	out, err := decode[T](rec)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func decodeAll[T any](recs []store.Record) ([]T, error) {
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		v, err := decode[T](rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func encode(v any) (store.Record, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding model: %w", err)
	}
	var rec store.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decoding model: %w", err)
	}
	return rec, nil
}
