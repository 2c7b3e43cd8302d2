package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"agencydb/internal/domain"
	"agencydb/internal/query"
	"agencydb/internal/schema"
	"agencydb/internal/store"
)

// FindMany returns the rows matching p, ordered and paginated.
func (e *Engine) FindMany(ctx context.Context, entity string, p query.FindManyParams) ([]store.Record, error) {
	ent, err := schema.Get(entity)
	if err != nil {
		return nil, err
	}
	if err := query.ValidateFindMany(ent, p); err != nil {
		return nil, err
	}

	var out []store.Record
	err = e.read(ctx, func(tx store.Tx) error {
		rows, err := e.collect(tx, ent, p.Where)
		if err != nil {
			return err
		}
		sortRecords(ent, rows, p.OrderBy)
		if len(p.Distinct) > 0 {
			rows = distinctRecords(ent, rows, p.Distinct)
		}
		out, err = paginate(ent, rows, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FindUnique returns the row identified by the unique-where, or nil.
func (e *Engine) FindUnique(ctx context.Context, entity string, u query.Unique) (store.Record, error) {
	ent, err := schema.Get(entity)
	if err != nil {
		return nil, err
	}
	if err := query.ValidateUnique(ent, u); err != nil {
		return nil, err
	}

	var out store.Record
	err = e.read(ctx, func(tx store.Tx) error {
		rec, err := lookupUnique(tx, ent, u)
		if err != nil {
			if errorsIsNotFound(err) {
				return nil
			}
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FindUniqueOrThrow is FindUnique that fails with NotFound instead of
// returning nil.
func (e *Engine) FindUniqueOrThrow(ctx context.Context, entity string, u query.Unique) (store.Record, error) {
	rec, err := e.FindUnique(ctx, entity, u)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &domain.NotFoundError{Message: fmt.Sprintf("%s matching %v not found", entity, u)}
	}
	return rec, nil
}

// FindFirst returns the first matching row under the given ordering, or nil.
func (e *Engine) FindFirst(ctx context.Context, entity string, p query.FindFirstParams) (store.Record, error) {
	rows, err := e.FindMany(ctx, entity, query.FindManyParams{Where: p.Where, OrderBy: p.OrderBy})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// FindFirstOrThrow is FindFirst that fails with NotFound instead of
// returning nil.
func (e *Engine) FindFirstOrThrow(ctx context.Context, entity string, p query.FindFirstParams) (store.Record, error) {
	rec, err := e.FindFirst(ctx, entity, p)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &domain.NotFoundError{Message: fmt.Sprintf("no %s matches the filter", entity)}
	}
	return rec, nil
}

// Count returns the number of rows matching where.
func (e *Engine) Count(ctx context.Context, entity string, where *query.Where) (int64, error) {
	ent, err := schema.Get(entity)
	if err != nil {
		return 0, err
	}
	var n int64
	err = e.read(ctx, func(tx store.Tx) error {
		rows, err := e.collect(tx, ent, where)
		if err != nil {
			return err
		}
		n = int64(len(rows))
		return nil
	})
	return n, err
}

// collect lists an entity's rows and keeps those matching the filter.
func (e *Engine) collect(tx store.Tx, ent *schema.Entity, where *query.Where) ([]store.Record, error) {
	rows, err := tx.List(ent.Name)
	if err != nil {
		return nil, err
	}
	if where == nil {
		return rows, nil
	}
	resolve := e.resolver(tx)
	kept := rows[:0]
	for _, row := range rows {
		ok, err := query.Match(ent, row, where, resolve)
		if err != nil {
			return nil, err
		}
		if ok {
			kept = append(kept, row)
		}
	}
	return kept, nil
}

// lookupUnique fetches a row by its single unique field.
func lookupUnique(tx store.Tx, ent *schema.Entity, u query.Unique) (store.Record, error) {
	for field, value := range u {
		if field == "id" {
			return tx.Get(ent.Name, fmt.Sprintf("%v", value))
		}
		return tx.GetByUnique(ent.Name, field, value)
	}
	return nil, &domain.ValidationError{Message: "empty unique lookup"}
}

// sortRecords orders rows by the orderBy list, ties broken by primary key so
// pagination is deterministic.
func sortRecords(ent *schema.Entity, rows []store.Record, orderBy []query.Order) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range orderBy {
			kind := ent.Field(o.Field).Kind
			cmp := query.Compare(kind, rows[i][o.Field], rows[j][o.Field])
			if cmp != 0 {
				if o.Desc {
					return cmp > 0
				}
				return cmp < 0
			}
		}
		return rows[i].ID() < rows[j].ID()
	})
}

// distinctRecords keeps the first row for each distinct combination of the
// given fields, preserving order.
func distinctRecords(ent *schema.Entity, rows []store.Record, fields []string) []store.Record {
	seen := map[string]bool{}
	out := rows[:0]
	for _, row := range rows {
		var key strings.Builder
		for _, f := range fields {
			fmt.Fprintf(&key, "%v\x00", row[f])
		}
		if seen[key.String()] {
			continue
		}
		seen[key.String()] = true
		out = append(out, row)
	}
	return out
}

// paginate applies cursor, skip, and signed take. A positive take reads
// forward from the cursor row (inclusive); a negative take reads the window
// that ends at the cursor row. Skip offsets away from the cursor before
// taking. A cursor that matches no row yields an empty page.
func paginate(ent *schema.Entity, rows []store.Record, p query.FindManyParams) ([]store.Record, error) {
	idx := 0
	hasCursor := len(p.Cursor) > 0
	if hasCursor {
		idx = -1
		for i, row := range rows {
			if cursorMatches(ent, row, p.Cursor) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, nil
		}
	}

	if p.Take != nil && *p.Take < 0 {
		n := -*p.Take
		end := len(rows) - p.Skip
		if hasCursor {
			end = idx + 1 - p.Skip
		}
		start := end - n
		if start < 0 {
			start = 0
		}
		if end < start {
			return nil, nil
		}
		if end > len(rows) {
			end = len(rows)
		}
		return rows[start:end], nil
	}

	start := idx + p.Skip
	if start > len(rows) {
		return nil, nil
	}
	end := len(rows)
	if p.Take != nil && start+*p.Take < end {
		end = start + *p.Take
	}
	return rows[start:end], nil
}

func cursorMatches(ent *schema.Entity, row store.Record, cursor query.Unique) bool {
	for field, value := range cursor {
		kind := ent.Field(field).Kind
		if !query.Equal(kind, row[field], value, false) {
			return false
		}
	}
	return true
}

func errorsIsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
