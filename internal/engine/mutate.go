package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agencydb/internal/domain"
	"agencydb/internal/query"
	"agencydb/internal/schema"
	"agencydb/internal/store"
)

// relWrite is a nested relation mutation parsed out of create/update data.
type relWrite struct {
	connect    []query.Unique
	create     []store.Record
	disconnect bool
}

// Create inserts a new row, filling in id and timestamps, and applies any
// nested relation writes in the same transaction.
func (e *Engine) Create(ctx context.Context, entity string, data store.Record) (store.Record, error) {
	ent, err := schema.Get(entity)
	if err != nil {
		return nil, err
	}
	data, err = normalize(data)
	if err != nil {
		return nil, err
	}

	var out store.Record
	err = e.write(ctx, func(tx store.Tx) error {
		rec, err := e.createInTx(tx, ent, data)
		if err != nil {
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

// CreateMany inserts rows in bulk and reports how many landed. Nested
// relation writes are not accepted here.
func (e *Engine) CreateMany(ctx context.Context, entity string, rows []store.Record, skipDuplicates bool) (int64, error) {
	created, err := e.createMany(ctx, entity, rows, skipDuplicates)
	if err != nil {
		return 0, err
	}
	return int64(len(created)), nil
}

// CreateManyAndReturn is CreateMany that also hands back the inserted rows.
func (e *Engine) CreateManyAndReturn(ctx context.Context, entity string, rows []store.Record, skipDuplicates bool) ([]store.Record, error) {
	return e.createMany(ctx, entity, rows, skipDuplicates)
}

func (e *Engine) createMany(ctx context.Context, entity string, rows []store.Record, skipDuplicates bool) ([]store.Record, error) {
	ent, err := schema.Get(entity)
	if err != nil {
		return nil, err
	}

	var out []store.Record
	err = e.write(ctx, func(tx store.Tx) error {
		for i, data := range rows {
			data, err := normalize(data)
			if err != nil {
				return err
			}
			scalars, rels, err := splitMutationData(ent, data)
			if err != nil {
				return err
			}
			if len(rels) > 0 {
				return &domain.ValidationError{
					Message: fmt.Sprintf("createMany row %d: nested relation writes are not supported", i),
				}
			}
			rec, err := e.buildNewRow(ent, scalars)
			if err != nil {
				return err
			}
			if err := tx.Insert(ent.Name, rec); err != nil {
				var uniq *domain.UniqueConstraintError
				if skipDuplicates && errors.As(err, &uniq) {
					continue
				}
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update modifies the row addressed by the unique lookup. Missing rows fail
// with NotFound.
func (e *Engine) Update(ctx context.Context, entity string, u query.Unique, data store.Record) (store.Record, error) {
	ent, err := schema.Get(entity)
	if err != nil {
		return nil, err
	}
	if err := query.ValidateUnique(ent, u); err != nil {
		return nil, err
	}
	data, err = normalize(data)
	if err != nil {
		return nil, err
	}

	var out store.Record
	err = e.write(ctx, func(tx store.Tx) error {
		old, err := lookupUnique(tx, ent, u)
		if err != nil {
			return err
		}
		rec, err := e.updateInTx(tx, ent, old, data)
		if err != nil {
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

// UpdateMany applies the same scalar changes to every row matching where, up
// to limit when limit is positive, and reports how many rows changed.
func (e *Engine) UpdateMany(ctx context.Context, entity string, where *query.Where, data store.Record, limit int) (int64, error) {
	changed, err := e.updateMany(ctx, entity, where, data, limit)
	if err != nil {
		return 0, err
	}
	return int64(len(changed)), nil
}

// UpdateManyAndReturn is UpdateMany that also hands back the updated rows.
func (e *Engine) UpdateManyAndReturn(ctx context.Context, entity string, where *query.Where, data store.Record, limit int) ([]store.Record, error) {
	return e.updateMany(ctx, entity, where, data, limit)
}

func (e *Engine) updateMany(ctx context.Context, entity string, where *query.Where, data store.Record, limit int) ([]store.Record, error) {
	ent, err := schema.Get(entity)
	if err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, &domain.ValidationError{Message: "limit must not be negative"}
	}
	data, err = normalize(data)
	if err != nil {
		return nil, err
	}
	scalars, rels, err := splitMutationData(ent, data)
	if err != nil {
		return nil, err
	}
	if len(rels) > 0 {
		return nil, &domain.ValidationError{Message: "updateMany does not support nested relation writes"}
	}

	var out []store.Record
	err = e.write(ctx, func(tx store.Tx) error {
		rows, err := e.collect(tx, ent, where)
		if err != nil {
			return err
		}
		sortRecords(ent, rows, nil)
		if limit > 0 && len(rows) > limit {
			rows = rows[:limit]
		}
		for _, old := range rows {
			rec, err := e.applyScalarUpdates(ent, old, scalars)
			if err != nil {
				return err
			}
			if err := tx.Update(ent.Name, rec); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Upsert updates the row addressed by the unique lookup, or creates it when
// no row exists yet.
func (e *Engine) Upsert(ctx context.Context, entity string, u query.Unique, createData, updateData store.Record) (store.Record, error) {
	ent, err := schema.Get(entity)
	if err != nil {
		return nil, err
	}
	if err := query.ValidateUnique(ent, u); err != nil {
		return nil, err
	}
	createData, err = normalize(createData)
	if err != nil {
		return nil, err
	}
	updateData, err = normalize(updateData)
	if err != nil {
		return nil, err
	}

	var out store.Record
	err = e.write(ctx, func(tx store.Tx) error {
		old, err := lookupUnique(tx, ent, u)
		switch {
		case err == nil:
			rec, err := e.updateInTx(tx, ent, old, updateData)
			if err != nil {
				return err
			}
			out = rec
			return nil
		case errorsIsNotFound(err):
			data := createData.Clone()
			// The lookup key seeds the new row so the upsert target exists
			// afterwards even when create data omits it.
			for field, value := range u {
				if _, ok := data[field]; !ok {
					data[field] = value
				}
			}
			rec, err := e.createInTx(tx, ent, data)
			if err != nil {
				return err
			}
			out = rec
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the row addressed by the unique lookup and returns it.
// Missing rows fail with NotFound.
func (e *Engine) Delete(ctx context.Context, entity string, u query.Unique) (store.Record, error) {
	ent, err := schema.Get(entity)
	if err != nil {
		return nil, err
	}
	if err := query.ValidateUnique(ent, u); err != nil {
		return nil, err
	}

	var out store.Record
	err = e.write(ctx, func(tx store.Tx) error {
		old, err := lookupUnique(tx, ent, u)
		if err != nil {
			return err
		}
		if err := tx.Delete(ent.Name, old.ID()); err != nil {
			return err
		}
		out = old
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteMany removes every row matching where, up to limit when limit is
// positive, and reports how many rows went away.
func (e *Engine) DeleteMany(ctx context.Context, entity string, where *query.Where, limit int) (int64, error) {
	ent, err := schema.Get(entity)
	if err != nil {
		return 0, err
	}
	if limit < 0 {
		return 0, &domain.ValidationError{Message: "limit must not be negative"}
	}

	var count int64
	err = e.write(ctx, func(tx store.Tx) error {
		rows, err := e.collect(tx, ent, where)
		if err != nil {
			return err
		}
		sortRecords(ent, rows, nil)
		if limit > 0 && len(rows) > limit {
			rows = rows[:limit]
		}
		for _, row := range rows {
			if err := tx.Delete(ent.Name, row.ID()); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// createInTx builds and inserts one row, recursing into nested creates.
// Foreign keys held on this row are resolved before the insert; rows on the
// far side of a relation are written after it.
func (e *Engine) createInTx(tx store.Tx, ent *schema.Entity, data store.Record) (store.Record, error) {
	scalars, rels, err := splitMutationData(ent, data)
	if err != nil {
		return nil, err
	}
	rec, err := e.buildNewRow(ent, scalars)
	if err != nil {
		return nil, err
	}

	for name, rw := range rels {
		rel := ent.Relation(name)
		if !rel.FKOnSelf {
			continue
		}
		if rw.disconnect {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("%s.%s: disconnect is not valid on create", ent.Name, name),
			}
		}
		id, err := e.resolveToOne(tx, ent, rel, rw)
		if err != nil {
			return nil, err
		}
		rec[rel.FKField] = id
	}

	if err := requireFields(ent, rec); err != nil {
		return nil, err
	}
	if err := tx.Insert(ent.Name, rec); err != nil {
		return nil, err
	}

	for name, rw := range rels {
		rel := ent.Relation(name)
		if rel.FKOnSelf {
			continue
		}
		if err := e.writeFarSide(tx, ent, rel, rec.ID(), rw); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// updateInTx applies scalar and relation changes to an existing row.
func (e *Engine) updateInTx(tx store.Tx, ent *schema.Entity, old store.Record, data store.Record) (store.Record, error) {
	scalars, rels, err := splitMutationData(ent, data)
	if err != nil {
		return nil, err
	}
	rec, err := e.applyScalarUpdates(ent, old, scalars)
	if err != nil {
		return nil, err
	}

	for name, rw := range rels {
		rel := ent.Relation(name)
		if !rel.FKOnSelf {
			continue
		}
		if rw.disconnect {
			rec[rel.FKField] = nil
			continue
		}
		id, err := e.resolveToOne(tx, ent, rel, rw)
		if err != nil {
			return nil, err
		}
		rec[rel.FKField] = id
	}

	if err := tx.Update(ent.Name, rec); err != nil {
		return nil, err
	}

	for name, rw := range rels {
		rel := ent.Relation(name)
		if rel.FKOnSelf {
			continue
		}
		if err := e.writeFarSide(tx, ent, rel, rec.ID(), rw); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// resolveToOne turns a connect or nested create into the id the FK on this
// row should point at.
func (e *Engine) resolveToOne(tx store.Tx, ent *schema.Entity, rel *schema.Relation, rw relWrite) (string, error) {
	target, err := schema.Get(rel.Target)
	if err != nil {
		return "", err
	}
	if len(rw.connect)+len(rw.create) != 1 {
		return "", &domain.ValidationError{
			Message: fmt.Sprintf("%s.%s: exactly one connect or create is required", ent.Name, rel.Name),
		}
	}
	if len(rw.connect) == 1 {
		if err := query.ValidateUnique(target, rw.connect[0]); err != nil {
			return "", err
		}
		row, err := lookupUnique(tx, target, rw.connect[0])
		if err != nil {
			return "", err
		}
		return row.ID(), nil
	}
	row, err := e.createInTx(tx, target, rw.create[0])
	if err != nil {
		return "", err
	}
	return row.ID(), nil
}

// writeFarSide applies connect/create/disconnect to rows whose FK points back
// at parentID.
func (e *Engine) writeFarSide(tx store.Tx, ent *schema.Entity, rel *schema.Relation, parentID string, rw relWrite) error {
	target, err := schema.Get(rel.Target)
	if err != nil {
		return err
	}
	if rw.disconnect {
		rows, err := tx.List(target.Name)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if fmt.Sprintf("%v", row[rel.FKField]) != parentID || row[rel.FKField] == nil {
				continue
			}
			next := row.Clone()
			next[rel.FKField] = nil
			e.touch(target, row, next)
			if err := tx.Update(target.Name, next); err != nil {
				return err
			}
		}
	}
	for _, u := range rw.connect {
		if err := query.ValidateUnique(target, u); err != nil {
			return err
		}
		row, err := lookupUnique(tx, target, u)
		if err != nil {
			return err
		}
		next := row.Clone()
		next[rel.FKField] = parentID
		e.touch(target, row, next)
		if err := tx.Update(target.Name, next); err != nil {
			return err
		}
	}
	for _, data := range rw.create {
		child := data.Clone()
		child[rel.FKField] = parentID
		if _, err := e.createInTx(tx, target, child); err != nil {
			return err
		}
	}
	return nil
}

// buildNewRow fills defaults into create data: a fresh id unless one was
// given, createdAt/updatedAt, and empty slices for absent list fields.
func (e *Engine) buildNewRow(ent *schema.Entity, scalars store.Record) (store.Record, error) {
	rec := store.Record{}
	for name, val := range scalars {
		f := ent.Field(name)
		applied, err := applyFieldValue(ent, f, nil, val, false)
		if err != nil {
			return nil, err
		}
		rec[name] = applied
	}
	if _, ok := rec["id"]; !ok {
		rec["id"] = e.newID()
	}
	now := e.timestamp()
	if _, ok := rec["createdAt"]; !ok {
		rec["createdAt"] = now
	}
	if ent.HasUpdatedAt() {
		if _, ok := rec["updatedAt"]; !ok {
			rec["updatedAt"] = now
		}
	}
	for _, f := range ent.Fields {
		if f.Kind == schema.KindStringList {
			if v, ok := rec[f.Name]; !ok || v == nil {
				rec[f.Name] = []any{}
			}
		}
	}
	return rec, nil
}

// applyScalarUpdates merges scalar changes into a copy of old, bumping
// updatedAt so it strictly increases across successive writes.
func (e *Engine) applyScalarUpdates(ent *schema.Entity, old store.Record, scalars store.Record) (store.Record, error) {
	rec := old.Clone()
	for name, val := range scalars {
		if name == "id" {
			return nil, &domain.ValidationError{Message: ent.Name + ".id cannot be changed"}
		}
		f := ent.Field(name)
		applied, err := applyFieldValue(ent, f, rec[name], val, true)
		if err != nil {
			return nil, err
		}
		rec[name] = applied
	}
	if err := requireFields(ent, rec); err != nil {
		return nil, err
	}
	e.touch(ent, old, rec)
	return rec, nil
}

// touch bumps updatedAt on rec, keeping it strictly after the previous value
// even when the clock has not moved.
func (e *Engine) touch(ent *schema.Entity, old, rec store.Record) {
	if !ent.HasUpdatedAt() {
		return
	}
	now := e.now().UTC()
	if prev, ok := query.Time(old["updatedAt"]); ok && !now.After(prev) {
		now = prev.Add(time.Nanosecond)
	}
	rec["updatedAt"] = now.Format(time.RFC3339Nano)
}

// applyFieldValue unwraps {set: v} and, on updates of list fields, {push: v}.
func applyFieldValue(ent *schema.Entity, f *schema.Field, current, val any, updating bool) (any, error) {
	m, ok := val.(map[string]any)
	if !ok {
		return val, nil
	}
	if set, ok := m["set"]; ok && len(m) == 1 {
		return set, nil
	}
	if push, ok := m["push"]; ok && len(m) == 1 {
		if f.Kind != schema.KindStringList {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("%s.%s: push is only valid on list fields", ent.Name, f.Name),
			}
		}
		if !updating {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("%s.%s: push is not valid on create", ent.Name, f.Name),
			}
		}
		list, _ := current.([]any)
		out := append([]any{}, list...)
		if items, ok := push.([]any); ok {
			out = append(out, items...)
		} else {
			out = append(out, push)
		}
		return out, nil
	}
	return nil, &domain.ValidationError{
		Message: fmt.Sprintf("%s.%s: unsupported update operation", ent.Name, f.Name),
	}
}

// splitMutationData separates create/update data into scalar field values and
// parsed relation writes, rejecting unknown keys.
func splitMutationData(ent *schema.Entity, data store.Record) (store.Record, map[string]relWrite, error) {
	scalars := store.Record{}
	rels := map[string]relWrite{}
	for key, val := range data {
		if f := ent.Field(key); f != nil {
			scalars[key] = val
			continue
		}
		rel := ent.Relation(key)
		if rel == nil {
			return nil, nil, &domain.ValidationError{
				Message: fmt.Sprintf("%s has no field or relation %q", ent.Name, key),
			}
		}
		rw, err := parseRelWrite(ent, rel, val)
		if err != nil {
			return nil, nil, err
		}
		rels[key] = rw
	}
	return scalars, rels, nil
}

func parseRelWrite(ent *schema.Entity, rel *schema.Relation, val any) (relWrite, error) {
	var rw relWrite
	m, ok := val.(map[string]any)
	if !ok {
		return rw, &domain.ValidationError{
			Message: fmt.Sprintf("%s.%s: relation writes must be an object", ent.Name, rel.Name),
		}
	}
	for op, arg := range m {
		switch op {
		case "connect":
			for _, item := range oneOrMany(arg) {
				u, ok := item.(map[string]any)
				if !ok {
					return rw, &domain.ValidationError{
						Message: fmt.Sprintf("%s.%s: connect takes unique lookups", ent.Name, rel.Name),
					}
				}
				rw.connect = append(rw.connect, query.Unique(u))
			}
		case "create":
			for _, item := range oneOrMany(arg) {
				data, ok := item.(map[string]any)
				if !ok {
					return rw, &domain.ValidationError{
						Message: fmt.Sprintf("%s.%s: create takes objects", ent.Name, rel.Name),
					}
				}
				rw.create = append(rw.create, store.Record(data))
			}
		case "disconnect":
			b, ok := arg.(bool)
			if !ok || !b {
				return rw, &domain.ValidationError{
					Message: fmt.Sprintf("%s.%s: disconnect takes true", ent.Name, rel.Name),
				}
			}
			rw.disconnect = true
		default:
			return rw, &domain.ValidationError{
				Message: fmt.Sprintf("%s.%s: unsupported relation operation %q", ent.Name, rel.Name, op),
			}
		}
	}
	if rel.Kind == schema.ToOne && len(rw.connect)+len(rw.create) > 1 {
		return rw, &domain.ValidationError{
			Message: fmt.Sprintf("%s.%s: to-one relations take a single connect or create", ent.Name, rel.Name),
		}
	}
	return rw, nil
}

// oneOrMany treats a bare object as a single-element batch.
func oneOrMany(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{v}
}

// requireFields rejects rows missing a required value.
func requireFields(ent *schema.Entity, rec store.Record) error {
	for _, f := range ent.Fields {
		if !f.Required {
			continue
		}
		if v, ok := rec[f.Name]; !ok || v == nil {
			return &domain.ValidationError{
				Message: fmt.Sprintf("%s.%s is required", ent.Name, f.Name),
			}
		}
	}
	return nil
}
