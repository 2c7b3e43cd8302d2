// Package bunt provides a persistent entity store backed by tidwall/buntdb.
// Rows are stored as JSON under "row:<entity>:<id>"; unique values are
// reserved under "uniq:<entity>:<field>:<value>" so collisions are detected
// with a single key lookup. buntdb's Update gives atomic commit/rollback.
package bunt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/buntdb"

	"agencydb/internal/domain"
	"agencydb/internal/schema"
	"agencydb/internal/store"
)

type Store struct {
	db       *buntdb.DB
	writerCh chan struct{}
	defaults store.TxOptions
}

// Options configures the database location and transaction defaults.
// Path ":memory:" keeps everything in process memory.
type Options struct {
	Path    string
	MaxWait time.Duration
	Timeout time.Duration
}

// Open opens (or creates) the database at opts.Path.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		opts.Path = ":memory:"
	}
	if opts.MaxWait == 0 {
		opts.MaxWait = 2 * time.Second
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	db, err := buntdb.Open(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: open buntdb at %s: %v", domain.ErrInitialization, opts.Path, err)
	}
	return &Store{
		db:       db,
		writerCh: make(chan struct{}, 1),
		defaults: store.TxOptions{MaxWait: opts.MaxWait, Timeout: opts.Timeout},
	}, nil
}

func (s *Store) View(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(btx *buntdb.Tx) error {
		return fn(&tx{btx: btx})
	})
}

// Update serializes writers up front so MaxWait is honored, then runs fn in
// one buntdb update transaction: an error from fn rolls everything back.
func (s *Store) Update(ctx context.Context, opts store.TxOptions, fn func(store.Tx) error) error {
	maxWait := opts.MaxWait
	if maxWait == 0 {
		maxWait = s.defaults.MaxWait
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = s.defaults.Timeout
	}

	select {
	case s.writerCh <- struct{}{}:
	case <-time.After(maxWait):
		return &domain.TxTimeoutError{Message: fmt.Sprintf("could not acquire transaction within %s", maxWait)}
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.writerCh }()

	started := time.Now()
	err := s.db.Update(func(btx *buntdb.Tx) error {
		if err := fn(&tx{btx: btx, writable: true}); err != nil {
			return err
		}
		if time.Since(started) > timeout {
			return &domain.TxTimeoutError{Message: fmt.Sprintf("transaction exceeded timeout of %s", timeout)}
		}
		return nil
	})
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

type tx struct {
	btx      *buntdb.Tx
	writable bool
}

func rowKey(entity, id string) string { return "row:" + entity + ":" + id }

func uniqKey(entity, field string, value any) string {
	return fmt.Sprintf("uniq:%s:%s:%v", entity, field, value)
}

func (t *tx) Get(entity, id string) (store.Record, error) {
	val, err := t.btx.Get(rowKey(entity, id))
	if err == buntdb.ErrNotFound {
		return nil, &domain.NotFoundError{Message: fmt.Sprintf("%s %q not found", entity, id)}
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(val)
}

func (t *tx) GetByUnique(entity, field string, value any) (store.Record, error) {
	ent, err := schema.Get(entity)
	if err != nil {
		return nil, err
	}
	f := ent.Field(field)
	if f == nil || !f.Unique {
		return nil, &domain.ValidationError{Message: fmt.Sprintf("%q is not a unique field of %s", field, entity)}
	}
	if field == "id" {
		return t.Get(entity, fmt.Sprintf("%v", value))
	}
	id, err := t.btx.Get(uniqKey(entity, field, value))
	if err == buntdb.ErrNotFound {
		return nil, &domain.NotFoundError{Message: fmt.Sprintf("%s with %s=%v not found", entity, field, value)}
	}
	if err != nil {
		return nil, err
	}
	return t.Get(entity, id)
}

func (t *tx) List(entity string) ([]store.Record, error) {
	if _, err := schema.Get(entity); err != nil {
		return nil, err
	}
	prefix := "row:" + entity + ":"
	var rows []store.Record
	var decodeErr error
	err := t.btx.AscendKeys(prefix+"*", func(key, val string) bool {
		if !strings.HasPrefix(key, prefix) {
			return true
		}
		rec, err := decodeRecord(val)
		if err != nil {
			decodeErr = err
			return false
		}
		rows = append(rows, rec)
		return true
	})
	if err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return rows, nil
}

func (t *tx) Insert(entity string, rec store.Record) error {
	ent, err := schema.Get(entity)
	if err != nil {
		return err
	}
	id := rec.ID()
	if id == "" {
		return &domain.ValidationError{Message: "record has no id"}
	}
	if _, err := t.btx.Get(rowKey(entity, id)); err == nil {
		return &domain.UniqueConstraintError{
			Message: fmt.Sprintf("%s.id already holds %q", entity, id),
			Entity:  entity,
			Field:   "id",
		}
	}
	if err := t.reserveUniques(ent, rec, id); err != nil {
		return err
	}
	return t.setRow(entity, rec)
}

func (t *tx) Update(entity string, rec store.Record) error {
	ent, err := schema.Get(entity)
	if err != nil {
		return err
	}
	id := rec.ID()
	old, err := t.Get(entity, id)
	if err != nil {
		return err
	}
	// Check new values before releasing the old reservations so a failed
	// update leaves the index as it was.
	for _, field := range nonIDUniques(ent) {
		val, ok := rec[field]
		if !ok || val == nil {
			continue
		}
		if holder, err := t.btx.Get(uniqKey(entity, field, val)); err == nil && holder != id {
			return &domain.UniqueConstraintError{
				Message: fmt.Sprintf("%s.%s already holds %v", entity, field, val),
				Entity:  entity,
				Field:   field,
			}
		}
	}
	for _, field := range nonIDUniques(ent) {
		if val, ok := old[field]; ok && val != nil {
			if _, err := t.btx.Delete(uniqKey(entity, field, val)); err != nil && err != buntdb.ErrNotFound {
				return err
			}
		}
	}
	if err := t.reserveUniques(ent, rec, id); err != nil {
		return err
	}
	return t.setRow(entity, rec)
}

func (t *tx) Delete(entity, id string) error {
	ent, err := schema.Get(entity)
	if err != nil {
		return err
	}
	old, err := t.Get(entity, id)
	if err != nil {
		return err
	}
	for _, field := range nonIDUniques(ent) {
		if val, ok := old[field]; ok && val != nil {
			if _, err := t.btx.Delete(uniqKey(entity, field, val)); err != nil && err != buntdb.ErrNotFound {
				return err
			}
		}
	}
	if _, err := t.btx.Delete(rowKey(entity, id)); err != nil {
		return err
	}
	return nil
}

// reserveUniques checks every unique value before writing any reservation so
// a rejected write leaves no partial index entries behind.
func (t *tx) reserveUniques(ent *schema.Entity, rec store.Record, id string) error {
	var keys []string
	for _, field := range nonIDUniques(ent) {
		val, ok := rec[field]
		if !ok || val == nil {
			continue
		}
		key := uniqKey(ent.Name, field, val)
		if holder, err := t.btx.Get(key); err == nil && holder != id {
			return &domain.UniqueConstraintError{
				Message: fmt.Sprintf("%s.%s already holds %v", ent.Name, field, val),
				Entity:  ent.Name,
				Field:   field,
			}
		}
		keys = append(keys, key)
	}
	for _, key := range keys {
		if _, _, err := t.btx.Set(key, id, nil); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) setRow(entity string, rec store.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s row: %w", entity, err)
	}
	_, _, err = t.btx.Set(rowKey(entity, rec.ID()), string(payload), nil)
	return err
}

func nonIDUniques(ent *schema.Entity) []string {
	fields := ent.UniqueFields()
	out := fields[:0:0]
	for _, f := range fields {
		if f != "id" {
			out = append(out, f)
		}
	}
	return out
}

func decodeRecord(val string) (store.Record, error) {
	var rec store.Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	return rec, nil
}
