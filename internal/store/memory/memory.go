// Package memory provides the in-memory entity store: map-backed tables with
// unique indexes, a single-writer transaction model, and snapshot rollback.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"agencydb/internal/domain"
	"agencydb/internal/schema"
	"agencydb/internal/store"
)

// Store keeps one table per entity. Writers serialize on a whole-store lock
// held for the life of the transaction, so every isolation level behaves as
// serializable.
type Store struct {
	mu sync.RWMutex

	tables map[string]map[string]store.Record
	// unique: entity -> field -> value key -> row id
	unique map[string]map[string]map[string]string

	defaults store.TxOptions
}

// Options configures transaction defaults.
type Options struct {
	MaxWait time.Duration
	Timeout time.Duration
}

// New creates an empty store with a table per registered entity.
func New(opts Options) *Store {
	if opts.MaxWait == 0 {
		opts.MaxWait = 2 * time.Second
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	s := &Store{
		tables:   map[string]map[string]store.Record{},
		unique:   map[string]map[string]map[string]string{},
		defaults: store.TxOptions{MaxWait: opts.MaxWait, Timeout: opts.Timeout},
	}
	for _, ent := range schema.All() {
		s.tables[ent.Name] = map[string]store.Record{}
		idx := map[string]map[string]string{}
		for _, field := range ent.UniqueFields() {
			idx[field] = map[string]string{}
		}
		s.unique[ent.Name] = idx
	}
	return s
}

// View runs fn with a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(store.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&tx{store: s, readOnly: true})
}

// Update runs fn with a writable transaction. The store lock is acquired
// within opts.MaxWait or the call fails with a transaction timeout. Any error
// from fn restores the pre-transaction snapshot of every touched table.
func (s *Store) Update(ctx context.Context, opts store.TxOptions, fn func(store.Tx) error) error {
	maxWait := opts.MaxWait
	if maxWait == 0 {
		maxWait = s.defaults.MaxWait
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = s.defaults.Timeout
	}

	if err := s.acquire(ctx, maxWait); err != nil {
		return err
	}
	defer s.mu.Unlock()

	t := &tx{store: s, backupTables: map[string]map[string]store.Record{}, backupUnique: map[string]map[string]map[string]string{}}
	started := time.Now()
	err := fn(t)
	if err == nil && time.Since(started) > timeout {
		err = &domain.TxTimeoutError{Message: fmt.Sprintf("transaction exceeded timeout of %s", timeout)}
	}
	if err != nil {
		t.rollback()
		return err
	}
	return nil
}

// acquire takes the write lock, bounded by maxWait and ctx.
func (s *Store) acquire(ctx context.Context, maxWait time.Duration) error {
	locked := make(chan struct{})
	go func() {
		s.mu.Lock()
		close(locked)
	}()
	select {
	case <-locked:
		return nil
	case <-time.After(maxWait):
		go func() {
			<-locked
			s.mu.Unlock()
		}()
		return &domain.TxTimeoutError{Message: fmt.Sprintf("could not acquire transaction within %s", maxWait)}
	case <-ctx.Done():
		go func() {
			<-locked
			s.mu.Unlock()
		}()
		return ctx.Err()
	}
}

// Close releases the store. The in-memory backend has nothing to flush.
func (s *Store) Close() error { return nil }

type tx struct {
	store    *Store
	readOnly bool

	backupTables map[string]map[string]store.Record
	backupUnique map[string]map[string]map[string]string
}

func (t *tx) table(entity string) (map[string]store.Record, error) {
	table, ok := t.store.tables[entity]
	if !ok {
		return nil, &domain.ValidationError{Message: fmt.Sprintf("unknown entity %q", entity)}
	}
	return table, nil
}

// touch snapshots an entity's table and unique index before its first
// mutation in this transaction.
func (t *tx) touch(entity string) {
	if _, done := t.backupTables[entity]; done {
		return
	}
	table := t.store.tables[entity]
	cp := make(map[string]store.Record, len(table))
	for id, rec := range table {
		cp[id] = rec
	}
	t.backupTables[entity] = cp

	idxCp := map[string]map[string]string{}
	for field, byValue := range t.store.unique[entity] {
		fieldCp := make(map[string]string, len(byValue))
		for k, v := range byValue {
			fieldCp[k] = v
		}
		idxCp[field] = fieldCp
	}
	t.backupUnique[entity] = idxCp
}

func (t *tx) rollback() {
	for entity, table := range t.backupTables {
		t.store.tables[entity] = table
	}
	for entity, idx := range t.backupUnique {
		t.store.unique[entity] = idx
	}
}

func (t *tx) Get(entity, id string) (store.Record, error) {
	table, err := t.table(entity)
	if err != nil {
		return nil, err
	}
	rec, ok := table[id]
	if !ok {
		return nil, &domain.NotFoundError{Message: fmt.Sprintf("%s %q not found", entity, id)}
	}
	return rec.Clone(), nil
}

func (t *tx) GetByUnique(entity, field string, value any) (store.Record, error) {
	table, err := t.table(entity)
	if err != nil {
		return nil, err
	}
	byValue, ok := t.store.unique[entity][field]
	if !ok {
		return nil, &domain.ValidationError{Message: fmt.Sprintf("%q is not a unique field of %s", field, entity)}
	}
	id, ok := byValue[uniqueKey(value)]
	if !ok {
		return nil, &domain.NotFoundError{Message: fmt.Sprintf("%s with %s=%v not found", entity, field, value)}
	}
	return table[id].Clone(), nil
}

func (t *tx) List(entity string) ([]store.Record, error) {
	table, err := t.table(entity)
	if err != nil {
		return nil, err
	}
	out := make([]store.Record, 0, len(table))
	for _, rec := range table {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (t *tx) Insert(entity string, rec store.Record) error {
	if t.readOnly {
		return &domain.ValidationError{Message: "insert in read-only transaction"}
	}
	table, err := t.table(entity)
	if err != nil {
		return err
	}
	id := rec.ID()
	if id == "" {
		return &domain.ValidationError{Message: "record has no id"}
	}

	for _, e := range uniqueEntries(entity, rec) {
		if _, exists := t.store.unique[entity][e.field][e.key]; exists {
			return &domain.UniqueConstraintError{
				Message: fmt.Sprintf("%s.%s already holds %v", entity, e.field, rec[e.field]),
				Entity:  entity,
				Field:   e.field,
			}
		}
	}

	t.touch(entity)
	table[id] = rec.Clone()
	for _, e := range uniqueEntries(entity, rec) {
		t.store.unique[entity][e.field][e.key] = id
	}
	return nil
}

func (t *tx) Update(entity string, rec store.Record) error {
	if t.readOnly {
		return &domain.ValidationError{Message: "update in read-only transaction"}
	}
	table, err := t.table(entity)
	if err != nil {
		return err
	}
	id := rec.ID()
	old, ok := table[id]
	if !ok {
		return &domain.NotFoundError{Message: fmt.Sprintf("%s %q not found", entity, id)}
	}

	for _, e := range uniqueEntries(entity, rec) {
		if holder, exists := t.store.unique[entity][e.field][e.key]; exists && holder != id {
			return &domain.UniqueConstraintError{
				Message: fmt.Sprintf("%s.%s already holds %v", entity, e.field, rec[e.field]),
				Entity:  entity,
				Field:   e.field,
			}
		}
	}

	t.touch(entity)
	for _, e := range uniqueEntries(entity, old) {
		delete(t.store.unique[entity][e.field], e.key)
	}
	table[id] = rec.Clone()
	for _, e := range uniqueEntries(entity, rec) {
		t.store.unique[entity][e.field][e.key] = id
	}
	return nil
}

func (t *tx) Delete(entity, id string) error {
	if t.readOnly {
		return &domain.ValidationError{Message: "delete in read-only transaction"}
	}
	table, err := t.table(entity)
	if err != nil {
		return err
	}
	old, ok := table[id]
	if !ok {
		return &domain.NotFoundError{Message: fmt.Sprintf("%s %q not found", entity, id)}
	}
	t.touch(entity)
	for _, e := range uniqueEntries(entity, old) {
		delete(t.store.unique[entity][e.field], e.key)
	}
	delete(table, id)
	return nil
}

type uniqueEntry struct {
	field string
	key   string
}

// uniqueEntries lists the unique (field, value-key) pairs a record occupies.
// Null or absent unique values occupy nothing.
func uniqueEntries(entity string, rec store.Record) []uniqueEntry {
	ent, err := schema.Get(entity)
	if err != nil {
		return nil
	}
	var out []uniqueEntry
	for _, field := range ent.UniqueFields() {
		val, ok := rec[field]
		if !ok || val == nil {
			continue
		}
		out = append(out, uniqueEntry{field: field, key: uniqueKey(val)})
	}
	return out
}

func uniqueKey(v any) string {
	return fmt.Sprintf("%v", v)
}
