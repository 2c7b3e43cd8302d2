// Package store defines the entity-store contract the query and mutation
// executors run against, along with the record representation shared by all
// backends.
package store

import (
	"context"
	"time"
)

// Record is one row in JSON-typed form: string, float64, bool, nil,
// []any for list fields. Every record carries its primary key under "id".
type Record map[string]any

// ID returns the primary key of the record, or "" if unset.
func (r Record) ID() string {
	s, _ := r["id"].(string)
	return s
}

// Clone returns a deep copy; backends return clones so callers can mutate
// results without aliasing stored rows.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		if list, ok := v.([]any); ok {
			cp := make([]any, len(list))
			copy(cp, list)
			out[k] = cp
			continue
		}
		out[k] = v
	}
	return out
}

// IsolationLevel mirrors the standard SQL isolation levels. Non-SQL backends
// run single-writer and treat every level as serializable.
type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
	Serializable
)

// TxOptions bounds a transaction. MaxWait limits how long the caller waits to
// acquire the transaction resource; Timeout limits the transaction body.
// Zero values fall back to the store's configured defaults.
type TxOptions struct {
	Isolation IsolationLevel
	MaxWait   time.Duration
	Timeout   time.Duration
}

// Tx is the per-transaction view of the store. Entity names are schema names;
// lookups that match nothing fail with domain.ErrNotFound, inserts and
// updates that collide on a unique field fail with a UniqueConstraintError.
type Tx interface {
	Get(entity, id string) (Record, error)
	GetByUnique(entity, field string, value any) (Record, error)
	List(entity string) ([]Record, error)
	Insert(entity string, rec Record) error
	Update(entity string, rec Record) error
	Delete(entity, id string) error
}

// Store is a transactional entity store. Update applies fn all-or-nothing:
// any error from fn rolls every write back.
type Store interface {
	View(ctx context.Context, fn func(Tx) error) error
	Update(ctx context.Context, opts TxOptions, fn func(Tx) error) error
	Close() error
}

// SQLQuerier is implemented by stores that can run raw SQL (the escape
// hatches on the client surface).
type SQLQuerier interface {
	QueryRaw(ctx context.Context, sql string, args ...any) ([]Record, error)
	ExecRaw(ctx context.Context, sql string, args ...any) (int64, error)
}

type txContextKey struct{}

// SetTx stores an open transaction in the context so that nested operations
// join it instead of opening their own.
func SetTx(ctx context.Context, tx Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// GetTx retrieves the transaction from the context, or nil.
func GetTx(ctx context.Context) Tx {
	tx, _ := ctx.Value(txContextKey{}).(Tx)
	return tx
}
