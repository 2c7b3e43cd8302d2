// Package engine implements the query and mutation executors: it interprets
// filter trees, ordering, cursor pagination, aggregation, and nested relation
// writes on top of the entity store contract.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"agencydb/internal/domain"
	"agencydb/internal/query"
	"agencydb/internal/schema"
	"agencydb/internal/store"
)

type Engine struct {
	store  store.Store
	logger *slog.Logger
	txOpts store.TxOptions

	// Overridable for deterministic tests.
	now   func() time.Time
	newID func() string
}

// New creates an engine over the given store. txDefaults bound transactions
// opened implicitly for single operations.
func New(st store.Store, logger *slog.Logger, txDefaults store.TxOptions) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  st,
		logger: logger,
		txOpts: txDefaults,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Store exposes the underlying store (raw SQL escape hatches live there).
func (e *Engine) Store() store.Store { return e.store }

// Transaction runs fn inside one store transaction; every engine operation
// invoked with the returned context joins it. Nested calls join the outer
// transaction rather than opening their own.
func (e *Engine) Transaction(ctx context.Context, opts store.TxOptions, fn func(ctx context.Context) error) error {
	if store.GetTx(ctx) != nil {
		return fn(ctx)
	}
	return e.store.Update(ctx, opts, func(tx store.Tx) error {
		return fn(store.SetTx(ctx, tx))
	})
}

// read runs fn in the context transaction if one is open, otherwise in a
// fresh read-only transaction.
func (e *Engine) read(ctx context.Context, fn func(store.Tx) error) error {
	if tx := store.GetTx(ctx); tx != nil {
		return fn(tx)
	}
	return e.store.View(ctx, fn)
}

// write runs fn in the context transaction if one is open, otherwise in a
// fresh writable transaction with the engine's defaults.
func (e *Engine) write(ctx context.Context, fn func(store.Tx) error) error {
	if tx := store.GetTx(ctx); tx != nil {
		return fn(tx)
	}
	return e.store.Update(ctx, e.txOpts, fn)
}

// resolver returns a query.Resolver that fetches relation rows through tx.
func (e *Engine) resolver(tx store.Tx) query.Resolver {
	return func(rel *schema.Relation, rec store.Record) ([]store.Record, error) {
		if rel.FKOnSelf {
			fk, _ := rec[rel.FKField].(string)
			if fk == "" {
				return nil, nil
			}
			related, err := tx.Get(rel.Target, fk)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return nil, nil
				}
				return nil, err
			}
			return []store.Record{related}, nil
		}

		// FK on the target side: scan the target table for rows pointing back.
		id := rec.ID()
		rows, err := tx.List(rel.Target)
		if err != nil {
			return nil, err
		}
		var out []store.Record
		for _, row := range rows {
			if fk, _ := row[rel.FKField].(string); fk == id {
				out = append(out, row)
				if rel.Kind == schema.ToOne {
					break
				}
			}
		}
		return out, nil
	}
}

// normalize converts a record to JSON-typed values (time.Time becomes an
// RFC 3339 string, typed slices become []any) so stored rows always hold one
// representation.
func normalize(rec store.Record) (store.Record, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("normalize record: %w", err)
	}
	var out store.Record
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("normalize record: %w", err)
	}
	return out, nil
}

func (e *Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339Nano)
}
