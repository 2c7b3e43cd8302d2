// Package postgres provides a pgx-backed entity store. Each entity maps to a
// table holding the primary key plus the row as JSONB; unique fields are
// enforced by partial expression unique indexes so constraint checking stays
// in the database engine. Transaction isolation levels map directly onto
// pgx.TxOptions.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"agencydb/internal/domain"
	"agencydb/internal/schema"
	"agencydb/internal/store"
)

type Store struct {
	pool     *pgxpool.Pool
	tables   map[string]string
	defaults store.TxOptions
	logger   *slog.Logger
}

// Options configures the connection and transaction defaults. TablePrefix
// separates environments sharing one database (dev_, test_, prod_).
type Options struct {
	DatabaseURL string
	TablePrefix string
	MaxWait     time.Duration
	Timeout     time.Duration
	Logger      *slog.Logger
}

// Open connects, pings, and ensures the schema objects exist.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.MaxWait == 0 {
		opts.MaxWait = 2 * time.Second
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	config, err := pgxpool.ParseConfig(opts.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse connection string: %v", domain.ErrInitialization, err)
	}
	config.MaxConns = 25
	config.MinConns = 5

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%w: create connection pool: %v", domain.ErrInitialization, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping database: %v", domain.ErrInitialization, err)
	}

	s := &Store{
		pool:     pool,
		tables:   tableNames(opts.TablePrefix),
		defaults: store.TxOptions{MaxWait: opts.MaxWait, Timeout: opts.Timeout},
		logger:   opts.Logger,
	}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func tableNames(prefix string) map[string]string {
	names := map[string]string{}
	for _, ent := range schema.All() {
		names[ent.Name] = prefix + toSnake(ent.Name) + "s"
	}
	return names
}

func toSnake(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func fromSnake(name string) string {
	parts := strings.Split(name, "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}

// migrate creates each entity table and its unique indexes. Index names
// follow <table>_<field>_key so constraint errors can be mapped back to the
// colliding field.
func (s *Store) migrate(ctx context.Context) error {
	for _, ent := range schema.All() {
		table := s.tables[ent.Name]
		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			data JSONB NOT NULL
		)`, table)
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("%w: create table %s: %v", domain.ErrInitialization, table, err)
		}
		for _, field := range ent.UniqueFields() {
			if field == "id" {
				continue
			}
			idx := fmt.Sprintf(
				`CREATE UNIQUE INDEX IF NOT EXISTS %s_%s_key ON %s ((data->>'%s')) WHERE data->>'%s' IS NOT NULL`,
				table, toSnake(field), table, field, field,
			)
			if _, err := s.pool.Exec(ctx, idx); err != nil {
				return fmt.Errorf("%w: create index on %s.%s: %v", domain.ErrInitialization, table, field, err)
			}
		}
	}
	s.logger.Debug("postgres schema ready", "tables", len(s.tables))
	return nil
}

func isoLevel(level store.IsolationLevel) pgx.TxIsoLevel {
	switch level {
	case store.ReadUncommitted:
		return pgx.ReadUncommitted
	case store.RepeatableRead:
		return pgx.RepeatableRead
	case store.Serializable:
		return pgx.Serializable
	default:
		return pgx.ReadCommitted
	}
}

func (s *Store) View(ctx context.Context, fn func(store.Tx) error) error {
	pgtx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("begin read transaction: %w", err)
	}
	defer pgtx.Rollback(ctx)

	if err := fn(&tx{ctx: ctx, pgtx: pgtx, store: s}); err != nil {
		return err
	}
	return pgtx.Commit(ctx)
}

func (s *Store) Update(ctx context.Context, opts store.TxOptions, fn func(store.Tx) error) error {
	maxWait := opts.MaxWait
	if maxWait == 0 {
		maxWait = s.defaults.MaxWait
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = s.defaults.Timeout
	}

	beginCtx, cancelBegin := context.WithTimeout(ctx, maxWait)
	defer cancelBegin()
	pgtx, err := s.pool.BeginTx(beginCtx, pgx.TxOptions{IsoLevel: isoLevel(opts.Isolation)})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &domain.TxTimeoutError{Message: fmt.Sprintf("could not acquire transaction within %s", maxWait)}
		}
		return fmt.Errorf("begin transaction: %w", err)
	}

	bodyCtx, cancelBody := context.WithTimeout(ctx, timeout)
	defer cancelBody()
	defer func() {
		if err := pgtx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Warn("rollback failed", "error", err)
		}
	}()

	if err := fn(&tx{ctx: bodyCtx, pgtx: pgtx, store: s}); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &domain.TxTimeoutError{Message: fmt.Sprintf("transaction exceeded timeout of %s", timeout)}
		}
		return err
	}
	if err := pgtx.Commit(bodyCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &domain.TxTimeoutError{Message: fmt.Sprintf("transaction exceeded timeout of %s", timeout)}
		}
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// QueryRaw runs a parameterized query and returns rows as generic records.
func (s *Store) QueryRaw(ctx context.Context, sql string, args ...any) ([]store.Record, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("raw query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []store.Record
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("raw query scan: %w", err)
		}
		rec := make(store.Record, len(fields))
		for i, fd := range fields {
			rec[fd.Name] = values[i]
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ExecRaw runs a parameterized statement and returns the affected row count.
func (s *Store) ExecRaw(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("raw exec: %w", err)
	}
	return tag.RowsAffected(), nil
}

type tx struct {
	ctx   context.Context
	pgtx  pgx.Tx
	store *Store
}

func (t *tx) table(entity string) (string, error) {
	table, ok := t.store.tables[entity]
	if !ok {
		return "", &domain.ValidationError{Message: fmt.Sprintf("unknown entity %q", entity)}
	}
	return table, nil
}

func (t *tx) Get(entity, id string) (store.Record, error) {
	table, err := t.table(entity)
	if err != nil {
		return nil, err
	}
	var payload []byte
	err = t.pgtx.QueryRow(t.ctx, fmt.Sprintf(`SELECT data FROM %s WHERE id = $1`, table), id).Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, &domain.NotFoundError{Message: fmt.Sprintf("%s %q not found", entity, id)}
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", entity, err)
	}
	return decodeRecord(payload)
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
	table, err := t.table(entity)
	if err != nil {
		return nil, err
	}
	var payload []byte
	query := fmt.Sprintf(`SELECT data FROM %s WHERE data->>'%s' = $1`, table, field)
	err = t.pgtx.QueryRow(t.ctx, query, fmt.Sprintf("%v", value)).Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, &domain.NotFoundError{Message: fmt.Sprintf("%s with %s=%v not found", entity, field, value)}
	}
	if err != nil {
		return nil, fmt.Errorf("get %s by %s: %w", entity, field, err)
	}
	return decodeRecord(payload)
}

func (t *tx) List(entity string) ([]store.Record, error) {
	table, err := t.table(entity)
	if err != nil {
		return nil, err
	}
	rows, err := t.pgtx.Query(t.ctx, fmt.Sprintf(`SELECT data FROM %s`, table))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", entity, err)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan %s: %w", entity, err)
		}
		rec, err := decodeRecord(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (t *tx) Insert(entity string, rec store.Record) error {
	table, err := t.table(entity)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s row: %w", entity, err)
	}
	_, err = t.pgtx.Exec(t.ctx, fmt.Sprintf(`INSERT INTO %s (id, data) VALUES ($1, $2)`, table), rec.ID(), payload)
	if err != nil {
		return mapConstraintError(entity, table, err)
	}
	return nil
}

func (t *tx) Update(entity string, rec store.Record) error {
	table, err := t.table(entity)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s row: %w", entity, err)
	}
	tag, err := t.pgtx.Exec(t.ctx, fmt.Sprintf(`UPDATE %s SET data = $2 WHERE id = $1`, table), rec.ID(), payload)
	if err != nil {
		return mapConstraintError(entity, table, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{Message: fmt.Sprintf("%s %q not found", entity, rec.ID())}
	}
	return nil
}

func (t *tx) Delete(entity, id string) error {
	table, err := t.table(entity)
	if err != nil {
		return err
	}
	tag, err := t.pgtx.Exec(t.ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", entity, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{Message: fmt.Sprintf("%s %q not found", entity, id)}
	}
	return nil
}

// mapConstraintError converts pg unique violations (23505) to the domain
// error, recovering the colliding field from the index name.
func mapConstraintError(entity, table string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		field := "id"
		if name, ok := strings.CutPrefix(pgErr.ConstraintName, table+"_"); ok {
			field = fromSnake(strings.TrimSuffix(name, "_key"))
		}
		return &domain.UniqueConstraintError{
			Message: fmt.Sprintf("%s.%s unique constraint violation", entity, field),
			Entity:  entity,
			Field:   field,
		}
	}
	return fmt.Errorf("write %s: %w", entity, err)
}

func decodeRecord(payload []byte) (store.Record, error) {
	var rec store.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	return rec, nil
}
