// Package postgres implements backend.Store on PostgreSQL through a pgx
// connection pool. Rows travel as JSON (to_jsonb out, jsonb_populate_record
// in) so the store stays schema-agnostic.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/capitalize-ai/commerce-sync/internal/backend"
	"github.com/capitalize-ai/commerce-sync/pkg/logger"
)

//go:embed schema.sql
var schema string

// Store is a backend.Store on a pgx pool.
type Store struct {
	pool      *pgxpool.Pool
	publisher backend.Publisher
	logger    *logger.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPublisher forwards every committed change to p.
func WithPublisher(p backend.Publisher) Option {
	return func(s *Store) { s.publisher = p }
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Connect opens a pool for dsn and checks it is reachable.
func Connect(ctx context.Context, dsn string, maxConns int32, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(pool, opts...), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, logger: logger.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("postgres")
	return s
}

// Migrate creates the tables, triggers and procedures the sync layer
// expects. It is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", mapError(err))
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Select(ctx context.Context, table string, q backend.Query) ([]backend.Row, error) {
	stmt, err := selectStatement(table, q)
	if err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	return rows, nil
}

func (s *Store) Count(ctx context.Context, table string, filters ...backend.Filter) (int, error) {
	stmt, err := countStatement(table, filters)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.pool.QueryRow(ctx, stmt.String(), stmt.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, mapError(err))
	}
	return int(n), nil
}

func (s *Store) Insert(ctx context.Context, table string, row backend.Row) (backend.Row, error) {
	payload, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("insert %s: encode row: %w", table, err)
	}
	stmt := insertStatement(table, sortedKeys(row), payload)

	var raw []byte
	if err := s.pool.QueryRow(ctx, stmt.String(), stmt.args...).Scan(&raw); err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, mapError(err))
	}
	var stored backend.Row
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("insert %s: decode row: %w", table, err)
	}
	s.publish(ctx, backend.ChangeEvent{Type: backend.EventInsert, Table: table, Record: stored})
	return stored, nil
}

func (s *Store) Update(ctx context.Context, table string, patch backend.Row, filters ...backend.Filter) (int, error) {
	payload, err := json.Marshal(patch)
	if err != nil {
		return 0, fmt.Errorf("update %s: encode patch: %w", table, err)
	}
	stmt, err := updateStatement(table, sortedKeys(patch), payload, filters)
	if err != nil {
		return 0, err
	}
	rows, err := s.query(ctx, stmt)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	for _, r := range rows {
		s.publish(ctx, backend.ChangeEvent{Type: backend.EventUpdate, Table: table, Record: r})
	}
	return len(rows), nil
}

func (s *Store) Delete(ctx context.Context, table string, filters ...backend.Filter) (int, error) {
	stmt, err := deleteStatement(table, filters)
	if err != nil {
		return 0, err
	}
	rows, err := s.query(ctx, stmt)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}
	for _, r := range rows {
		s.publish(ctx, backend.ChangeEvent{Type: backend.EventDelete, Table: table, OldRecord: r})
	}
	return len(rows), nil
}

func (s *Store) RPC(ctx context.Context, name string, args backend.Row) (json.RawMessage, error) {
	stmt := rpcStatement(name, args)
	var raw []byte
	if err := s.pool.QueryRow(ctx, stmt.String(), stmt.args...).Scan(&raw); err != nil {
		return nil, fmt.Errorf("rpc %s: %w", name, mapError(err))
	}
	return json.RawMessage(raw), nil
}

// query runs a statement whose single column is a row as jsonb.
func (s *Store) query(ctx context.Context, stmt *statement) ([]backend.Row, error) {
	rows, err := s.pool.Query(ctx, stmt.String(), stmt.args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := []backend.Row{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, mapError(err)
		}
		var row backend.Row
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (s *Store) publish(ctx context.Context, ev backend.ChangeEvent) {
	if s.publisher == nil {
		return
	}
	ev.CommitTimestamp = time.Now().UTC()
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to publish change event",
			zap.String("table", ev.Table),
			zap.String("type", string(ev.Type)),
			zap.Error(err),
		)
	}
}

// mapError turns driver errors into backend errors carrying the SQLSTATE.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &backend.Error{Code: pgErr.Code, Message: pgErr.Message, Details: pgErr.Detail}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return backend.ErrNoRows
	}
	return err
}
