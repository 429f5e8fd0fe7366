// Package memory is an in-process implementation of the backend contract:
// tables with unique keys, foreign keys and triggers, the server-side
// procedures, and realtime fan-out of committed changes.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/commerce-sync/internal/backend"
	"github.com/capitalize-ai/commerce-sync/pkg/logger"
)

// RPCFunc implements a server-side procedure. It runs under the read lock.
type RPCFunc func(tx *Tx, args backend.Row) (any, error)

// Backend is a goroutine-safe in-memory backend.
type Backend struct {
	mu     sync.RWMutex
	tables map[string][]backend.Row
	schema map[string]*TableSchema
	rpcs   map[string]RPCFunc
	last   time.Time

	subMu    sync.RWMutex
	channels map[*channel]struct{}

	publisher backend.Publisher
	clock     func() time.Time
	logger    *logger.Logger
}

// Option configures a Backend.
type Option func(*Backend)

// WithPublisher forwards every committed change to p, in addition to the
// in-process channels.
func WithPublisher(p backend.Publisher) Option {
	return func(b *Backend) { b.publisher = p }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(b *Backend) { b.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// New creates a backend with the hosted schema installed.
func New(opts ...Option) *Backend {
	b := &Backend{
		tables:   make(map[string][]backend.Row),
		schema:   defaultSchema(),
		rpcs:     make(map[string]RPCFunc),
		channels: make(map[*channel]struct{}),
		clock:    time.Now,
		logger:   logger.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	registerDefaultRPCs(b)
	return b
}

// RegisterRPC installs or replaces a server-side procedure.
func (b *Backend) RegisterRPC(name string, fn RPCFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rpcs[name] = fn
}

// Ping always succeeds.
func (b *Backend) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Select implements backend.Store.
func (b *Backend) Select(ctx context.Context, table string, q backend.Query) ([]backend.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, ok := b.schema[table]; !ok {
		return nil, undefinedTable(table)
	}
	tx := &Tx{b: b}
	return tx.selectRows(table, q), nil
}

// Count implements backend.Store.
func (b *Backend) Count(ctx context.Context, table string, filters ...backend.Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, ok := b.schema[table]; !ok {
		return 0, undefinedTable(table)
	}
	n := 0
	for _, r := range b.tables[table] {
		if backend.Match(r, filters) {
			n++
		}
	}
	return n, nil
}

// Insert implements backend.Store.
func (b *Backend) Insert(ctx context.Context, table string, row backend.Row) (backend.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	normalized, err := backend.Normalize(row)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	tx := &Tx{b: b}
	stored, err := tx.insert(table, normalized)
	events := tx.events
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	b.dispatch(ctx, events)
	return stored.Clone(), nil
}

// Update implements backend.Store.
func (b *Backend) Update(ctx context.Context, table string, patch backend.Row, filters ...backend.Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	normalized, err := backend.Normalize(patch)
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	tx := &Tx{b: b}
	n, err := tx.update(table, normalized, filters)
	events := tx.events
	b.mu.Unlock()
	if err != nil {
		return 0, err
	}

	b.dispatch(ctx, events)
	return n, nil
}

// Delete implements backend.Store.
func (b *Backend) Delete(ctx context.Context, table string, filters ...backend.Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	b.mu.Lock()
	tx := &Tx{b: b}
	n, err := tx.delete(table, filters)
	events := tx.events
	b.mu.Unlock()
	if err != nil {
		return 0, err
	}

	b.dispatch(ctx, events)
	return n, nil
}

// RPC implements backend.Store.
func (b *Backend) RPC(ctx context.Context, name string, args backend.Row) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	normalized, err := backend.Normalize(args)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	fn, ok := b.rpcs[name]
	if !ok {
		b.mu.RUnlock()
		return nil, &backend.Error{
			Code:    backend.CodeUndefinedFunction,
			Message: fmt.Sprintf("function %s does not exist", name),
		}
	}
	out, err := fn(&Tx{b: b}, normalized)
	b.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("rpc %s: %w", name, err)
	}
	return data, nil
}

// dispatch delivers committed changes. Called without b.mu held.
func (b *Backend) dispatch(ctx context.Context, events []backend.ChangeEvent) {
	for _, ev := range events {
		b.fanOut(ev)
		if b.publisher != nil {
			if err := b.publisher.Publish(ctx, ev); err != nil {
				b.logger.Warn("failed to publish change event",
					zap.String("table", ev.Table),
					zap.String("type", string(ev.Type)),
					zap.Error(err),
				)
			}
		}
	}
}

// stamp returns a strictly increasing timestamp so rows created in quick
// succession keep a total order on created_at. Caller holds b.mu.
func (b *Backend) stamp() time.Time {
	now := b.clock().UTC().Truncate(time.Microsecond)
	if !now.After(b.last) {
		now = b.last.Add(time.Microsecond)
	}
	b.last = now
	return now
}

func undefinedTable(table string) error {
	return &backend.Error{
		Code:    backend.CodeUndefinedTable,
		Message: fmt.Sprintf("relation %q does not exist", table),
	}
}

// Tx is the view of the tables available to triggers and procedures while
// the backend lock is held.
type Tx struct {
	b      *Backend
	events []backend.ChangeEvent
}

// Now returns a fresh commit timestamp.
func (tx *Tx) Now() time.Time {
	return tx.b.stamp()
}

// Rows returns the rows of table matching q. Rows are copies.
func (tx *Tx) Rows(table string, q backend.Query) []backend.Row {
	return tx.selectRows(table, q)
}

// Patch updates rows from inside a trigger.
func (tx *Tx) Patch(table string, patch backend.Row, filters ...backend.Filter) (int, error) {
	normalized, err := backend.Normalize(patch)
	if err != nil {
		return 0, err
	}
	return tx.update(table, normalized, filters)
}

func (tx *Tx) selectRows(table string, q backend.Query) []backend.Row {
	var out []backend.Row
	for _, r := range tx.b.tables[table] {
		if backend.Match(r, q.Filters) {
			out = append(out, r)
		}
	}

	if len(q.Order) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, o := range q.Order {
				c := backend.Compare(out[i][o.Column], out[j][o.Column])
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return []backend.Row{}
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}

	copies := make([]backend.Row, len(out))
	for i, r := range out {
		copies[i] = deepCopy(r)
	}
	return copies
}

func (tx *Tx) insert(table string, row backend.Row) (backend.Row, error) {
	s, ok := tx.b.schema[table]
	if !ok {
		return nil, undefinedTable(table)
	}

	now := tx.b.stamp()
	if s.GeneratedID {
		if id, _ := row["id"].(string); id == "" {
			row["id"] = uuid.Must(uuid.NewV7()).String()
		}
	}
	for col, def := range s.Defaults {
		if _, present := row[col]; !present {
			row[col] = def(now)
		}
	}
	for _, col := range s.Required {
		if v, present := row[col]; !present || v == nil || v == "" {
			return nil, &backend.Error{
				Code:    backend.CodeNotNullViolation,
				Message: fmt.Sprintf("null value in column %q of relation %q violates not-null constraint", col, table),
			}
		}
	}
	if err := tx.checkReferences(table, s, row); err != nil {
		return nil, err
	}
	if err := tx.checkUnique(table, s, tx.b.tables[table], row, -1); err != nil {
		return nil, err
	}

	before := len(tx.b.tables[table])
	tx.b.tables[table] = append(tx.b.tables[table], row)
	tx.events = append(tx.events, backend.ChangeEvent{
		Type:            backend.EventInsert,
		Table:           table,
		Record:          deepCopy(row),
		CommitTimestamp: now,
	})

	if s.AfterInsert != nil {
		if err := s.AfterInsert(tx, deepCopy(row)); err != nil {
			// Triggers only patch other tables; dropping the row and the
			// pending events is enough to abort.
			tx.b.tables[table] = tx.b.tables[table][:before]
			tx.events = nil
			return nil, err
		}
	}
	return deepCopy(row), nil
}

func (tx *Tx) update(table string, patch backend.Row, filters []backend.Filter) (int, error) {
	s, ok := tx.b.schema[table]
	if !ok {
		return 0, undefinedTable(table)
	}

	// Patched rows are staged and only committed once every one of them
	// passes the unique checks.
	rows := tx.b.tables[table]
	next := slices.Clone(rows)
	var touched []int
	for i, r := range rows {
		if !backend.Match(r, filters) {
			continue
		}
		updated := r.Clone()
		for k, v := range patch {
			updated[k] = v
		}
		next[i] = updated
		touched = append(touched, i)
	}
	for _, i := range touched {
		if err := tx.checkUnique(table, s, next, next[i], i); err != nil {
			return 0, err
		}
	}

	tx.b.tables[table] = next
	now := tx.b.stamp()
	for _, i := range touched {
		tx.events = append(tx.events, backend.ChangeEvent{
			Type:            backend.EventUpdate,
			Table:           table,
			Record:          deepCopy(next[i]),
			OldRecord:       deepCopy(rows[i]),
			CommitTimestamp: now,
		})
	}
	return len(touched), nil
}

func (tx *Tx) delete(table string, filters []backend.Filter) (int, error) {
	if _, ok := tx.b.schema[table]; !ok {
		return 0, undefinedTable(table)
	}

	rows := tx.b.tables[table]
	kept := rows[:0:0]
	now := tx.b.stamp()
	n := 0
	for _, r := range rows {
		if backend.Match(r, filters) {
			n++
			tx.events = append(tx.events, backend.ChangeEvent{
				Type:            backend.EventDelete,
				Table:           table,
				OldRecord:       deepCopy(r),
				CommitTimestamp: now,
			})
			continue
		}
		kept = append(kept, r)
	}
	tx.b.tables[table] = kept
	return n, nil
}

func (tx *Tx) checkUnique(table string, s *TableSchema, rows []backend.Row, row backend.Row, self int) error {
	for _, key := range s.Unique {
		for i, existing := range rows {
			if i == self {
				continue
			}
			if sameKey(existing, row, key) {
				return &backend.Error{
					Code:    backend.CodeUniqueViolation,
					Message: fmt.Sprintf("duplicate key value violates unique constraint \"%s_%s_key\"", table, joinCols(key)),
				}
			}
		}
	}
	return nil
}

func (tx *Tx) checkReferences(table string, s *TableSchema, row backend.Row) error {
	for col, ref := range s.References {
		v, present := row[col]
		if !present || v == nil {
			continue
		}
		found := false
		for _, r := range tx.b.tables[ref] {
			if backend.Compare(r["id"], v) == 0 {
				found = true
				break
			}
		}
		if !found {
			return &backend.Error{
				Code:    backend.CodeForeignKeyViolation,
				Message: fmt.Sprintf("insert or update on table %q violates foreign key constraint on %q", table, col),
				Details: fmt.Sprintf("Key (%s)=(%v) is not present in table %q.", col, v, ref),
			}
		}
	}
	return nil
}

func sameKey(a, b backend.Row, cols []string) bool {
	for _, c := range cols {
		if backend.Compare(a[c], b[c]) != 0 {
			return false
		}
	}
	return true
}

func joinCols(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += "_"
		}
		out += c
	}
	return out
}

func deepCopy(r backend.Row) backend.Row {
	out := make(backend.Row, len(r))
	for k, v := range r {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case []any:
		cp := make([]any, len(t))
		for i, item := range t {
			cp[i] = copyValue(item)
		}
		return cp
	case map[string]any:
		cp := make(map[string]any, len(t))
		for k, item := range t {
			cp[k] = copyValue(item)
		}
		return cp
	case backend.Row:
		return deepCopy(t)
	}
	return v
}
