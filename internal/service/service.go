// Package service is the gateway to the hosted backend: typed entities in and
// out, session enforcement and error classification. It never touches
// client-side state.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/commerce-sync/internal/backend"
	"github.com/capitalize-ai/commerce-sync/internal/session"
	"github.com/capitalize-ai/commerce-sync/pkg/apperror"
	"github.com/capitalize-ai/commerce-sync/pkg/logger"
	"github.com/capitalize-ai/commerce-sync/pkg/metrics"
	"github.com/capitalize-ai/commerce-sync/pkg/tracing"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Option configures a service.
type Option func(*base)

// WithClock overrides the time source used for client-side timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *base) { b.now = now }
}

type base struct {
	name     string
	store    backend.Store
	sessions session.Provider
	logger   *logger.Logger
	now      func() time.Time
}

func newBase(name string, store backend.Store, sessions session.Provider, log *logger.Logger, opts []Option) base {
	if log == nil {
		log = logger.Global()
	}
	b := base{
		name:     name,
		store:    store,
		sessions: sessions,
		logger:   log.Named(name),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// begin opens a traced, metered call and resolves the session. The returned
// done func classifies *errp, records the outcome and ends the span.
func (b *base) begin(ctx context.Context, op string) (context.Context, string, func(errp *error), error) {
	fullOp := b.name + "." + op
	start := time.Now()
	ctx, span := tracing.Start(ctx, fullOp, attribute.String("service", b.name))

	done := func(errp *error) {
		var err error
		if errp != nil && *errp != nil {
			*errp = classify(fullOp, *errp)
			err = *errp
		}
		kind := ""
		if err != nil {
			kind = string(apperror.KindOf(err))
			b.logFailure(fullOp, err)
		}
		metrics.RecordGatewayCall(b.name, op, kind, time.Since(start).Seconds())
		tracing.End(span, err)
	}

	userID, err := b.sessions.CurrentUser(ctx)
	if err != nil {
		err = apperror.Wrap(apperror.KindUnauthenticated, fullOp, err)
		done(&err)
		return ctx, "", nil, err
	}
	span.SetAttributes(attribute.String("user_id", userID))
	return ctx, userID, done, nil
}

func (b *base) logFailure(op string, err error) {
	fields := []zap.Field{
		zap.String("op", op),
		zap.String("kind", string(apperror.KindOf(err))),
		zap.Error(err),
	}
	switch apperror.KindOf(err) {
	case apperror.KindUnknown:
		b.logger.Error("gateway call failed", fields...)
	default:
		b.logger.Debug("gateway call rejected", fields...)
	}
}

// classify maps backend and transport errors into the domain taxonomy.
func classify(op string, err error) error {
	var ae *apperror.Error
	if errors.As(err, &ae) {
		return apperror.Wrap(ae.Kind, op, err)
	}
	switch backend.CodeOf(err) {
	case backend.CodeUniqueViolation:
		return &apperror.Error{Kind: apperror.KindConflict, Op: op, Message: "already exists", Err: err}
	case backend.CodeNoRows:
		return &apperror.Error{Kind: apperror.KindNotFound, Op: op, Err: err}
	case backend.CodeForeignKeyViolation:
		return &apperror.Error{Kind: apperror.KindNotFound, Op: op, Message: "referenced record does not exist", Err: err}
	case backend.CodeCheckViolation, backend.CodeNotNullViolation:
		return &apperror.Error{Kind: apperror.KindValidationFailed, Op: op, Message: "invalid value", Err: err}
	}
	return apperror.Wrap(apperror.KindUnknown, op, err)
}

// page normalizes a limit/offset pair.
func page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (b *base) stamp() string {
	return backend.FormatTime(b.now())
}

func decodeOne[T any](row backend.Row) (*T, error) {
	var v T
	if err := backend.Decode(row, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (b *base) single(ctx context.Context, table string, filters ...backend.Filter) (backend.Row, error) {
	return backend.Single(ctx, b.store, table, filters...)
}

func rpc[T any](ctx context.Context, store backend.Store, name string, args backend.Row) ([]T, error) {
	raw, err := store.RPC(ctx, name, args)
	if err != nil {
		return nil, err
	}
	out := []T{}
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s result: %w", name, err)
	}
	return out, nil
}

// selectEither returns one page of rows matching either of two filter sets,
// e.g. requests sent by or addressed to the user. Rows matching both sets
// appear once.
func (b *base) selectEither(ctx context.Context, table string, left, right []backend.Filter, order backend.Order, limit, offset int) ([]backend.Row, error) {
	window := backend.Query{Order: []backend.Order{order}, Limit: offset + limit}

	q := window
	q.Filters = left
	a, err := b.store.Select(ctx, table, q)
	if err != nil {
		return nil, err
	}
	q = window
	q.Filters = right
	c, err := b.store.Select(ctx, table, q)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(a)+len(c))
	merged := make([]backend.Row, 0, len(a)+len(c))
	for _, r := range append(a, c...) {
		id := r.String("id")
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		merged = append(merged, r)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		cmp := backend.Compare(merged[i][order.Column], merged[j][order.Column])
		if order.Desc {
			return cmp > 0
		}
		return cmp < 0
	})

	if offset >= len(merged) {
		return []backend.Row{}, nil
	}
	merged = merged[offset:]
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}
