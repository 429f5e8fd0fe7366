// Package store holds the client-side state of one screen: loaded lists,
// derived counters, per-operation loading flags and the last user-visible
// error. Stores call the gateway services, apply optimistic updates and stop
// touching state once closed.
package store

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/commerce-sync/internal/optimistic"
	"github.com/capitalize-ai/commerce-sync/internal/state"
	"github.com/capitalize-ai/commerce-sync/pkg/apperror"
	"github.com/capitalize-ai/commerce-sync/pkg/logger"
)

type base struct {
	logger *logger.Logger
	coord  *optimistic.Coordinator

	// life is held for reading while results are applied and for writing
	// by Close, so nothing lands in state after Close returns.
	life   sync.RWMutex
	closed bool

	flagsMu sync.Mutex
	loading map[string]int
	lastErr string
}

func newBase(name string, log *logger.Logger) base {
	if log == nil {
		log = logger.Global()
	}
	log = log.Named(name)
	return base{
		logger:  log,
		coord:   optimistic.NewCoordinator(log),
		loading: make(map[string]int),
	}
}

// Loading reports whether op is in flight.
func (b *base) Loading(op string) bool {
	b.flagsMu.Lock()
	defer b.flagsMu.Unlock()
	return b.loading[op] > 0
}

// Err returns the message of the last failed primary action, or "".
func (b *base) Err() string {
	b.flagsMu.Lock()
	defer b.flagsMu.Unlock()
	return b.lastErr
}

// ClearErr dismisses the current error.
func (b *base) ClearErr() {
	b.flagsMu.Lock()
	b.lastErr = ""
	b.flagsMu.Unlock()
}

// Closed reports whether the store was closed.
func (b *base) Closed() bool {
	b.life.RLock()
	defer b.life.RUnlock()
	return b.closed
}

// markClosed flips the guard and reports whether this call did it.
func (b *base) markClosed() bool {
	b.life.Lock()
	defer b.life.Unlock()
	if b.closed {
		return false
	}
	b.closed = true
	return true
}

// commit runs fn unless the store is closed. fn must not call commit.
func (b *base) commit(fn func()) bool {
	b.life.RLock()
	defer b.life.RUnlock()
	if b.closed {
		return false
	}
	fn()
	return true
}

// action tracks a primary action: its loading flag is raised until the
// returned func runs, and a failure becomes the store's error message.
//
//	done := s.action(OpLoadFavorites)
//	defer done(&err)
func (b *base) action(op string) func(errp *error) {
	b.flagsMu.Lock()
	b.loading[op]++
	b.lastErr = ""
	b.flagsMu.Unlock()

	return func(errp *error) {
		var err error
		if errp != nil {
			err = *errp
		}
		b.life.RLock()
		closed := b.closed
		b.life.RUnlock()

		b.flagsMu.Lock()
		b.loading[op]--
		if b.loading[op] <= 0 {
			delete(b.loading, op)
		}
		if err != nil && !closed {
			b.lastErr = apperror.UserMessage(err)
		}
		b.flagsMu.Unlock()

		if err != nil {
			b.logFailure(op, err)
		}
	}
}

// background tracks a secondary read. Failures are logged and never
// surface as the store's error.
func (b *base) background(op string, fn func() error) {
	b.flagsMu.Lock()
	b.loading[op]++
	b.flagsMu.Unlock()

	err := fn()

	b.flagsMu.Lock()
	b.loading[op]--
	if b.loading[op] <= 0 {
		delete(b.loading, op)
	}
	b.flagsMu.Unlock()

	if err != nil {
		b.logger.Warn("background refresh failed", zap.String("op", op), zap.Error(err))
	}
}

func (b *base) logFailure(op string, err error) {
	if apperror.KindOf(err) == apperror.KindUnknown {
		b.logger.Error("action failed", zap.String("op", op), zap.Error(err))
		return
	}
	b.logger.Debug("action rejected",
		zap.String("op", op),
		zap.String("kind", string(apperror.KindOf(err))),
		zap.Error(err),
	)
}

// mutate runs an optimistic mutation whose local edit and undo both
// respect the close guard. apply returns the undo of exactly its change.
func (b *base) mutate(ctx context.Context, op string, apply func() optimistic.Undo, remote func(ctx context.Context) error) error {
	return b.coord.Do(ctx, op, func() optimistic.Undo {
		var undo optimistic.Undo
		if !b.commit(func() { undo = apply() }) || undo == nil {
			return nil
		}
		return func() { b.commit(undo) }
	}, remote)
}

// load fetches one page and applies it to l with the replace/append rule.
func load[T any](b *base, l *state.List[T], offset int, fetch func() ([]T, error), after func()) error {
	items, err := fetch()
	if err != nil {
		return err
	}
	b.commit(func() {
		l.Apply(items, max(offset, 0))
		if after != nil {
			after()
		}
	})
	return nil
}
