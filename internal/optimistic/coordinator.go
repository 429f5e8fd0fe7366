// Package optimistic applies local state changes ahead of the remote call
// that confirms them, and rolls them back when that call fails.
package optimistic

import (
	"context"

	"go.uber.org/zap"

	"github.com/capitalize-ai/commerce-sync/pkg/apperror"
	"github.com/capitalize-ai/commerce-sync/pkg/logger"
	"github.com/capitalize-ai/commerce-sync/pkg/metrics"
)

// Undo reverts one local change. It touches only what that change touched:
// the same state may receive live updates while the remote call runs.
type Undo func()

// Undos combines several undos into one that runs them in reverse order.
// Nil entries are skipped.
func Undos(undos ...func()) Undo {
	return func() {
		for i := len(undos) - 1; i >= 0; i-- {
			if undos[i] != nil {
				undos[i]()
			}
		}
	}
}

// Coordinator runs optimistic mutations with a single revert policy: any
// remote failure undoes the local change.
type Coordinator struct {
	logger *logger.Logger
}

func NewCoordinator(log *logger.Logger) *Coordinator {
	if log == nil {
		log = logger.NewNop()
	}
	return &Coordinator{logger: log}
}

// Do runs apply, then remote. On error the undo returned by apply runs and
// the remote error is returned.
func (c *Coordinator) Do(ctx context.Context, op string, apply func() Undo, remote func(ctx context.Context) error) error {
	var undo Undo
	if apply != nil {
		undo = apply()
	}

	err := remote(ctx)
	if err == nil {
		return nil
	}

	if undo != nil {
		undo()
	}
	metrics.OptimisticRevertsTotal.WithLabelValues(op).Inc()
	c.logger.Warn("optimistic update reverted",
		zap.String("op", op),
		zap.String("kind", string(apperror.KindOf(err))),
		zap.Error(err),
	)
	return err
}
