package services

import (
	"context"

	"github.com/cadenzahq/cadenza/pkg/composables"
)

// inTx runs fn in its own transaction and returns its result. Reads use it
// too: resolution must observe one consistent snapshot, never a grant row
// from one state of the world and a depth from another.
func inTx[T any](ctx context.Context, fn func(txCtx context.Context) (T, error)) (T, error) {
	var zero T

	// Join an already open transaction instead of nesting a second one.
	if composables.InTransaction(ctx) {
		return fn(ctx)
	}

	pool, err := composables.UsePool(ctx)
	if err != nil {
		return zero, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return zero, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	txCtx := composables.WithTx(ctx, tx)
	out, err := fn(txCtx)
	if err != nil {
		return zero, err
	}
	if err := tx.Commit(ctx); err != nil {
		return zero, err
	}
	return out, nil
}
