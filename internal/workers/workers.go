// Package workers runs the periodic background loops of the competition
// service: closing windows whose time is up and applying issued rewards to
// user balances.
package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/kkkkikiki/quote-competition/internal/competition"
)

// Rotator closes the active window once it is due
type Rotator interface {
	CloseDue(ctx context.Context) (*competition.Rotation, error)
}

// PendingApplier applies a batch of issued rewards to balances
type PendingApplier interface {
	ApplyPending(ctx context.Context, limit int) (int, error)
}

// RotationWorker triggers the scheduled close of each window
type RotationWorker struct {
	rotator  Rotator
	interval time.Duration
	logger   *slog.Logger
}

// NewRotationWorker creates a worker checking every interval. A
// non-positive interval disables it.
func NewRotationWorker(rotator Rotator, interval time.Duration, logger *slog.Logger) *RotationWorker {
	return &RotationWorker{rotator: rotator, interval: interval, logger: logger}
}

// Run blocks until ctx is done. Failed closes are retried on the next tick.
func (w *RotationWorker) Run(ctx context.Context) {
	if w.interval <= 0 {
		w.logger.Info("rotation worker disabled")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *RotationWorker) tick(ctx context.Context) {
	rotation, err := w.rotator.CloseDue(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("scheduled close failed, retrying next tick", "error", err)
		}
		return
	}
	if rotation == nil {
		return
	}

	attrs := []any{
		"closed_window_id", rotation.ClosedWindowID,
		"next_window_id", rotation.NextWindowID,
	}
	if rotation.Outcome.HasWinner() {
		attrs = append(attrs, "winner_id", rotation.Outcome.Winner.AuthorID)
	}
	w.logger.Info("scheduled close completed", attrs...)
}

// BalanceWorker drains unapplied rewards into the balance store
type BalanceWorker struct {
	applier  PendingApplier
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

// NewBalanceWorker creates a worker applying up to batch rewards per query.
func NewBalanceWorker(applier PendingApplier, interval time.Duration, batch int, logger *slog.Logger) *BalanceWorker {
	if batch <= 0 {
		batch = 100
	}
	return &BalanceWorker{applier: applier, interval: interval, batch: batch, logger: logger}
}

// Run blocks until ctx is done.
func (w *BalanceWorker) Run(ctx context.Context) {
	if w.interval <= 0 {
		w.logger.Info("balance worker disabled")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// drain applies full batches until a short one signals the backlog is empty.
func (w *BalanceWorker) drain(ctx context.Context) {
	total := 0
	for ctx.Err() == nil {
		n, err := w.applier.ApplyPending(ctx, w.batch)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Error("failed to apply rewards", "error", err, "applied", total)
			}
			return
		}
		total += n
		if n < w.batch {
			break
		}
	}
	if total > 0 {
		w.logger.Debug("rewards applied", "count", total)
	}
}
