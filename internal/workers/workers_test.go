package workers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/quote-competition/internal/competition"
	"github.com/kkkkikiki/quote-competition/internal/ledger"
	"github.com/kkkkikiki/quote-competition/internal/model"
	"github.com/kkkkikiki/quote-competition/internal/testutil"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type flakyRotator struct {
	calls    atomic.Int32
	failures int32
}

func (r *flakyRotator) CloseDue(context.Context) (*competition.Rotation, error) {
	n := r.calls.Add(1)
	if n <= r.failures {
		return nil, errors.New("ledger unavailable")
	}
	return &competition.Rotation{ClosedWindowID: "w1", Outcome: &competition.Outcome{WindowID: "w1"}}, nil
}

func runInBackground(t *testing.T, run func(context.Context)) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
}

func TestRotationWorker_RetriesAfterFailure(t *testing.T) {
	rotator := &flakyRotator{failures: 2}
	worker := NewRotationWorker(rotator, 5*time.Millisecond, discard)

	runInBackground(t, worker.Run)

	assert.Eventually(t, func() bool {
		return rotator.calls.Load() > 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRotationWorker_DisabledReturns(t *testing.T) {
	rotator := &flakyRotator{}
	worker := NewRotationWorker(rotator, 0, discard)

	done := make(chan struct{})
	go func() {
		worker.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled worker did not return")
	}
	assert.Zero(t, rotator.calls.Load())
}

func TestBalanceWorker_DrainsBacklog(t *testing.T) {
	db := testutil.NewDB(t)
	l := ledger.New(db, nil, nil)
	ctx := context.Background()

	for i, key := range []string{"k1", "k2", "k3", "k4", "k5"} {
		_, err := l.Issue(ctx, "alice", int64(10*(i+1)), model.UnitCurrency, "winner", key)
		require.NoError(t, err)
	}

	// a batch of two needs several queries per tick
	worker := NewBalanceWorker(l, 5*time.Millisecond, 2, discard)
	runInBackground(t, worker.Run)

	assert.Eventually(t, func() bool {
		b, err := l.Balance(ctx, "alice")
		return err == nil && b.Currency == 150
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRotationWorker_ClosesDueWindow(t *testing.T) {
	db := testutil.NewDB(t)
	clock := testutil.NewClock(testutil.Date(2025, time.January, 8, 0))
	w := testutil.CreateWindow(t, db,
		"Courage", testutil.Date(2025, time.January, 1, 0), testutil.Date(2025, time.January, 8, 0),
		testutil.Active())

	l := ledger.New(db, nil, clock.Now)
	selector := competition.NewWinnerSelector(db, l, competition.RewardPolicy{Currency: 100}, clock.Now, discard)
	scheduler := competition.NewScheduler(db, selector, clock.Now, discard)

	runInBackground(t, NewRotationWorker(scheduler, 5*time.Millisecond, discard).Run)

	query := db.Rebind(`SELECT COUNT(*) FROM competition_windows WHERE id = ? AND NOT active AND closed_at IS NOT NULL`)
	assert.Eventually(t, func() bool {
		var n int
		return db.Get(&n, query, w.ID) == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)
}
