package competition

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/quote-competition/internal/ledger"
	"github.com/kkkkikiki/quote-competition/internal/model"
	"github.com/kkkkikiki/quote-competition/internal/repository"
	"github.com/kkkkikiki/quote-competition/internal/testutil"
)

var (
	jan1  = testutil.Date(2025, time.January, 1, 0)
	jan8  = testutil.Date(2025, time.January, 8, 0)
	jan15 = testutil.Date(2025, time.January, 15, 0)
)

var defaultPolicy = RewardPolicy{Currency: 100, Experience: 50}

type fixture struct {
	db        *sqlx.DB
	clock     *testutil.Clock
	ledger    *ledger.Ledger
	entries   *EntryStore
	voting    *VotingService
	selector  *WinnerSelector
	scheduler *Scheduler
}

func newFixture(t *testing.T, at time.Time) *fixture {
	t.Helper()
	return newFixtureWithIssuer(t, at, nil)
}

// newFixtureWithIssuer wires the components; a nil issuer uses the ledger.
func newFixtureWithIssuer(t *testing.T, at time.Time, issuer RewardIssuer) *fixture {
	t.Helper()

	db := testutil.NewDB(t)
	clock := testutil.NewClock(at)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	l := ledger.New(db, nil, clock.Now)
	if issuer == nil {
		issuer = l
	}
	selector := NewWinnerSelector(db, issuer, defaultPolicy, clock.Now, logger)

	return &fixture{
		db:        db,
		clock:     clock,
		ledger:    l,
		entries:   NewEntryStore(db, 180, clock.Now),
		voting:    NewVotingService(db, false, clock.Now),
		selector:  selector,
		scheduler: NewScheduler(db, selector, clock.Now, logger),
	}
}

func (f *fixture) window(t *testing.T, id string) *model.CompetitionWindow {
	t.Helper()
	w, err := repository.NewWindowRepository().GetWindow(context.Background(), f.db, id)
	require.NoError(t, err)
	return w
}

func (f *fixture) submit(t *testing.T, userID, windowID, text string) *model.Entry {
	t.Helper()
	e, err := f.entries.Submit(context.Background(), userID, windowID, text)
	require.NoError(t, err)
	return e
}

func (f *fixture) vote(t *testing.T, voterID, entryID string) *VoteResult {
	t.Helper()
	r, err := f.voting.Vote(context.Background(), voterID, entryID)
	require.NoError(t, err)
	return r
}

func (f *fixture) countRewards(t *testing.T) int64 {
	t.Helper()
	return testutil.MustCount(t, f.db, `SELECT COUNT(*) FROM reward_transactions`)
}

// flakyIssuer fails the first grant of one unit, then delegates.
type flakyIssuer struct {
	mu     sync.Mutex
	next   RewardIssuer
	failOn model.RewardUnit
	failed bool
}

func (f *flakyIssuer) Issue(ctx context.Context, recipientID string, amount int64, unit model.RewardUnit, reason, key string) (*model.RewardTransaction, error) {
	f.mu.Lock()
	fail := unit == f.failOn && !f.failed
	if fail {
		f.failed = true
	}
	f.mu.Unlock()

	if fail {
		return nil, errors.New("ledger unavailable")
	}
	return f.next.Issue(ctx, recipientID, amount, unit, reason, key)
}

func (f *flakyIssuer) Issued(ctx context.Context, key string) (*model.RewardTransaction, error) {
	return f.next.Issued(ctx, key)
}
