package competition

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/quote-competition/internal/ledger"
	"github.com/kkkkikiki/quote-competition/internal/model"
	"github.com/kkkkikiki/quote-competition/internal/testutil"
)

func tally(id, author string, votes int64, createdAt time.Time) model.EntryTally {
	return model.EntryTally{
		Entry: model.Entry{ID: id, AuthorID: author, CreatedAt: createdAt},
		Votes: votes,
	}
}

func TestPickWinner(t *testing.T) {
	early := testutil.Date(2025, time.January, 1, 9)
	late := testutil.Date(2025, time.January, 2, 9)

	tests := []struct {
		name    string
		tallies []model.EntryTally
		want    string // winning entry id, "" for none
	}{
		{
			name: "no entries",
			want: "",
		},
		{
			name: "all zero",
			tallies: []model.EntryTally{
				tally("e1", "alice", 0, early),
				tally("e2", "bob", 0, late),
			},
			want: "",
		},
		{
			name: "most votes",
			tallies: []model.EntryTally{
				tally("e1", "alice", 3, early),
				tally("e2", "bob", 5, late),
			},
			want: "e2",
		},
		{
			name: "tie goes to earlier entry",
			tallies: []model.EntryTally{
				tally("e2", "bob", 4, late),
				tally("e1", "alice", 4, early),
			},
			want: "e1",
		},
		{
			name: "same time tie goes to smaller author",
			tallies: []model.EntryTally{
				tally("e2", "zoe", 4, early),
				tally("e1", "adam", 4, early),
			},
			want: "e1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pickWinner(tt.tallies)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.ID)
		})
	}
}

func TestCourageWeek(t *testing.T) {
	f := newFixture(t, testutil.Date(2025, time.January, 1, 10))
	w := testutil.CreateWindow(t, f.db, "Courage", jan1, jan8, testutil.Active())
	ctx := context.Background()

	quote := "Courage is resistance to fear, not absence"
	require.Len(t, quote, 42)
	a := f.submit(t, "user-a", w.ID, quote)
	b := f.submit(t, "user-b", w.ID, "He who is not courageous enough to take risks will accomplish nothing.")

	f.clock.Set(testutil.Date(2025, time.January, 2, 12))
	assert.Equal(t, int64(1), f.vote(t, "user-c", a.ID).Tally)

	_, err := f.voting.Vote(ctx, "user-c", b.ID)
	assert.True(t, IsConstraint(err, CodeAlreadyVoted), "got %v", err)

	f.clock.Set(testutil.Date(2025, time.January, 3, 12))
	assert.Equal(t, int64(1), f.vote(t, "user-c", b.ID).Tally)

	// bring the tallies to A=5, B=3
	f.clock.Set(testutil.Date(2025, time.January, 4, 12))
	for i := 0; i < 4; i++ {
		f.vote(t, fmt.Sprintf("fan-a-%d", i), a.ID)
	}
	for i := 0; i < 2; i++ {
		f.vote(t, fmt.Sprintf("fan-b-%d", i), b.ID)
	}

	counts, err := f.selector.Tally(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{a.ID: 5, b.ID: 3}, counts)

	f.clock.Set(jan8)
	first, err := f.selector.SelectWinner(ctx, w.ID)
	require.NoError(t, err)
	require.True(t, first.HasWinner())
	assert.False(t, first.Replayed)
	assert.Equal(t, "user-a", first.Winner.AuthorID)
	assert.Equal(t, a.ID, first.Winner.EntryID)
	assert.Equal(t, int64(5), first.Winner.VoteCount)
	assert.Equal(t, quote, first.Entry.Text)
	assert.Equal(t, int64(100), first.Winner.CurrencyAmount)
	assert.Equal(t, int64(50), first.Winner.ExperienceAmount)

	txs, err := f.ledger.Transactions(ctx, "user-a")
	require.NoError(t, err)
	require.Len(t, txs, 2)

	second, err := f.selector.SelectWinner(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Winner.ID, second.Winner.ID)
	assert.Equal(t, first.Winner.CurrencyTxID, second.Winner.CurrencyTxID)
	assert.Equal(t, first.Winner.ExperienceTxID, second.Winner.ExperienceTxID)
	assert.Equal(t, int64(2), f.countRewards(t))
}

func TestSelectWinner_NoVotesNoReward(t *testing.T) {
	f := newFixture(t, jan1)
	ctx := context.Background()

	empty := testutil.CreateWindow(t, f.db, "Courage", jan1, jan8, testutil.Active())
	out, err := f.selector.SelectWinner(ctx, empty.ID)
	require.NoError(t, err)
	assert.False(t, out.HasWinner())

	_, err = f.db.Exec(f.db.Rebind(`UPDATE competition_windows SET active = FALSE WHERE id = ?`), empty.ID)
	require.NoError(t, err)

	f.clock.Set(jan8)
	quiet := testutil.CreateWindow(t, f.db, "Kindness", jan8, jan15, testutil.Active())
	f.submit(t, "alice", quiet.ID, "Be kind whenever possible.")

	out, err = f.selector.SelectWinner(ctx, quiet.ID)
	require.NoError(t, err)
	assert.False(t, out.HasWinner())

	assert.Zero(t, f.countRewards(t))
	assert.Zero(t, testutil.MustCount(t, f.db, `SELECT COUNT(*) FROM winners`))
	assert.NotNil(t, f.window(t, quiet.ID).ClosedAt)
}

func TestSelectWinner_ConcurrentCallsRewardOnce(t *testing.T) {
	f := newFixture(t, testutil.Date(2025, time.January, 2, 9))
	w := testutil.CreateWindow(t, f.db, "Courage", jan1, jan8, testutil.Active())

	a := f.submit(t, "alice", w.ID, "Fortune favors the bold.")
	f.vote(t, "carol", a.ID)

	const callers = 8
	var wg sync.WaitGroup
	outcomes := make([]*Outcome, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = f.selector.SelectWinner(context.Background(), w.ID)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.True(t, outcomes[i].HasWinner())
		assert.Equal(t, WinnerID(w.ID), outcomes[i].Winner.ID)
	}
	assert.Equal(t, int64(2), f.countRewards(t))
	assert.Equal(t, int64(1), testutil.MustCount(t, f.db, `SELECT COUNT(*) FROM winners`))
}

func TestSelectWinner_RetryAfterIssueFailure(t *testing.T) {
	issuer := &flakyIssuer{failOn: model.UnitExperience}
	f := newFixtureWithIssuer(t, testutil.Date(2025, time.January, 2, 9), issuer)
	issuer.next = f.ledger
	w := testutil.CreateWindow(t, f.db, "Courage", jan1, jan8, testutil.Active())
	ctx := context.Background()

	a := f.submit(t, "alice", w.ID, "Fortune favors the bold.")
	f.vote(t, "carol", a.ID)

	_, err := f.selector.SelectWinner(ctx, w.ID)
	require.Error(t, err)
	assert.Equal(t, int64(1), f.countRewards(t))
	assert.Zero(t, testutil.MustCount(t, f.db, `SELECT COUNT(*) FROM winners`))

	out, err := f.selector.SelectWinner(ctx, w.ID)
	require.NoError(t, err)
	require.True(t, out.HasWinner())
	assert.Equal(t, int64(2), f.countRewards(t))

	txs, err := f.ledger.Transactions(ctx, "alice")
	require.NoError(t, err)
	keys := make([]string, 0, len(txs))
	for _, tx := range txs {
		keys = append(keys, tx.IdempotencyKey)
	}
	assert.ElementsMatch(t, []string{
		ledger.IdempotencyKey(out.Winner.ID, model.UnitCurrency),
		ledger.IdempotencyKey(out.Winner.ID, model.UnitExperience),
	}, keys)
}

func TestSelectWinner_RetryKeepsFirstAmountsAfterPolicyChange(t *testing.T) {
	issuer := &flakyIssuer{failOn: model.UnitExperience}
	f := newFixtureWithIssuer(t, testutil.Date(2025, time.January, 2, 9), issuer)
	issuer.next = f.ledger
	w := testutil.CreateWindow(t, f.db, "Courage", jan1, jan8, testutil.Active())
	ctx := context.Background()

	a := f.submit(t, "alice", w.ID, "Fortune favors the bold.")
	f.vote(t, "carol", a.ID)

	_, err := f.selector.SelectWinner(ctx, w.ID)
	require.Error(t, err)

	// restarted with different rewards configured
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	restarted := NewWinnerSelector(f.db, f.ledger, RewardPolicy{Currency: 200, Experience: 80}, f.clock.Now, discard)

	out, err := restarted.SelectWinner(ctx, w.ID)
	require.NoError(t, err)
	require.True(t, out.HasWinner())
	assert.Equal(t, int64(100), out.Winner.CurrencyAmount)
	assert.Equal(t, int64(80), out.Winner.ExperienceAmount)
	assert.Equal(t, int64(2), f.countRewards(t))

	replay, err := restarted.SelectWinner(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, int64(1), testutil.MustCount(t, f.db, `SELECT COUNT(*) FROM winners`))
}

func TestSelectWinner_RetryKeepsGrantWhenUnitDisabled(t *testing.T) {
	issuer := &flakyIssuer{failOn: model.UnitExperience}
	f := newFixtureWithIssuer(t, testutil.Date(2025, time.January, 2, 9), issuer)
	issuer.next = f.ledger
	w := testutil.CreateWindow(t, f.db, "Courage", jan1, jan8, testutil.Active())
	ctx := context.Background()

	a := f.submit(t, "alice", w.ID, "Fortune favors the bold.")
	f.vote(t, "carol", a.ID)

	_, err := f.selector.SelectWinner(ctx, w.ID)
	require.Error(t, err)

	f.selector.policy = RewardPolicy{Experience: 50}
	out, err := f.selector.SelectWinner(ctx, w.ID)
	require.NoError(t, err)
	require.NotNil(t, out.Winner.CurrencyTxID)
	assert.Equal(t, int64(100), out.Winner.CurrencyAmount)
	assert.Equal(t, int64(50), out.Winner.ExperienceAmount)
}

func TestSelectWinner_RewardAmounts(t *testing.T) {
	tests := []struct {
		name           string
		policy         RewardPolicy
		window         []testutil.WindowOption
		wantCurrency   int64
		wantExperience int64
		wantRewards    int64
	}{
		{"config default", defaultPolicy, nil, 100, 50, 2},
		{"window override", defaultPolicy, []testutil.WindowOption{testutil.Rewards(500, 0)}, 500, 50, 2},
		{"experience disabled", RewardPolicy{Currency: 100}, nil, 100, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testutil.Date(2025, time.January, 2, 9))
			f.selector.policy = tt.policy
			opts := append([]testutil.WindowOption{testutil.Active()}, tt.window...)
			w := testutil.CreateWindow(t, f.db, "Courage", jan1, jan8, opts...)

			a := f.submit(t, "alice", w.ID, "Fortune favors the bold.")
			f.vote(t, "carol", a.ID)

			out, err := f.selector.SelectWinner(context.Background(), w.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCurrency, out.Winner.CurrencyAmount)
			assert.Equal(t, tt.wantExperience, out.Winner.ExperienceAmount)
			assert.Equal(t, tt.wantRewards, f.countRewards(t))
			if tt.wantExperience == 0 {
				assert.Nil(t, out.Winner.ExperienceTxID)
			}
		})
	}
}

func TestSelectWinner_WindowErrors(t *testing.T) {
	f := newFixture(t, jan1)
	ctx := context.Background()

	scheduled := testutil.CreateWindow(t, f.db, "Kindness", jan8, jan15)

	_, err := f.selector.SelectWinner(ctx, scheduled.ID)
	assert.ErrorIs(t, err, ErrWindowNotStarted)
	assert.Nil(t, f.window(t, scheduled.ID).ClosedAt)

	_, err = f.selector.SelectWinner(ctx, "no-such-window")
	assert.ErrorIs(t, err, ErrWindowNotFound)
}

func TestLatestWinner(t *testing.T) {
	f := newFixture(t, testutil.Date(2025, time.January, 2, 9))
	ctx := context.Background()

	out, err := f.selector.LatestWinner(ctx)
	require.NoError(t, err)
	assert.Nil(t, out)

	w := testutil.CreateWindow(t, f.db, "Courage", jan1, jan8, testutil.Active())
	a := f.submit(t, "alice", w.ID, "Fortune favors the bold.")
	f.vote(t, "carol", a.ID)

	f.clock.Set(jan8)
	_, err = f.selector.SelectWinner(ctx, w.ID)
	require.NoError(t, err)

	out, err = f.selector.LatestWinner(ctx)
	require.NoError(t, err)
	require.True(t, out.HasWinner())
	assert.Equal(t, w.ID, out.WindowID)
	assert.Equal(t, "Fortune favors the bold.", out.Entry.Text)
}
