package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/quote-competition/internal/competition"
	"github.com/kkkkikiki/quote-competition/internal/ledger"
	"github.com/kkkkikiki/quote-competition/internal/testutil"
)

const triggerSecret = "s3cret"

var (
	jan1 = testutil.Date(2025, time.January, 1, 0)
	jan8 = testutil.Date(2025, time.January, 8, 0)
)

type testServer struct {
	db     *sqlx.DB
	clock  *testutil.Clock
	ledger *ledger.Ledger
	client CompetitionServiceClient
}

func newTestServer(t *testing.T, at time.Time, votesPerMinute int) *testServer {
	t.Helper()

	db := testutil.NewDB(t)
	clock := testutil.NewClock(at)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	l := ledger.New(db, nil, clock.Now)
	selector := competition.NewWinnerSelector(db, l, competition.RewardPolicy{Currency: 100, Experience: 50}, clock.Now, logger)
	server := NewCompetitionServer(Components{
		Entries:   competition.NewEntryStore(db, 180, clock.Now),
		Voting:    competition.NewVotingService(db, false, clock.Now),
		Selector:  selector,
		Scheduler: competition.NewScheduler(db, selector, clock.Now, logger),
		Ledger:    l,
	}, NewVoterLimiter(votesPerMinute), logger)

	path, handler := NewCompetitionServiceHandler(server, connect.WithInterceptors(
		NewMetricsInterceptor(),
		NewTriggerAuthInterceptor(triggerSecret, logger),
	))
	mux := http.NewServeMux()
	mux.Handle(path, handler)

	httpServer := httptest.NewServer(mux)
	t.Cleanup(httpServer.Close)

	return &testServer{
		db:     db,
		clock:  clock,
		ledger: l,
		client: NewCompetitionServiceClient(httpServer.Client(), httpServer.URL),
	}
}

func asUser[T any](userID string, msg *T) *connect.Request[T] {
	req := connect.NewRequest(msg)
	req.Header().Set(UserIDHeader, userID)
	return req
}

func asTrigger[T any](msg *T) *connect.Request[T] {
	req := connect.NewRequest(msg)
	req.Header().Set("Authorization", "Bearer "+triggerSecret)
	return req
}

func errorCode(t *testing.T, err error) string {
	t.Helper()
	var connectErr *connect.Error
	require.True(t, errors.As(err, &connectErr), "not a connect error: %v", err)
	return connectErr.Meta().Get(ErrorCodeHeader)
}

func (s *testServer) openWindow(t *testing.T, theme string, start, end time.Time) string {
	t.Helper()
	ctx := context.Background()

	created, err := s.client.CreateWindow(ctx, asTrigger(&CreateWindowRequest{
		Theme:    theme,
		StartsAt: start,
		EndsAt:   end,
	}))
	require.NoError(t, err)

	_, err = s.client.ActivateWindow(ctx, asTrigger(&ActivateWindowRequest{WindowID: created.Msg.Window.ID}))
	require.NoError(t, err)
	return created.Msg.Window.ID
}

func TestCompetitionServer_WeeklyCycle(t *testing.T) {
	s := newTestServer(t, jan1, 0)
	ctx := context.Background()

	windowID := s.openWindow(t, "Courage", jan1, jan8)

	s.clock.Set(jan1.Add(time.Hour))
	alice, err := s.client.SubmitEntry(ctx, asUser("alice", &SubmitEntryRequest{Text: "Fortune favors the bold."}))
	require.NoError(t, err)
	assert.Equal(t, windowID, alice.Msg.Entry.WindowID)

	_, err = s.client.SubmitEntry(ctx, asUser("bob", &SubmitEntryRequest{WindowID: windowID, Text: "Be bold, be brave."}))
	require.NoError(t, err)

	s.clock.Set(testutil.Date(2025, time.January, 2, 12))
	vote, err := s.client.CastVote(ctx, asUser("carol", &CastVoteRequest{EntryID: alice.Msg.Entry.ID}))
	require.NoError(t, err)
	assert.Equal(t, int64(1), vote.Msg.Tally)
	assert.Equal(t, "2025-01-02", vote.Msg.Vote.VoteDay)

	active, err := s.client.GetActiveWindow(ctx, asUser("carol", &GetActiveWindowRequest{}))
	require.NoError(t, err)
	require.NotNil(t, active.Msg.Window)
	assert.Equal(t, "Courage", active.Msg.Window.Theme)
	assert.True(t, active.Msg.VotedToday)
	assert.Nil(t, active.Msg.OwnEntry)

	active, err = s.client.GetActiveWindow(ctx, asUser("alice", &GetActiveWindowRequest{}))
	require.NoError(t, err)
	assert.False(t, active.Msg.VotedToday)
	require.NotNil(t, active.Msg.OwnEntry)
	assert.Equal(t, alice.Msg.Entry.ID, active.Msg.OwnEntry.ID)

	entries, err := s.client.ListEntries(ctx, connect.NewRequest(&ListEntriesRequest{}))
	require.NoError(t, err)
	assert.Equal(t, windowID, entries.Msg.WindowID)
	require.Len(t, entries.Msg.Entries, 2)
	assert.Equal(t, alice.Msg.Entry.ID, entries.Msg.Entries[0].ID)
	assert.Equal(t, int64(1), entries.Msg.Entries[0].Votes)

	// not due until the window ends
	closed, err := s.client.CloseWindow(ctx, asTrigger(&CloseWindowRequest{}))
	require.NoError(t, err)
	assert.False(t, closed.Msg.Closed)

	s.clock.Set(jan8)
	closed, err = s.client.CloseWindow(ctx, asTrigger(&CloseWindowRequest{}))
	require.NoError(t, err)
	assert.True(t, closed.Msg.Closed)
	assert.Equal(t, windowID, closed.Msg.ClosedWindowID)
	assert.False(t, closed.Msg.NoWinner)
	require.NotNil(t, closed.Msg.Winner)
	assert.Equal(t, "alice", closed.Msg.Winner.AuthorID)
	assert.Equal(t, "Fortune favors the bold.", closed.Msg.Winner.EntryText)
	assert.Equal(t, int64(100), closed.Msg.Winner.CurrencyAmount)

	// a repeated trigger for the same window replays the result
	again, err := s.client.CloseWindow(ctx, asTrigger(&CloseWindowRequest{WindowID: windowID}))
	require.NoError(t, err)
	assert.Equal(t, closed.Msg.Winner, again.Msg.Winner)

	latest, err := s.client.GetLatestWinner(ctx, connect.NewRequest(&GetLatestWinnerRequest{}))
	require.NoError(t, err)
	assert.Equal(t, closed.Msg.Winner, latest.Msg.Winner)

	_, err = s.ledger.ApplyPending(ctx, 10)
	require.NoError(t, err)

	rewards, err := s.client.GetRewards(ctx, asUser("alice", &GetRewardsRequest{}))
	require.NoError(t, err)
	assert.Equal(t, int64(100), rewards.Msg.Balance.Currency)
	assert.Equal(t, int64(50), rewards.Msg.Balance.Experience)
	assert.Len(t, rewards.Msg.Transactions, 2)

	active, err = s.client.GetActiveWindow(ctx, connect.NewRequest(&GetActiveWindowRequest{}))
	require.NoError(t, err)
	assert.Nil(t, active.Msg.Window)
}

func TestCompetitionServer_ProtectedProcedures(t *testing.T) {
	s := newTestServer(t, jan1, 0)
	ctx := context.Background()

	wrong := connect.NewRequest(&CloseWindowRequest{})
	wrong.Header().Set("Authorization", "Bearer guess")
	_, err := s.client.CloseWindow(ctx, wrong)
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	// the raw secret without the scheme is not accepted
	bare := connect.NewRequest(&CloseWindowRequest{})
	bare.Header().Set("Authorization", triggerSecret)
	_, err = s.client.CloseWindow(ctx, bare)
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	_, err = s.client.CreateWindow(ctx, connect.NewRequest(&CreateWindowRequest{Theme: "Courage", StartsAt: jan1, EndsAt: jan8}))
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	_, err = s.client.ActivateWindow(ctx, connect.NewRequest(&ActivateWindowRequest{WindowID: "w"}))
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	assert.Zero(t, testutil.MustCount(t, s.db, `SELECT COUNT(*) FROM competition_windows`))
}

func TestCompetitionServer_DomainErrors(t *testing.T) {
	s := newTestServer(t, jan1, 0)
	ctx := context.Background()

	windowID := s.openWindow(t, "Courage", jan1, jan8)
	alice, err := s.client.SubmitEntry(ctx, asUser("alice", &SubmitEntryRequest{Text: "Fortune favors the bold."}))
	require.NoError(t, err)

	_, err = s.client.SubmitEntry(ctx, asUser("alice", &SubmitEntryRequest{Text: "Another one."}))
	assert.Equal(t, connect.CodeAlreadyExists, connect.CodeOf(err))
	assert.Equal(t, "DUPLICATE", errorCode(t, err))

	_, err = s.client.SubmitEntry(ctx, asUser("bob", &SubmitEntryRequest{Text: "   "}))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
	assert.Equal(t, "EMPTY", errorCode(t, err))

	_, err = s.client.SubmitEntry(ctx, connect.NewRequest(&SubmitEntryRequest{Text: "Anonymous."}))
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	_, err = s.client.CastVote(ctx, asUser("alice", &CastVoteRequest{EntryID: alice.Msg.Entry.ID}))
	assert.Equal(t, connect.CodePermissionDenied, connect.CodeOf(err))
	assert.Equal(t, "SELF_VOTE", errorCode(t, err))

	_, err = s.client.CastVote(ctx, asUser("carol", &CastVoteRequest{EntryID: alice.Msg.Entry.ID}))
	require.NoError(t, err)
	_, err = s.client.CastVote(ctx, asUser("carol", &CastVoteRequest{EntryID: alice.Msg.Entry.ID}))
	assert.Equal(t, connect.CodeAlreadyExists, connect.CodeOf(err))
	assert.Equal(t, "ALREADY_VOTED", errorCode(t, err))

	_, err = s.client.CastVote(ctx, asUser("carol", &CastVoteRequest{EntryID: "no-such-entry"}))
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	_, err = s.client.CloseWindow(ctx, asTrigger(&CloseWindowRequest{WindowID: windowID}))
	require.NoError(t, err)

	_, err = s.client.CastVote(ctx, asUser("dave", &CastVoteRequest{EntryID: alice.Msg.Entry.ID}))
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))
	assert.Equal(t, "WINDOW_CLOSED", errorCode(t, err))

	_, err = s.client.SubmitEntry(ctx, asUser("erin", &SubmitEntryRequest{Text: "Too late."}))
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))
	assert.Equal(t, "WINDOW_INACTIVE", errorCode(t, err))

	_, err = s.client.CreateWindow(ctx, asTrigger(&CreateWindowRequest{Theme: "Kindness", StartsAt: jan8, EndsAt: jan1}))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestCompetitionServer_CloseWithoutVotes(t *testing.T) {
	s := newTestServer(t, jan1, 0)
	ctx := context.Background()

	windowID := s.openWindow(t, "Courage", jan1, jan8)

	closed, err := s.client.CloseWindow(ctx, asTrigger(&CloseWindowRequest{WindowID: windowID}))
	require.NoError(t, err)
	assert.True(t, closed.Msg.Closed)
	assert.True(t, closed.Msg.NoWinner)
	assert.Nil(t, closed.Msg.Winner)

	latest, err := s.client.GetLatestWinner(ctx, connect.NewRequest(&GetLatestWinnerRequest{}))
	require.NoError(t, err)
	assert.Nil(t, latest.Msg.Winner)
}

func TestCompetitionServer_VoteRateLimit(t *testing.T) {
	s := newTestServer(t, jan1, 1)
	ctx := context.Background()

	s.openWindow(t, "Courage", jan1, jan8)
	alice, err := s.client.SubmitEntry(ctx, asUser("alice", &SubmitEntryRequest{Text: "Fortune favors the bold."}))
	require.NoError(t, err)

	_, err = s.client.CastVote(ctx, asUser("carol", &CastVoteRequest{EntryID: alice.Msg.Entry.ID}))
	require.NoError(t, err)

	_, err = s.client.CastVote(ctx, asUser("carol", &CastVoteRequest{EntryID: alice.Msg.Entry.ID}))
	assert.Equal(t, connect.CodeResourceExhausted, connect.CodeOf(err))
	assert.Equal(t, "RATE_LIMITED", errorCode(t, err))

	// other voters have their own budget
	_, err = s.client.CastVote(ctx, asUser("dave", &CastVoteRequest{EntryID: alice.Msg.Entry.ID}))
	require.NoError(t, err)
}

func TestToConnectError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  connect.Code
		wantField string
	}{
		{"too long", &competition.ValidationError{Code: competition.CodeTooLong}, connect.CodeInvalidArgument, "TOO_LONG"},
		{"window inactive", &competition.ValidationError{Code: competition.CodeWindowInactive}, connect.CodeFailedPrecondition, "WINDOW_INACTIVE"},
		{"window closed", &competition.ConstraintError{Code: competition.CodeWindowClosed}, connect.CodeFailedPrecondition, "WINDOW_CLOSED"},
		{"wrapped not started", fmt.Errorf("close: %w", competition.ErrWindowNotStarted), connect.CodeFailedPrecondition, ""},
		{"window active", competition.ErrWindowActive, connect.CodeFailedPrecondition, ""},
		{"unknown window", competition.ErrWindowNotFound, connect.CodeNotFound, ""},
		{"canceled", context.Canceled, connect.CodeCanceled, ""},
		{"storage failure", errors.New("disk full"), connect.CodeInternal, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toConnectError(tt.err)
			assert.Equal(t, tt.wantCode, got.Code())
			assert.Equal(t, tt.wantField, got.Meta().Get(ErrorCodeHeader))
		})
	}
}

func TestToConnectError_HidesStorageDetail(t *testing.T) {
	err := fmt.Errorf("failed to get window: %w", errors.New(`pq: relation "competition_windows" does not exist`))

	got := toConnectError(err)
	assert.Equal(t, connect.CodeInternal, got.Code())
	assert.Equal(t, "internal error", got.Message())
	assert.NotContains(t, got.Error(), "competition_windows")
}

func TestVoterLimiter(t *testing.T) {
	disabled := NewVoterLimiter(0)
	for i := 0; i < 100; i++ {
		require.True(t, disabled.Allow("carol"))
	}

	limited := NewVoterLimiter(60)
	for i := 0; i < 6; i++ {
		assert.True(t, limited.Allow("carol"), "request %d", i)
	}
	assert.False(t, limited.Allow("carol"))
	assert.True(t, limited.Allow("dave"))
}
