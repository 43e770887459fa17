package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"connectrpc.com/connect"

	"github.com/kkkkikiki/quote-competition/internal/competition"
	"github.com/kkkkikiki/quote-competition/internal/ledger"
	"github.com/kkkkikiki/quote-competition/internal/metrics"
	"github.com/kkkkikiki/quote-competition/internal/model"
)

const (
	// UserIDHeader carries the caller identity set by the authentication gateway
	UserIDHeader = "X-User-Id"

	// ErrorCodeHeader carries the domain error code of a failed call
	ErrorCodeHeader = "Competition-Error-Code"
)

// Components are the domain services behind the RPC surface
type Components struct {
	Entries   *competition.EntryStore
	Voting    *competition.VotingService
	Selector  *competition.WinnerSelector
	Scheduler *competition.Scheduler
	Ledger    *ledger.Ledger
}

// CompetitionServer implements the competition service
type CompetitionServer struct {
	Components
	limiter *VoterLimiter
	logger  *slog.Logger
}

var _ CompetitionServiceHandler = (*CompetitionServer)(nil)

// NewCompetitionServer creates a new CompetitionServer instance
func NewCompetitionServer(c Components, limiter *VoterLimiter, logger *slog.Logger) *CompetitionServer {
	if limiter == nil {
		limiter = NewVoterLimiter(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CompetitionServer{Components: c, limiter: limiter, logger: logger}
}

// SubmitEntry stores the caller's quote for the active window
func (s *CompetitionServer) SubmitEntry(
	ctx context.Context,
	req *connect.Request[SubmitEntryRequest],
) (*connect.Response[SubmitEntryResponse], error) {
	userID, err := callerID(req.Header().Get(UserIDHeader))
	if err != nil {
		return nil, err
	}

	var entry *model.Entry
	if req.Msg.WindowID != "" {
		entry, err = s.Entries.Submit(ctx, userID, req.Msg.WindowID, req.Msg.Text)
	} else {
		entry, err = s.Entries.SubmitToActive(ctx, userID, req.Msg.Text)
	}
	if err != nil {
		return nil, s.fail(req.Spec().Procedure, err)
	}

	return connect.NewResponse(&SubmitEntryResponse{Entry: entry}), nil
}

// CastVote records the caller's daily vote for an entry
func (s *CompetitionServer) CastVote(
	ctx context.Context,
	req *connect.Request[CastVoteRequest],
) (*connect.Response[CastVoteResponse], error) {
	voterID, err := callerID(req.Header().Get(UserIDHeader))
	if err != nil {
		return nil, err
	}

	if !s.limiter.Allow(voterID) {
		metrics.VotesRejected.WithLabelValues("RATE_LIMITED").Inc()
		return nil, withErrorCode(
			connect.NewError(connect.CodeResourceExhausted, errors.New("too many vote requests")),
			"RATE_LIMITED")
	}

	result, err := s.Voting.Vote(ctx, voterID, req.Msg.EntryID)
	if err != nil {
		return nil, s.fail(req.Spec().Procedure, err)
	}

	return connect.NewResponse(&CastVoteResponse{Vote: result.Vote, Tally: result.Tally}), nil
}

// CloseWindow closes the given window, or the active window once it has
// ended, announces its winner and rotates to the next window
func (s *CompetitionServer) CloseWindow(
	ctx context.Context,
	req *connect.Request[CloseWindowRequest],
) (*connect.Response[CloseWindowResponse], error) {
	var (
		rotation *competition.Rotation
		err      error
	)
	if req.Msg.WindowID != "" {
		rotation, err = s.Scheduler.CloseAndRotate(ctx, req.Msg.WindowID)
	} else {
		rotation, err = s.Scheduler.CloseDue(ctx)
	}
	if err != nil {
		return nil, s.fail(req.Spec().Procedure, err)
	}

	res := &CloseWindowResponse{}
	if rotation != nil {
		res.Closed = true
		res.ClosedWindowID = rotation.ClosedWindowID
		res.NextWindowID = rotation.NextWindowID
		res.NextActivated = rotation.Activated
		res.Winner = summarize(rotation.Outcome)
		res.NoWinner = res.Winner == nil
	}

	return connect.NewResponse(res), nil
}

// GetActiveWindow returns the window currently accepting entries and votes
func (s *CompetitionServer) GetActiveWindow(
	ctx context.Context,
	req *connect.Request[GetActiveWindowRequest],
) (*connect.Response[GetActiveWindowResponse], error) {
	window, err := s.Scheduler.GetActiveWindow(ctx)
	if err != nil {
		return nil, s.fail(req.Spec().Procedure, err)
	}

	res := &GetActiveWindowResponse{Window: window}
	if userID := strings.TrimSpace(req.Header().Get(UserIDHeader)); window != nil && userID != "" {
		res.VotedToday, err = s.Voting.HasVotedToday(ctx, userID, window.ID)
		if err != nil {
			return nil, s.fail(req.Spec().Procedure, err)
		}
		res.OwnEntry, err = s.Entries.EntryByAuthor(ctx, window.ID, userID)
		if err != nil {
			return nil, s.fail(req.Spec().Procedure, err)
		}
	}

	return connect.NewResponse(res), nil
}

// ListEntries returns a window's entries with their live tallies
func (s *CompetitionServer) ListEntries(
	ctx context.Context,
	req *connect.Request[ListEntriesRequest],
) (*connect.Response[ListEntriesResponse], error) {
	windowID := req.Msg.WindowID
	if windowID == "" {
		window, err := s.Scheduler.GetActiveWindow(ctx)
		if err != nil {
			return nil, s.fail(req.Spec().Procedure, err)
		}
		if window == nil {
			return connect.NewResponse(&ListEntriesResponse{Entries: []model.EntryTally{}}), nil
		}
		windowID = window.ID
	}

	entries, err := s.Entries.ListEntries(ctx, windowID)
	if err != nil {
		return nil, s.fail(req.Spec().Procedure, err)
	}
	if entries == nil {
		entries = []model.EntryTally{}
	}

	return connect.NewResponse(&ListEntriesResponse{WindowID: windowID, Entries: entries}), nil
}

// GetLatestWinner returns the most recently announced winner
func (s *CompetitionServer) GetLatestWinner(
	ctx context.Context,
	req *connect.Request[GetLatestWinnerRequest],
) (*connect.Response[GetLatestWinnerResponse], error) {
	outcome, err := s.Selector.LatestWinner(ctx)
	if err != nil {
		return nil, s.fail(req.Spec().Procedure, err)
	}

	return connect.NewResponse(&GetLatestWinnerResponse{Winner: summarize(outcome)}), nil
}

// CreateWindow schedules a new competition window
func (s *CompetitionServer) CreateWindow(
	ctx context.Context,
	req *connect.Request[CreateWindowRequest],
) (*connect.Response[CreateWindowResponse], error) {
	window, err := s.Scheduler.CreateWindow(ctx, competition.NewWindow{
		Theme:            req.Msg.Theme,
		Description:      req.Msg.Description,
		Timezone:         req.Msg.Timezone,
		StartsAt:         req.Msg.StartsAt,
		EndsAt:           req.Msg.EndsAt,
		CurrencyReward:   req.Msg.CurrencyReward,
		ExperienceReward: req.Msg.ExperienceReward,
		FollowsWindowID:  req.Msg.FollowsWindowID,
	})
	if err != nil {
		return nil, s.fail(req.Spec().Procedure, err)
	}

	return connect.NewResponse(&CreateWindowResponse{Window: window}), nil
}

// ActivateWindow makes a scheduled window the active one
func (s *CompetitionServer) ActivateWindow(
	ctx context.Context,
	req *connect.Request[ActivateWindowRequest],
) (*connect.Response[ActivateWindowResponse], error) {
	window, err := s.Scheduler.ActivateWindow(ctx, req.Msg.WindowID)
	if err != nil {
		return nil, s.fail(req.Spec().Procedure, err)
	}

	return connect.NewResponse(&ActivateWindowResponse{Window: window}), nil
}

// GetRewards returns the caller's balance and reward history
func (s *CompetitionServer) GetRewards(
	ctx context.Context,
	req *connect.Request[GetRewardsRequest],
) (*connect.Response[GetRewardsResponse], error) {
	userID, err := callerID(req.Header().Get(UserIDHeader))
	if err != nil {
		return nil, err
	}

	balance, err := s.Ledger.Balance(ctx, userID)
	if err != nil {
		return nil, s.fail(req.Spec().Procedure, err)
	}
	txs, err := s.Ledger.Transactions(ctx, userID)
	if err != nil {
		return nil, s.fail(req.Spec().Procedure, err)
	}
	if txs == nil {
		txs = []model.RewardTransaction{}
	}

	return connect.NewResponse(&GetRewardsResponse{Balance: balance, Transactions: txs}), nil
}

func callerID(header string) (string, error) {
	userID := strings.TrimSpace(header)
	if userID == "" {
		return "", connect.NewError(connect.CodeUnauthenticated, fmt.Errorf("missing %s header", UserIDHeader))
	}
	return userID, nil
}

// fail converts err to a connect error and logs failures the caller cannot fix.
func (s *CompetitionServer) fail(procedure string, err error) error {
	connectErr := toConnectError(err)
	if connectErr.Code() == connect.CodeInternal || connectErr.Code() == connect.CodeUnknown {
		s.logger.Error("request failed",
			"procedure", procedure,
			"error", err,
		)
	}
	return connectErr
}
