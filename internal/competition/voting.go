package competition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kkkkikiki/quote-competition/internal/metrics"
	"github.com/kkkkikiki/quote-competition/internal/model"
	"github.com/kkkkikiki/quote-competition/internal/repository"
)

// VoteResult is a recorded vote and the entry's tally after it
type VoteResult struct {
	Vote  model.Vote
	Tally int64
}

// VotingService records at most one vote per voter, window and calendar day
type VotingService struct {
	db            *sqlx.DB
	windows       *repository.WindowRepository
	entries       *repository.EntryRepository
	allowSelfVote bool
	now           func() time.Time
}

// NewVotingService creates a voting service. A nil clock uses time.Now.
func NewVotingService(db *sqlx.DB, allowSelfVote bool, now func() time.Time) *VotingService {
	if now == nil {
		now = time.Now
	}
	return &VotingService{
		db:            db,
		windows:       repository.NewWindowRepository(),
		entries:       repository.NewEntryRepository(),
		allowSelfVote: allowSelfVote,
		now:           now,
	}
}

// Vote records voterID's vote for entryID and returns the entry's updated
// tally. The day is taken in the window's time zone; a voter who already
// voted in the window that day is refused whichever entry they picked.
func (s *VotingService) Vote(ctx context.Context, voterID, entryID string) (*VoteResult, error) {
	if strings.TrimSpace(voterID) == "" {
		return nil, ErrMissingUser
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	entry, err := s.entries.GetEntry(ctx, tx, entryID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}

	window, err := s.windows.GetWindowForShare(ctx, tx, entry.WindowID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !window.AcceptsSubmissions(now) {
		return nil, reject(CodeWindowClosed, "window %s is not accepting votes", window.ID)
	}
	if !s.allowSelfVote && entry.AuthorID == voterID {
		return nil, reject(CodeSelfVote, "authors cannot vote for their own entry")
	}

	vote := model.Vote{
		ID:       uuid.NewString(),
		EntryID:  entry.ID,
		WindowID: window.ID,
		VoterID:  voterID,
		VoteDay:  window.Day(now),
		CastAt:   now,
	}

	// the unique (voter_id, window_id, vote_day) constraint enforces the daily limit
	inserted, err := s.entries.InsertVote(ctx, tx, &vote)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, reject(CodeAlreadyVoted, "already voted in window %s on %s", window.ID, vote.VoteDay)
	}

	tally, err := s.entries.CountVotes(ctx, tx, entry.ID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &VoteResult{Vote: vote, Tally: tally}, nil
}

// HasVotedToday reports whether voterID already voted in windowID on the
// current calendar day of the window's time zone.
func (s *VotingService) HasVotedToday(ctx context.Context, voterID, windowID string) (bool, error) {
	window, err := s.windows.GetWindow(ctx, s.db, windowID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, ErrWindowNotFound
		}
		return false, err
	}
	return s.entries.HasVotedOn(ctx, s.db, voterID, windowID, window.Day(s.now()))
}

func reject(code ConstraintCode, format string, args ...interface{}) error {
	metrics.VotesRejected.WithLabelValues(string(code)).Inc()
	return constraintError(code, format, args...)
}
