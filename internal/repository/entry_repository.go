package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kkkkikiki/quote-competition/internal/model"
)

// EntryRepository handles entry and vote data operations
type EntryRepository struct{}

// NewEntryRepository creates a new entry repository
func NewEntryRepository() *EntryRepository {
	return &EntryRepository{}
}

// InsertEntry stores an entry unless the author already has one in the
// window. Returns false on that conflict.
func (r *EntryRepository) InsertEntry(ctx context.Context, db DBExecutor, e *model.Entry) (bool, error) {
	query := `
		INSERT INTO entries (id, window_id, author_id, text, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (window_id, author_id) DO NOTHING
	`

	inserted, err := insertIgnoringConflict(ctx, db, query,
		e.ID, e.WindowID, e.AuthorID, e.Text, utc(e.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("failed to insert entry: %w", err)
	}
	return inserted, nil
}

// GetEntry retrieves an entry by ID
func (r *EntryRepository) GetEntry(ctx context.Context, db DBExecutor, id string) (*model.Entry, error) {
	query := `SELECT id, window_id, author_id, text, created_at FROM entries WHERE id = ?`

	var e model.Entry
	if err := db.GetContext(ctx, &e, db.Rebind(query), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	return &e, nil
}

// GetEntryByAuthor retrieves the author's entry for a window
func (r *EntryRepository) GetEntryByAuthor(ctx context.Context, db DBExecutor, windowID, authorID string) (*model.Entry, error) {
	query := `
		SELECT id, window_id, author_id, text, created_at
		FROM entries
		WHERE window_id = ? AND author_id = ?
	`

	var e model.Entry
	if err := db.GetContext(ctx, &e, db.Rebind(query), windowID, authorID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	return &e, nil
}

// ListEntryTallies returns every entry of a window with its vote count,
// highest first, then earliest submission, then author id.
func (r *EntryRepository) ListEntryTallies(ctx context.Context, db DBExecutor, windowID string) ([]model.EntryTally, error) {
	query := `
		SELECT e.id, e.window_id, e.author_id, e.text, e.created_at,
			(SELECT COUNT(1) FROM votes v WHERE v.entry_id = e.id) AS votes
		FROM entries e
		WHERE e.window_id = ?
		ORDER BY votes DESC, e.created_at ASC, e.author_id ASC
	`

	var tallies []model.EntryTally
	if err := db.SelectContext(ctx, &tallies, db.Rebind(query), windowID); err != nil {
		return nil, fmt.Errorf("failed to tally entries: %w", err)
	}
	return tallies, nil
}

// InsertVote stores a vote unless the voter already voted in the window on
// the same day. Returns false on that conflict.
func (r *EntryRepository) InsertVote(ctx context.Context, db DBExecutor, v *model.Vote) (bool, error) {
	query := `
		INSERT INTO votes (id, entry_id, window_id, voter_id, vote_day, cast_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (voter_id, window_id, vote_day) DO NOTHING
	`

	inserted, err := insertIgnoringConflict(ctx, db, query,
		v.ID, v.EntryID, v.WindowID, v.VoterID, v.VoteDay, utc(v.CastAt))
	if err != nil {
		return false, fmt.Errorf("failed to insert vote: %w", err)
	}
	return inserted, nil
}

// HasVotedOn reports whether the voter has a vote in the window on day
func (r *EntryRepository) HasVotedOn(ctx context.Context, db DBExecutor, voterID, windowID, day string) (bool, error) {
	query := `SELECT COUNT(1) FROM votes WHERE voter_id = ? AND window_id = ? AND vote_day = ?`

	var count int64
	if err := db.GetContext(ctx, &count, db.Rebind(query), voterID, windowID, day); err != nil {
		return false, fmt.Errorf("failed to check vote: %w", err)
	}
	return count > 0, nil
}

// CountVotes returns the number of votes cast for an entry
func (r *EntryRepository) CountVotes(ctx context.Context, db DBExecutor, entryID string) (int64, error) {
	query := `SELECT COUNT(1) FROM votes WHERE entry_id = ?`

	var count int64
	if err := db.GetContext(ctx, &count, db.Rebind(query), entryID); err != nil {
		return 0, fmt.Errorf("failed to count votes: %w", err)
	}
	return count, nil
}
