package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kkkkikiki/quote-competition/internal/model"
)

const winnerColumns = `id, window_id, entry_id, author_id, vote_count, currency_amount,
	experience_amount, currency_tx_id, experience_tx_id, announced_at`

// WinnerRepository handles winner data operations
type WinnerRepository struct{}

// NewWinnerRepository creates a new winner repository
func NewWinnerRepository() *WinnerRepository {
	return &WinnerRepository{}
}

// InsertWinner stores the winner of a window unless one is already stored.
// Returns false on that conflict.
func (r *WinnerRepository) InsertWinner(ctx context.Context, db DBExecutor, w *model.Winner) (bool, error) {
	query := `
		INSERT INTO winners (` + winnerColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (window_id) DO NOTHING
	`

	inserted, err := insertIgnoringConflict(ctx, db, query,
		w.ID, w.WindowID, w.EntryID, w.AuthorID, w.VoteCount, w.CurrencyAmount,
		w.ExperienceAmount, w.CurrencyTxID, w.ExperienceTxID, utc(w.AnnouncedAt))
	if err != nil {
		return false, fmt.Errorf("failed to insert winner: %w", err)
	}
	return inserted, nil
}

// GetWinnerByWindow retrieves the winner of a window
func (r *WinnerRepository) GetWinnerByWindow(ctx context.Context, db DBExecutor, windowID string) (*model.Winner, error) {
	return r.getWinner(ctx, db, `WHERE window_id = ?`, windowID)
}

// GetLatestWinner retrieves the most recently announced winner
func (r *WinnerRepository) GetLatestWinner(ctx context.Context, db DBExecutor) (*model.Winner, error) {
	return r.getWinner(ctx, db, `ORDER BY announced_at DESC, id DESC LIMIT 1`)
}

func (r *WinnerRepository) getWinner(ctx context.Context, db DBExecutor, clause string, args ...interface{}) (*model.Winner, error) {
	query := `SELECT ` + winnerColumns + ` FROM winners ` + clause

	var w model.Winner
	if err := db.GetContext(ctx, &w, db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get winner: %w", err)
	}
	return &w, nil
}
