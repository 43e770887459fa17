package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kkkkikiki/quote-competition/internal/model"
)

const windowColumns = `id, theme, description, timezone, starts_at, ends_at, active,
	next_window_id, currency_reward, experience_reward, closed_at, created_at`

// WindowRepository handles competition window data operations
type WindowRepository struct{}

// NewWindowRepository creates a new window repository
func NewWindowRepository() *WindowRepository {
	return &WindowRepository{}
}

// CreateWindow inserts a new scheduled window
func (r *WindowRepository) CreateWindow(ctx context.Context, db DBExecutor, w *model.CompetitionWindow) error {
	query := `
		INSERT INTO competition_windows (` + windowColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, db.Rebind(query),
		w.ID, w.Theme, w.Description, w.Timezone, utc(w.StartsAt), utc(w.EndsAt), w.Active,
		w.NextWindowID, w.CurrencyReward, w.ExperienceReward, utcPtr(w.ClosedAt), utc(w.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create window: %w", err)
	}

	return nil
}

// GetWindow retrieves a window by ID
func (r *WindowRepository) GetWindow(ctx context.Context, db DBExecutor, id string) (*model.CompetitionWindow, error) {
	return r.getWindow(ctx, db, `WHERE id = ?`, id)
}

// GetWindowForShare retrieves a window by ID and, on Postgres, holds a shared
// row lock until the surrounding transaction ends so the window cannot be
// closed underneath a submission.
func (r *WindowRepository) GetWindowForShare(ctx context.Context, db DBExecutor, id string) (*model.CompetitionWindow, error) {
	return r.getWindow(ctx, db, `WHERE id = ?`+lockClause(db, "FOR SHARE"), id)
}

// GetActiveWindow retrieves the window holding the active flag. It may
// already be frozen if a close was interrupted before rotation.
func (r *WindowRepository) GetActiveWindow(ctx context.Context, db DBExecutor) (*model.CompetitionWindow, error) {
	return r.getWindow(ctx, db, `WHERE active`)
}

func (r *WindowRepository) getWindow(ctx context.Context, db DBExecutor, where string, args ...interface{}) (*model.CompetitionWindow, error) {
	query := `SELECT ` + windowColumns + ` FROM competition_windows ` + where

	var w model.CompetitionWindow
	err := db.GetContext(ctx, &w, db.Rebind(query), args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get window: %w", err)
	}

	return &w, nil
}

// SetNextWindow links a window to the window that follows it
func (r *WindowRepository) SetNextWindow(ctx context.Context, db DBExecutor, id, nextID string) error {
	query := `UPDATE competition_windows SET next_window_id = ? WHERE id = ?`

	result, err := db.ExecContext(ctx, db.Rebind(query), nextID, id)
	if err != nil {
		return fmt.Errorf("failed to link next window: %w", err)
	}
	return requireRow(result)
}

// FreezeWindow stamps closed_at once. Later calls keep the first timestamp.
// The UPDATE also serializes concurrent closers on the window row.
func (r *WindowRepository) FreezeWindow(ctx context.Context, db DBExecutor, id string, at time.Time) error {
	query := `UPDATE competition_windows SET closed_at = COALESCE(closed_at, ?) WHERE id = ?`

	result, err := db.ExecContext(ctx, db.Rebind(query), utc(at), id)
	if err != nil {
		return fmt.Errorf("failed to freeze window: %w", err)
	}
	return requireRow(result)
}

// Deactivate clears the active flag. Returns false if it was already clear.
func (r *WindowRepository) Deactivate(ctx context.Context, db DBExecutor, id string) (bool, error) {
	query := `UPDATE competition_windows SET active = FALSE WHERE id = ? AND active`

	result, err := db.ExecContext(ctx, db.Rebind(query), id)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate window: %w", err)
	}
	return changed(result)
}

// Activate sets the active flag on a window that has not been closed.
// Returns false if the window was already active or is closed. The partial
// unique index rejects activation while another window is active.
func (r *WindowRepository) Activate(ctx context.Context, db DBExecutor, id string) (bool, error) {
	query := `UPDATE competition_windows SET active = TRUE WHERE id = ? AND NOT active AND closed_at IS NULL`

	result, err := db.ExecContext(ctx, db.Rebind(query), id)
	if err != nil {
		return false, fmt.Errorf("failed to activate window: %w", err)
	}
	return changed(result)
}

func changed(result sql.Result) (bool, error) {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

func requireRow(result sql.Result) error {
	ok, err := changed(result)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
