package competition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kkkkikiki/quote-competition/internal/metrics"
	"github.com/kkkkikiki/quote-competition/internal/model"
	"github.com/kkkkikiki/quote-competition/internal/repository"
)

// Rotation is the result of closing a window and activating its successor
type Rotation struct {
	ClosedWindowID string
	Outcome        *Outcome
	NextWindowID   string // empty when no window follows
	Activated      bool   // true when this call activated the next window
}

// NewWindow describes a window to schedule
type NewWindow struct {
	Theme            string
	Description      string
	Timezone         string
	StartsAt         time.Time
	EndsAt           time.Time
	CurrencyReward   int64
	ExperienceReward int64
	FollowsWindowID  string // optional window this one succeeds
}

// Scheduler owns the window lifecycle. It is the only writer of the active
// flag, and at most one window holds it at a time.
type Scheduler struct {
	mu       sync.Mutex
	db       *sqlx.DB
	windows  *repository.WindowRepository
	selector *WinnerSelector
	now      func() time.Time
	logger   *slog.Logger
}

// NewScheduler creates a scheduler closing windows through selector.
func NewScheduler(db *sqlx.DB, selector *WinnerSelector, now func() time.Time, logger *slog.Logger) *Scheduler {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		db:       db,
		windows:  repository.NewWindowRepository(),
		selector: selector,
		now:      now,
		logger:   logger,
	}
}

// GetActiveWindow returns the active window if now falls inside it, or nil.
func (s *Scheduler) GetActiveWindow(ctx context.Context) (*model.CompetitionWindow, error) {
	window, err := s.windows.GetActiveWindow(ctx, s.db)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !window.AcceptsSubmissions(s.now()) {
		return nil, nil
	}
	return window, nil
}

// CloseAndRotate closes windowID, selects its winner and activates the
// window linked as its successor. Invoking it again for an already rotated
// window returns the stored outcome and changes nothing.
func (s *Scheduler) CloseAndRotate(ctx context.Context, windowID string) (*Rotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	outcome, err := s.selector.SelectWinner(ctx, windowID)
	if err != nil {
		return nil, err
	}

	window, err := s.windows.GetWindow(ctx, s.db, windowID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	deactivated, err := s.windows.Deactivate(ctx, tx, windowID)
	if err != nil {
		return nil, err
	}

	rotation := &Rotation{
		ClosedWindowID: windowID,
		Outcome:        outcome,
		NextWindowID:   window.Next(),
	}

	// deactivation and activation commit together, so a window that is
	// already inactive was rotated before
	if deactivated && rotation.NextWindowID != "" {
		rotation.Activated, err = s.windows.Activate(ctx, tx, rotation.NextWindowID)
		if err != nil {
			if repository.IsUniqueViolation(err) {
				return nil, fmt.Errorf("%w: cannot activate %s", ErrWindowActive, rotation.NextWindowID)
			}
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if !deactivated {
		return rotation, nil
	}

	result := "no_winner"
	if outcome.HasWinner() {
		result = "winner"
	}
	metrics.Rotations.WithLabelValues(result).Inc()

	switch {
	case rotation.NextWindowID == "":
		s.logger.Warn("no next window configured, competition is idle",
			"closed_window_id", windowID,
		)
	case !rotation.Activated:
		s.logger.Warn("next window could not be activated",
			"closed_window_id", windowID,
			"next_window_id", rotation.NextWindowID,
		)
	default:
		s.logger.Info("window rotated",
			"closed_window_id", windowID,
			"next_window_id", rotation.NextWindowID,
			"outcome", result,
		)
	}

	return rotation, nil
}

// CloseDue closes the active window once its end has passed. Returns nil
// when nothing is due.
func (s *Scheduler) CloseDue(ctx context.Context) (*Rotation, error) {
	window, err := s.windows.GetActiveWindow(ctx, s.db)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if s.now().Before(window.EndsAt) {
		return nil, nil
	}
	return s.CloseAndRotate(ctx, window.ID)
}

// CreateWindow schedules a new window. When FollowsWindowID is set the new
// window becomes that window's successor and must not start before it ends.
func (s *Scheduler) CreateWindow(ctx context.Context, nw NewWindow) (*model.CompetitionWindow, error) {
	if err := checkNewWindow(nw); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	window := &model.CompetitionWindow{
		ID:               uuid.NewString(),
		Theme:            strings.TrimSpace(nw.Theme),
		Description:      nw.Description,
		Timezone:         nw.Timezone,
		StartsAt:         nw.StartsAt,
		EndsAt:           nw.EndsAt,
		CurrencyReward:   nw.CurrencyReward,
		ExperienceReward: nw.ExperienceReward,
		CreatedAt:        s.now(),
	}
	if window.Timezone == "" {
		window.Timezone = "UTC"
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if nw.FollowsWindowID != "" {
		prev, err := s.windows.GetWindow(ctx, tx, nw.FollowsWindowID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrWindowNotFound, nw.FollowsWindowID)
			}
			return nil, err
		}
		if prev.State() == model.WindowClosed {
			return nil, fmt.Errorf("%w: window %s is already closed", ErrInvalidWindow, prev.ID)
		}
		if window.StartsAt.Before(prev.EndsAt) {
			return nil, fmt.Errorf("%w: starts before window %s ends", ErrInvalidWindow, prev.ID)
		}
	}

	if err := s.windows.CreateWindow(ctx, tx, window); err != nil {
		return nil, err
	}
	if nw.FollowsWindowID != "" {
		if err := s.windows.SetNextWindow(ctx, tx, nw.FollowsWindowID, window.ID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("window scheduled",
		"window_id", window.ID,
		"theme", window.Theme,
		"starts_at", window.StartsAt,
		"ends_at", window.EndsAt,
	)
	return window, nil
}

// ActivateWindow makes windowID the active window. It fails while another
// window is active. Activating the active window again is a no-op.
func (s *Scheduler) ActivateWindow(ctx context.Context, windowID string) (*model.CompetitionWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	window, err := s.windows.GetWindow(ctx, tx, windowID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrWindowNotFound, windowID)
		}
		return nil, err
	}
	switch window.State() {
	case model.WindowClosed:
		return nil, fmt.Errorf("%w: window %s is closed", ErrInvalidWindow, windowID)
	case model.WindowActive:
		return window, nil
	}

	if _, err := s.windows.Activate(ctx, tx, windowID); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, ErrWindowActive
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	window.Active = true
	s.logger.Info("window activated", "window_id", windowID, "theme", window.Theme)
	return window, nil
}

func checkNewWindow(nw NewWindow) error {
	switch {
	case strings.TrimSpace(nw.Theme) == "":
		return fmt.Errorf("%w: theme is required", ErrInvalidWindow)
	case !nw.EndsAt.After(nw.StartsAt):
		return fmt.Errorf("%w: end must be after start", ErrInvalidWindow)
	case nw.CurrencyReward < 0 || nw.ExperienceReward < 0:
		return fmt.Errorf("%w: rewards cannot be negative", ErrInvalidWindow)
	}
	if nw.Timezone != "" {
		if _, err := time.LoadLocation(nw.Timezone); err != nil {
			return fmt.Errorf("%w: unknown time zone %q", ErrInvalidWindow, nw.Timezone)
		}
	}
	return nil
}
