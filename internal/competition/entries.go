package competition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kkkkikiki/quote-competition/internal/model"
	"github.com/kkkkikiki/quote-competition/internal/repository"
)

// ErrMissingUser is returned when an operation is called without a caller id
var ErrMissingUser = errors.New("missing user id")

// EntryStore accepts one quote per participant per window
type EntryStore struct {
	db       *sqlx.DB
	windows  *repository.WindowRepository
	entries  *repository.EntryRepository
	validate *validator.Validate
	textRule string
	now      func() time.Time
}

// NewEntryStore creates an entry store accepting texts of up to maxLength
// characters. A nil clock uses time.Now.
func NewEntryStore(db *sqlx.DB, maxLength int, now func() time.Time) *EntryStore {
	if now == nil {
		now = time.Now
	}
	return &EntryStore{
		db:       db,
		windows:  repository.NewWindowRepository(),
		entries:  repository.NewEntryRepository(),
		validate: validator.New(),
		textRule: fmt.Sprintf("required,max=%d", maxLength),
		now:      now,
	}
}

// Submit stores userID's entry for windowID. The window must be the active
// one and the author must not have submitted to it before.
func (s *EntryStore) Submit(ctx context.Context, userID, windowID, text string) (*model.Entry, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrMissingUser
	}

	text = strings.TrimSpace(text)
	if err := s.checkText(text); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	window, err := s.windows.GetWindowForShare(ctx, tx, windowID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, validationError(CodeWindowInactive, "window %s does not exist", windowID)
		}
		return nil, err
	}

	now := s.now()
	if !window.AcceptsSubmissions(now) {
		return nil, validationError(CodeWindowInactive, "window %s is not accepting entries", windowID)
	}

	entry := &model.Entry{
		ID:        uuid.NewString(),
		WindowID:  windowID,
		AuthorID:  userID,
		Text:      text,
		CreatedAt: now,
	}

	// the unique (window_id, author_id) constraint decides duplicates
	inserted, err := s.entries.InsertEntry(ctx, tx, entry)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, validationError(CodeDuplicate, "user %s already submitted to window %s", userID, windowID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return entry, nil
}

// SubmitToActive resolves the active window and submits to it.
func (s *EntryStore) SubmitToActive(ctx context.Context, userID, text string) (*model.Entry, error) {
	window, err := s.windows.GetActiveWindow(ctx, s.db)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, validationError(CodeWindowInactive, "no competition window is active")
		}
		return nil, err
	}
	return s.Submit(ctx, userID, window.ID, text)
}

// ListEntries returns a window's entries with live vote counts.
func (s *EntryStore) ListEntries(ctx context.Context, windowID string) ([]model.EntryTally, error) {
	return s.entries.ListEntryTallies(ctx, s.db, windowID)
}

// EntryByAuthor returns userID's entry in windowID, or nil if they have not
// submitted one.
func (s *EntryStore) EntryByAuthor(ctx context.Context, windowID, userID string) (*model.Entry, error) {
	entry, err := s.entries.GetEntryByAuthor(ctx, s.db, windowID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return entry, nil
}

func (s *EntryStore) checkText(text string) error {
	err := s.validate.Var(text, s.textRule)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("failed to validate entry text: %w", err)
	}
	switch fieldErrs[0].Tag() {
	case "required":
		return validationError(CodeEmpty, "entry text is empty")
	case "max":
		return validationError(CodeTooLong, "entry text exceeds %s characters", fieldErrs[0].Param())
	default:
		return fmt.Errorf("unexpected validation failure %q", fieldErrs[0].Tag())
	}
}
