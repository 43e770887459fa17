package competition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kkkkikiki/quote-competition/internal/ledger"
	"github.com/kkkkikiki/quote-competition/internal/model"
	"github.com/kkkkikiki/quote-competition/internal/repository"
)

// winnerNamespace seeds the deterministic winner id of each window
var winnerNamespace = uuid.MustParse("6f1c1a1e-8d2b-4c53-9b7e-3a0f6c2d9e41")

// RewardIssuer appends idempotent grants to the reward ledger
type RewardIssuer interface {
	Issue(ctx context.Context, recipientID string, amount int64, unit model.RewardUnit, reason, key string) (*model.RewardTransaction, error)
	Issued(ctx context.Context, key string) (*model.RewardTransaction, error)
}

// RewardPolicy is the prize handed to a window's winner. A zero amount
// grants nothing of that unit.
type RewardPolicy struct {
	Currency   int64
	Experience int64
}

// For returns the policy for w, preferring amounts set on the window.
func (p RewardPolicy) For(w *model.CompetitionWindow) RewardPolicy {
	if w.CurrencyReward > 0 {
		p.Currency = w.CurrencyReward
	}
	if w.ExperienceReward > 0 {
		p.Experience = w.ExperienceReward
	}
	return p
}

// Outcome is the result of closing a window
type Outcome struct {
	WindowID string
	Winner   *model.Winner // nil when the window had no votes
	Entry    *model.Entry
	Replayed bool // true when an earlier selection already stored the result
}

// HasWinner reports whether the window produced a winner.
func (o *Outcome) HasWinner() bool {
	return o != nil && o.Winner != nil
}

// WinnerSelector tallies a window and rewards its top entry exactly once
type WinnerSelector struct {
	db      *sqlx.DB
	windows *repository.WindowRepository
	entries *repository.EntryRepository
	winners *repository.WinnerRepository
	issuer  RewardIssuer
	policy  RewardPolicy
	now     func() time.Time
	logger  *slog.Logger
}

// NewWinnerSelector creates a selector paying winners through issuer.
func NewWinnerSelector(db *sqlx.DB, issuer RewardIssuer, policy RewardPolicy, now func() time.Time, logger *slog.Logger) *WinnerSelector {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WinnerSelector{
		db:      db,
		windows: repository.NewWindowRepository(),
		entries: repository.NewEntryRepository(),
		winners: repository.NewWinnerRepository(),
		issuer:  issuer,
		policy:  policy,
		now:     now,
		logger:  logger,
	}
}

// WinnerID returns the id a window's winner is stored under.
func WinnerID(windowID string) string {
	return uuid.NewSHA1(winnerNamespace, []byte(windowID)).String()
}

// Tally counts the votes of every entry in a window, keyed by entry id.
func (s *WinnerSelector) Tally(ctx context.Context, windowID string) (map[string]int64, error) {
	if _, err := s.window(ctx, windowID); err != nil {
		return nil, err
	}

	tallies, err := s.entries.ListEntryTallies(ctx, s.db, windowID)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(tallies))
	for _, t := range tallies {
		counts[t.ID] = t.Votes
	}
	return counts, nil
}

// SelectWinner freezes the window, picks the entry with the most votes and
// grants its author the window's rewards. Calling it again for the same
// window returns the stored result without granting anything twice. A failed
// grant is returned as an error and the call may be retried.
func (s *WinnerSelector) SelectWinner(ctx context.Context, windowID string) (*Outcome, error) {
	window, err := s.window(ctx, windowID)
	if err != nil {
		return nil, err
	}
	if window.State() == model.WindowScheduled {
		return nil, fmt.Errorf("%w: %s", ErrWindowNotStarted, windowID)
	}

	// after the freeze no entry or vote can be added, so the tally is final
	if err := s.windows.FreezeWindow(ctx, s.db, windowID, s.now()); err != nil {
		return nil, err
	}

	existing, err := s.winners.GetWinnerByWindow(ctx, s.db, windowID)
	if err == nil {
		return s.outcome(ctx, existing, true)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	tallies, err := s.entries.ListEntryTallies(ctx, s.db, windowID)
	if err != nil {
		return nil, err
	}

	best := pickWinner(tallies)
	if best == nil {
		s.logger.Info("window closed without a winner",
			"window_id", windowID,
			"entries", len(tallies),
		)
		return &Outcome{WindowID: windowID}, nil
	}

	winner := &model.Winner{
		ID:          WinnerID(windowID),
		WindowID:    windowID,
		EntryID:     best.ID,
		AuthorID:    best.AuthorID,
		VoteCount:   best.Votes,
		AnnouncedAt: s.now(),
	}

	rewards := s.policy.For(window)
	reason := fmt.Sprintf("winner of quote competition %q", window.Theme)

	currency, err := s.grant(ctx, winner, model.UnitCurrency, rewards.Currency, reason)
	if err != nil {
		return nil, err
	}
	if currency != nil {
		winner.CurrencyAmount = currency.Amount
		winner.CurrencyTxID = &currency.ID
	}
	experience, err := s.grant(ctx, winner, model.UnitExperience, rewards.Experience, reason)
	if err != nil {
		return nil, err
	}
	if experience != nil {
		winner.ExperienceAmount = experience.Amount
		winner.ExperienceTxID = &experience.ID
	}

	inserted, err := s.winners.InsertWinner(ctx, s.db, winner)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// a concurrent selector stored it first
		stored, err := s.winners.GetWinnerByWindow(ctx, s.db, windowID)
		if err != nil {
			return nil, err
		}
		return s.outcome(ctx, stored, true)
	}

	s.logger.Info("winner selected",
		"window_id", windowID,
		"entry_id", winner.EntryID,
		"author_id", winner.AuthorID,
		"votes", winner.VoteCount,
		"currency", winner.CurrencyAmount,
		"experience", winner.ExperienceAmount,
	)

	entry := best.Entry
	return &Outcome{WindowID: windowID, Winner: winner, Entry: &entry}, nil
}

// grant issues the winner's reward of one unit. A grant already recorded
// under the winner's key is kept as is, so a retry after a policy change
// settles on the amount issued first. Returns nil when nothing is granted.
func (s *WinnerSelector) grant(ctx context.Context, winner *model.Winner, unit model.RewardUnit, amount int64, reason string) (*model.RewardTransaction, error) {
	key := ledger.IdempotencyKey(winner.ID, unit)

	existing, err := s.issuer.Issued(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s reward: %w", unit, err)
	}
	if existing != nil {
		if existing.RecipientID != winner.AuthorID {
			return nil, fmt.Errorf("%s reward %s belongs to %s", unit, key, existing.RecipientID)
		}
		return existing, nil
	}
	if amount <= 0 {
		return nil, nil
	}

	tx, err := s.issuer.Issue(ctx, winner.AuthorID, amount, unit, reason, key)
	if err != nil {
		return nil, fmt.Errorf("failed to issue %s reward: %w", unit, err)
	}
	return tx, nil
}

// LatestWinner returns the most recently announced winner, or nil if no
// window has produced one yet.
func (s *WinnerSelector) LatestWinner(ctx context.Context) (*Outcome, error) {
	winner, err := s.winners.GetLatestWinner(ctx, s.db)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return s.outcome(ctx, winner, true)
}

func (s *WinnerSelector) window(ctx context.Context, windowID string) (*model.CompetitionWindow, error) {
	window, err := s.windows.GetWindow(ctx, s.db, windowID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrWindowNotFound, windowID)
		}
		return nil, err
	}
	return window, nil
}

func (s *WinnerSelector) outcome(ctx context.Context, winner *model.Winner, replayed bool) (*Outcome, error) {
	entry, err := s.entries.GetEntry(ctx, s.db, winner.EntryID)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		WindowID: winner.WindowID,
		Winner:   winner,
		Entry:    entry,
		Replayed: replayed,
	}, nil
}

// pickWinner returns the entry with the most votes. Ties go to the earlier
// submission, then to the smaller author id. Entries without votes never win.
func pickWinner(tallies []model.EntryTally) *model.EntryTally {
	var best *model.EntryTally
	for i := range tallies {
		t := &tallies[i]
		if t.Votes == 0 {
			continue
		}
		if best == nil || beats(t, best) {
			best = t
		}
	}
	return best
}

func beats(a, b *model.EntryTally) bool {
	if a.Votes != b.Votes {
		return a.Votes > b.Votes
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.AuthorID < b.AuthorID
}
