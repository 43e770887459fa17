// Package ledger records idempotent point grants. Each grant is keyed by an
// idempotency key; issuing the same key twice returns the first transaction.
// Applying grants to running balances is delegated to a BalanceApplier and
// happens asynchronously through ApplyPending.
package ledger

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

var (
	// ErrInvalidGrant is returned for grants that can never be recorded
	ErrInvalidGrant = errors.New("invalid reward grant")

	// ErrKeyReused is returned when an idempotency key is replayed with
	// different grant details
	ErrKeyReused = errors.New("idempotency key reused with different grant")
)

// BalanceApplier applies a recorded transaction to the recipient's balance.
// db is the transaction that marks the grant as applied; appliers backed by
// the same database should write through it.
type BalanceApplier interface {
	Apply(ctx context.Context, db repository.DBExecutor, t model.RewardTransaction) error
}

// Ledger is the append-only reward log
type Ledger struct {
	db      *sqlx.DB
	rewards *repository.RewardRepository
	applier BalanceApplier
	now     func() time.Time
}

// New creates a ledger. A nil applier uses the SQL balance table; a nil
// clock uses time.Now.
func New(db *sqlx.DB, applier BalanceApplier, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	rewards := repository.NewRewardRepository()
	if applier == nil {
		applier = NewSQLBalances(rewards, now)
	}
	return &Ledger{
		db:      db,
		rewards: rewards,
		applier: applier,
		now:     now,
	}
}

// IdempotencyKey derives the key for a winner's reward of the given unit.
func IdempotencyKey(winnerID string, unit model.RewardUnit) string {
	return fmt.Sprintf("winner:%s:%s", winnerID, unit)
}

// Issue records a grant. If key was already used, the stored transaction is
// returned and nothing is written.
func (l *Ledger) Issue(ctx context.Context, recipientID string, amount int64, unit model.RewardUnit, reason, key string) (*model.RewardTransaction, error) {
	switch {
	case strings.TrimSpace(recipientID) == "":
		return nil, fmt.Errorf("%w: empty recipient", ErrInvalidGrant)
	case amount <= 0:
		return nil, fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidGrant, amount)
	case !unit.Valid():
		return nil, fmt.Errorf("%w: unknown unit %q", ErrInvalidGrant, unit)
	case strings.TrimSpace(key) == "":
		return nil, fmt.Errorf("%w: empty idempotency key", ErrInvalidGrant)
	}

	t := &model.RewardTransaction{
		ID:             uuid.NewString(),
		RecipientID:    recipientID,
		Amount:         amount,
		Unit:           unit,
		Reason:         reason,
		IdempotencyKey: key,
		CreatedAt:      l.now(),
	}

	inserted, err := l.rewards.InsertTransaction(ctx, l.db, t)
	if err != nil {
		return nil, fmt.Errorf("failed to issue reward: %w", err)
	}
	if inserted {
		metrics.RewardsIssued.WithLabelValues(string(unit)).Inc()
		return t, nil
	}

	existing, err := l.rewards.GetTransactionByKey(ctx, l.db, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load issued reward: %w", err)
	}
	if existing.RecipientID != recipientID || existing.Amount != amount || existing.Unit != unit {
		return nil, fmt.Errorf("%w: key %s", ErrKeyReused, key)
	}
	return existing, nil
}

// Issued returns the transaction recorded under key, or nil if the key has
// not been used.
func (l *Ledger) Issued(ctx context.Context, key string) (*model.RewardTransaction, error) {
	t, err := l.rewards.GetTransactionByKey(ctx, l.db, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

// Transactions returns a recipient's grants, oldest first.
func (l *Ledger) Transactions(ctx context.Context, recipientID string) ([]model.RewardTransaction, error) {
	return l.rewards.ListByRecipient(ctx, l.db, recipientID)
}

// Balance returns the recipient's totals from the SQL balance table.
func (l *Ledger) Balance(ctx context.Context, userID string) (*model.Balance, error) {
	return l.rewards.GetBalance(ctx, l.db, userID)
}

// ApplyPending hands up to limit unapplied grants to the BalanceApplier and
// marks them applied in the same database transaction. Returns how many
// grants were applied.
func (l *Ledger) ApplyPending(ctx context.Context, limit int) (int, error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	pending, err := l.rewards.ClaimUnapplied(ctx, tx, limit)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	now := l.now()
	for _, t := range pending {
		if err := l.applier.Apply(ctx, tx, t); err != nil {
			return 0, fmt.Errorf("failed to apply reward %s: %w", t.ID, err)
		}
		if err := l.rewards.MarkApplied(ctx, tx, t.ID, now); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	metrics.BalanceApplied.Add(float64(len(pending)))

	return len(pending), nil
}

// SQLBalances keeps running balances in the user_balances table
type SQLBalances struct {
	rewards *repository.RewardRepository
	now     func() time.Time
}

// NewSQLBalances creates the default balance applier
func NewSQLBalances(rewards *repository.RewardRepository, now func() time.Time) *SQLBalances {
	return &SQLBalances{rewards: rewards, now: now}
}

// Apply adds the transaction amount to the matching balance column
func (b *SQLBalances) Apply(ctx context.Context, db repository.DBExecutor, t model.RewardTransaction) error {
	var currency, experience int64
	switch t.Unit {
	case model.UnitCurrency:
		currency = t.Amount
	case model.UnitExperience:
		experience = t.Amount
	default:
		return fmt.Errorf("unknown unit %q", t.Unit)
	}
	return b.rewards.AddToBalance(ctx, db, t.RecipientID, currency, experience, b.now())
}
