package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kkkkikiki/quote-competition/internal/model"
)

const rewardColumns = `id, recipient_id, amount, unit, reason, idempotency_key, created_at, applied_at`

// RewardRepository handles reward ledger and balance data operations
type RewardRepository struct{}

// NewRewardRepository creates a new reward repository
func NewRewardRepository() *RewardRepository {
	return &RewardRepository{}
}

// InsertTransaction appends a transaction unless its idempotency key is
// already recorded. Returns false on that conflict.
func (r *RewardRepository) InsertTransaction(ctx context.Context, db DBExecutor, t *model.RewardTransaction) (bool, error) {
	query := `
		INSERT INTO reward_transactions (` + rewardColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (idempotency_key) DO NOTHING
	`

	inserted, err := insertIgnoringConflict(ctx, db, query,
		t.ID, t.RecipientID, t.Amount, string(t.Unit), t.Reason, t.IdempotencyKey, utc(t.CreatedAt), utcPtr(t.AppliedAt))
	if err != nil {
		return false, fmt.Errorf("failed to insert reward transaction: %w", err)
	}
	return inserted, nil
}

// GetTransactionByKey retrieves the transaction recorded for an idempotency key
func (r *RewardRepository) GetTransactionByKey(ctx context.Context, db DBExecutor, key string) (*model.RewardTransaction, error) {
	query := `SELECT ` + rewardColumns + ` FROM reward_transactions WHERE idempotency_key = ?`

	var t model.RewardTransaction
	if err := db.GetContext(ctx, &t, db.Rebind(query), key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get reward transaction: %w", err)
	}
	return &t, nil
}

// ListByRecipient returns a recipient's transactions, oldest first
func (r *RewardRepository) ListByRecipient(ctx context.Context, db DBExecutor, recipientID string) ([]model.RewardTransaction, error) {
	query := `SELECT ` + rewardColumns + ` FROM reward_transactions WHERE recipient_id = ? ORDER BY created_at ASC, id ASC`

	var txs []model.RewardTransaction
	if err := db.SelectContext(ctx, &txs, db.Rebind(query), recipientID); err != nil {
		return nil, fmt.Errorf("failed to list reward transactions: %w", err)
	}
	return txs, nil
}

// ClaimUnapplied selects transactions not yet applied to balances using
// SELECT FOR UPDATE SKIP LOCKED on Postgres, so concurrent dispatchers take
// disjoint batches. Must run inside a transaction.
func (r *RewardRepository) ClaimUnapplied(ctx context.Context, tx DBExecutor, limit int) ([]model.RewardTransaction, error) {
	query := `
		SELECT ` + rewardColumns + `
		FROM reward_transactions
		WHERE applied_at IS NULL
		ORDER BY created_at ASC
		LIMIT ?` + lockClause(tx, "FOR UPDATE SKIP LOCKED")

	var txs []model.RewardTransaction
	if err := tx.SelectContext(ctx, &txs, tx.Rebind(query), limit); err != nil {
		return nil, fmt.Errorf("failed to claim reward transactions: %w", err)
	}
	return txs, nil
}

// MarkApplied updates applied_at on a transaction that has not been applied
func (r *RewardRepository) MarkApplied(ctx context.Context, db DBExecutor, id string, at time.Time) error {
	query := `
		UPDATE reward_transactions
		SET applied_at = ?
		WHERE id = ? AND applied_at IS NULL
	`

	result, err := db.ExecContext(ctx, db.Rebind(query), utc(at), id)
	if err != nil {
		return fmt.Errorf("failed to mark reward transaction as applied: %w", err)
	}

	// Check if any row was actually updated
	ok, err := changed(result)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("reward transaction %s not found or already applied", id)
	}

	return nil
}

// AddToBalance adds the given amounts to a user's running balance
func (r *RewardRepository) AddToBalance(ctx context.Context, db DBExecutor, userID string, currency, experience int64, at time.Time) error {
	query := `
		INSERT INTO user_balances (user_id, currency, experience, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			currency = user_balances.currency + excluded.currency,
			experience = user_balances.experience + excluded.experience,
			updated_at = excluded.updated_at
	`

	if _, err := db.ExecContext(ctx, db.Rebind(query), userID, currency, experience, utc(at)); err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	return nil
}

// GetBalance retrieves a user's balance. A user without grants has a zero balance.
func (r *RewardRepository) GetBalance(ctx context.Context, db DBExecutor, userID string) (*model.Balance, error) {
	query := `SELECT user_id, currency, experience, updated_at FROM user_balances WHERE user_id = ?`

	var b model.Balance
	if err := db.GetContext(ctx, &b, db.Rebind(query), userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &model.Balance{UserID: userID}, nil
		}
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return &b, nil
}
