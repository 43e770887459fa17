package model

import (
	"time"
)

// RewardUnit is the kind of points a reward transaction grants
type RewardUnit string

const (
	UnitCurrency   RewardUnit = "currency"
	UnitExperience RewardUnit = "experience"
)

// Valid reports whether u is a known unit.
func (u RewardUnit) Valid() bool {
	return u == UnitCurrency || u == UnitExperience
}

// RewardTransaction represents one idempotent grant in the reward ledger
type RewardTransaction struct {
	ID             string     `db:"id" json:"id"`
	RecipientID    string     `db:"recipient_id" json:"recipient_id"`
	Amount         int64      `db:"amount" json:"amount"`
	Unit           RewardUnit `db:"unit" json:"unit"`
	Reason         string     `db:"reason" json:"reason"`
	IdempotencyKey string     `db:"idempotency_key" json:"idempotency_key"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	AppliedAt      *time.Time `db:"applied_at" json:"applied_at,omitempty"` // set once the balance store has it
}

// Winner represents the selected entry of a closed window
type Winner struct {
	ID               string    `db:"id" json:"id"`
	WindowID         string    `db:"window_id" json:"window_id"`
	EntryID          string    `db:"entry_id" json:"entry_id"`
	AuthorID         string    `db:"author_id" json:"author_id"`
	VoteCount        int64     `db:"vote_count" json:"vote_count"`
	CurrencyAmount   int64     `db:"currency_amount" json:"currency_amount"`
	ExperienceAmount int64     `db:"experience_amount" json:"experience_amount"`
	CurrencyTxID     *string   `db:"currency_tx_id" json:"currency_tx_id,omitempty"`
	ExperienceTxID   *string   `db:"experience_tx_id" json:"experience_tx_id,omitempty"`
	AnnouncedAt      time.Time `db:"announced_at" json:"announced_at"`
}

// Balance is a user's running totals as kept by the default balance store
type Balance struct {
	UserID     string    `db:"user_id" json:"user_id"`
	Currency   int64     `db:"currency" json:"currency"`
	Experience int64     `db:"experience" json:"experience"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}
