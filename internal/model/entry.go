package model

import (
	"time"
)

// Entry represents one participant's quote for a window
type Entry struct {
	ID        string    `db:"id" json:"id"`
	WindowID  string    `db:"window_id" json:"window_id"`
	AuthorID  string    `db:"author_id" json:"author_id"`
	Text      string    `db:"text" json:"text"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// EntryTally is an entry together with its current vote count
type EntryTally struct {
	Entry
	Votes int64 `db:"votes" json:"votes"`
}

// Vote represents a voter's endorsement of an entry on one calendar day
type Vote struct {
	ID       string    `db:"id" json:"id"`
	EntryID  string    `db:"entry_id" json:"entry_id"`
	WindowID string    `db:"window_id" json:"window_id"`
	VoterID  string    `db:"voter_id" json:"voter_id"`
	VoteDay  string    `db:"vote_day" json:"vote_day"` // YYYY-MM-DD in the window's time zone
	CastAt   time.Time `db:"cast_at" json:"cast_at"`
}
