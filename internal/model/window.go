package model

import (
	"time"
)

// WindowState is the lifecycle state of a competition window
type WindowState string

const (
	WindowScheduled WindowState = "scheduled"
	WindowActive    WindowState = "active"
	WindowClosed    WindowState = "closed"
)

// CompetitionWindow represents one themed competition cycle in the database
type CompetitionWindow struct {
	ID               string     `db:"id" json:"id"`
	Theme            string     `db:"theme" json:"theme"`
	Description      string     `db:"description" json:"description"`
	Timezone         string     `db:"timezone" json:"timezone"`
	StartsAt         time.Time  `db:"starts_at" json:"starts_at"`
	EndsAt           time.Time  `db:"ends_at" json:"ends_at"`
	Active           bool       `db:"active" json:"active"`
	NextWindowID     *string    `db:"next_window_id" json:"next_window_id,omitempty"`
	CurrencyReward   int64      `db:"currency_reward" json:"currency_reward"`     // 0 means use the default
	ExperienceReward int64      `db:"experience_reward" json:"experience_reward"` // 0 means use the default
	ClosedAt         *time.Time `db:"closed_at" json:"closed_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

// State derives the lifecycle state from the stored flags.
func (w *CompetitionWindow) State() WindowState {
	switch {
	case w.ClosedAt != nil:
		return WindowClosed
	case w.Active:
		return WindowActive
	default:
		return WindowScheduled
	}
}

// Contains reports whether t falls within [StartsAt, EndsAt).
func (w *CompetitionWindow) Contains(t time.Time) bool {
	return !t.Before(w.StartsAt) && t.Before(w.EndsAt)
}

// AcceptsSubmissions reports whether entries and votes may be recorded at t.
func (w *CompetitionWindow) AcceptsSubmissions(t time.Time) bool {
	return w.State() == WindowActive && w.Contains(t)
}

// Location returns the window's time zone, falling back to UTC.
func (w *CompetitionWindow) Location() *time.Location {
	if w.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Day returns the calendar day of t in the window's time zone, formatted
// as YYYY-MM-DD.
func (w *CompetitionWindow) Day(t time.Time) string {
	return t.In(w.Location()).Format(time.DateOnly)
}

// Next returns the linked next window id, or "" if none is configured.
func (w *CompetitionWindow) Next() string {
	if w.NextWindowID == nil {
		return ""
	}
	return *w.NextWindowID
}
