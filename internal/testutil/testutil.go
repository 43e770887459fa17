// Package testutil provides a migrated SQLite database and a controllable
// clock for package tests.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kkkkikiki/quote-competition/internal/database"
	"github.com/kkkkikiki/quote-competition/internal/model"
	"github.com/kkkkikiki/quote-competition/internal/repository"
)

// NewDB opens a fresh SQLite database in a temp dir and applies all migrations.
func NewDB(t *testing.T) *sqlx.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", dbPath)

	db, err := database.Open(context.Background(), "sqlite3", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := database.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// MustCount runs a COUNT query and returns the result.
func MustCount(t *testing.T, db *sqlx.DB, q string, args ...any) int64 {
	t.Helper()
	var n int64
	if err := db.Get(&n, db.Rebind(q), args...); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	return n
}

// Clock is a settable time source safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Date is shorthand for a UTC timestamp.
func Date(year int, month time.Month, day, hour int) time.Time {
	return time.Date(year, month, day, hour, 0, 0, 0, time.UTC)
}

// WindowOption customizes a window created by CreateWindow.
type WindowOption func(*model.CompetitionWindow)

// Active marks the window as active.
func Active() WindowOption {
	return func(w *model.CompetitionWindow) { w.Active = true }
}

// FollowedBy links the window to next.
func FollowedBy(next string) WindowOption {
	return func(w *model.CompetitionWindow) { w.NextWindowID = &next }
}

// Rewards sets window-level reward amounts.
func Rewards(currency, experience int64) WindowOption {
	return func(w *model.CompetitionWindow) {
		w.CurrencyReward = currency
		w.ExperienceReward = experience
	}
}

// CreateWindow inserts a window directly through the repository.
func CreateWindow(t *testing.T, db *sqlx.DB, theme string, start, end time.Time, opts ...WindowOption) *model.CompetitionWindow {
	t.Helper()

	w := &model.CompetitionWindow{
		ID:        uuid.NewString(),
		Theme:     theme,
		Timezone:  "UTC",
		StartsAt:  start,
		EndsAt:    end,
		CreatedAt: start,
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := repository.NewWindowRepository().CreateWindow(context.Background(), db, w); err != nil {
		t.Fatalf("create window: %v", err)
	}
	return w
}
