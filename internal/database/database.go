package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/kkkkikiki/quote-competition/internal/config"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// DB holds database connections
type DB struct {
	Conn *sqlx.DB
}

// NewDB creates new database connections using config
func NewDB(ctx context.Context, cfg *config.Config) (*DB, error) {
	if cfg.Database.Driver == config.DriverSQLite {
		if dir := filepath.Dir(cfg.Database.SQLitePath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
			}
		}
	}

	conn, err := Open(ctx, cfg.Database.Driver, cfg.Database.GetDatabaseURL())
	if err != nil {
		return nil, err
	}

	// Configure connection pool
	if cfg.Database.Driver == config.DriverPostgres {
		conn.SetMaxOpenConns(cfg.Database.MaxConns)
		conn.SetMaxIdleConns(cfg.Database.MinConns)
		conn.SetConnMaxLifetime(time.Hour)
	}

	slog.Info("connected to database", "driver", cfg.Database.Driver)

	return &DB{
		Conn: conn,
	}, nil
}

// Open connects to the database and pings it. SQLite connections are
// limited to a single writer.
func Open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}

	if driver == config.DriverSQLite {
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", driver, err)
	}

	return conn, nil
}

// Migrate applies all pending embedded migrations.
func Migrate(ctx context.Context, conn *sqlx.DB) error {
	dialect := goose.DialectPostgres
	if conn.DriverName() == config.DriverSQLite {
		dialect = goose.DialectSQLite3
	}

	migrations, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}

	provider, err := goose.NewProvider(dialect, conn.DB, migrations)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	for _, r := range results {
		slog.Debug("applied migration", "source", r.Source.Path, "duration", r.Duration)
	}

	return nil
}

// Close closes all database connections
func (db *DB) Close() error {
	if err := db.Conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}
