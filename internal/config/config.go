package config

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `env:",prefix=SERVER_"`

	// Database configuration
	Database DatabaseConfig `env:",prefix=DB_"`

	// Application configuration
	App AppConfig `env:",prefix=APP_"`

	// Competition rules and trigger settings
	Competition CompetitionConfig `env:",prefix=COMPETITION_"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port           string   `env:"PORT,default=8080"`
	Host           string   `env:"HOST,default=0.0.0.0"`
	ReadTimeout    int      `env:"READ_TIMEOUT,default=30"`  // seconds
	WriteTimeout   int      `env:"WRITE_TIMEOUT,default=30"` // seconds
	AllowedOrigins []string `env:"ALLOWED_ORIGINS,default=http://localhost:3000"`
}

// DatabaseConfig holds PostgreSQL or SQLite configuration
type DatabaseConfig struct {
	Driver     string `env:"DRIVER,default=postgres"` // postgres or sqlite3
	Host       string `env:"HOST,default=localhost"`
	Port       string `env:"PORT,default=5432"`
	User       string `env:"USER,default=postgres"`
	Password   string `env:"PASSWORD,default=postgres"`
	Name       string `env:"NAME,default=quote_competition"`
	SSLMode    string `env:"SSL_MODE,default=disable"`
	MaxConns   int    `env:"MAX_CONNS,default=25"`
	MinConns   int    `env:"MIN_CONNS,default=5"`
	SQLitePath string `env:"SQLITE_PATH,default=data/competition.db"`
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Environment  string `env:"ENVIRONMENT,default=development"`
	LogLevel     string `env:"LOG_LEVEL,default=info"`
	Debug        bool   `env:"DEBUG,default=false"`
	RollbarToken string `env:"ROLLBAR_TOKEN"`
	CodeVersion  string `env:"CODE_VERSION,default=dev"`
}

// CompetitionConfig holds the quote competition rules
type CompetitionConfig struct {
	TriggerSecret    string        `env:"TRIGGER_SECRET,required"`
	EntryMaxLength   int           `env:"ENTRY_MAX_LENGTH,default=180"`
	WinnerCurrency   int64         `env:"WINNER_CURRENCY,default=100"`
	WinnerExperience int64         `env:"WINNER_EXPERIENCE,default=50"`
	AllowSelfVote    bool          `env:"ALLOW_SELF_VOTE,default=false"`
	RotateInterval   time.Duration `env:"ROTATE_INTERVAL,default=1m"`
	BalanceInterval  time.Duration `env:"BALANCE_INTERVAL,default=5s"`
	BalanceBatch     int           `env:"BALANCE_BATCH,default=100"`
	VotesPerMinute   int           `env:"VOTES_PER_MINUTE,default=30"`
}

// Load loads configuration from a .env file (if present) and environment variables
func Load(ctx context.Context) (*Config, error) {
	// a missing .env is fine, the environment may already be populated
	_ = godotenv.Load()

	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith loads configuration from the given lookuper
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Competition.EntryMaxLength <= 0 {
		return fmt.Errorf("entry max length must be positive, got %d", c.Competition.EntryMaxLength)
	}
	if c.Competition.WinnerCurrency < 0 || c.Competition.WinnerExperience < 0 {
		return fmt.Errorf("winner rewards must not be negative")
	}
	return nil
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// GetDatabaseURL returns the connection string for the configured driver
func (c *DatabaseConfig) GetDatabaseURL() string {
	if c.Driver == DriverSQLite {
		return fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", c.SQLitePath)
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// IsDevelopment returns true if running in development environment
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

