package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWith_Defaults(t *testing.T) {
	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"COMPETITION_TRIGGER_SECRET": "s3cret",
	}))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.GetServerAddr())
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 180, cfg.Competition.EntryMaxLength)
	assert.Equal(t, int64(100), cfg.Competition.WinnerCurrency)
	assert.Equal(t, int64(50), cfg.Competition.WinnerExperience)
	assert.False(t, cfg.Competition.AllowSelfVote)
	assert.Equal(t, time.Minute, cfg.Competition.RotateInterval)
	assert.True(t, cfg.App.IsDevelopment())
}

func TestLoadWith_RequiresTriggerSecret(t *testing.T) {
	_, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{}))
	require.Error(t, err)
}

func TestLoadWith_SQLite(t *testing.T) {
	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"COMPETITION_TRIGGER_SECRET":  "s3cret",
		"DB_DRIVER":                   "sqlite3",
		"DB_SQLITE_PATH":              "/tmp/comp.db",
		"COMPETITION_ROTATE_INTERVAL": "0s",
	}))
	require.NoError(t, err)

	assert.Equal(t, "file:/tmp/comp.db?_foreign_keys=on&_busy_timeout=5000", cfg.Database.GetDatabaseURL())
	assert.Zero(t, cfg.Competition.RotateInterval)
}

func TestLoadWith_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown driver", map[string]string{"DB_DRIVER": "oracle"}},
		{"zero max length", map[string]string{"COMPETITION_ENTRY_MAX_LENGTH": "0"}},
		{"negative currency", map[string]string{"COMPETITION_WINNER_CURRENCY": "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := map[string]string{"COMPETITION_TRIGGER_SECRET": "s3cret"}
			for k, v := range tt.env {
				env[k] = v
			}
			_, err := LoadWith(context.Background(), envconfig.MapLookuper(env))
			assert.Error(t, err)
		})
	}
}
