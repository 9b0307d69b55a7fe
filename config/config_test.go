package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "app:\n  name: bookings\n"))
	require.NoError(t, err)

	assert.Equal(t, "bookings", cfg.App.Name)
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, PaymentSandbox, cfg.Payment.Driver)
	assert.Equal(t, 15*time.Minute, cfg.Booking.HoldTTL())
	assert.Equal(t, 2*time.Second, cfg.Booking.LockTimeout())
	assert.Equal(t, time.Minute, cfg.Worker.SweepInterval())
	assert.Equal(t, 10*time.Second, cfg.Payment.Timeout())
	assert.Equal(t, 5, cfg.Booking.ReferenceAttempts)
	assert.Equal(t, ":8080", cfg.HTTP.Address)
	assert.Equal(t, 10*time.Minute, cfg.API.RateLimit.IdleTimeout())
	assert.Empty(t, cfg.Payment.WebhookSecret)
}

func TestLoadConfig_ExpandsEnv(t *testing.T) {
	t.Setenv("BOOKING_DB_PASSWORD", "s3cret")
	t.Setenv("BOOKING_PAYMENT_URL", "https://pay.example.com")

	cfg, err := LoadConfig(writeConfig(t, `
storage:
  driver: postgres
database:
  host: localhost
  name: bookings
  user: app
  password: ${BOOKING_DB_PASSWORD}
payment:
  driver: http
  base_url: ${BOOKING_PAYMENT_URL}
  timeout_seconds: 3
worker:
  expiration_sweep_seconds: 5
`))
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Equal(t, "https://pay.example.com", cfg.Payment.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Payment.Timeout())
	assert.Equal(t, 5*time.Second, cfg.Worker.SweepInterval())
	assert.Contains(t, cfg.Database.DSN(), "password=s3cret")
	assert.Contains(t, cfg.Database.DSN(), "port=5432")
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "app: [unterminated"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"unknown storage", func(c *Config) { c.Storage.Driver = "mongo" }, true},
		{"postgres without host", func(c *Config) { c.Storage.Driver = StoragePostgres }, true},
		{"sqlite without path", func(c *Config) { c.Storage.Driver = StorageSQLite }, true},
		{"sqlite with path", func(c *Config) {
			c.Storage.Driver = StorageSQLite
			c.Storage.SQLitePath = "data/bookings.db"
		}, false},
		{"http payment without url", func(c *Config) { c.Payment.Driver = PaymentHTTP }, true},
		{"unknown payment", func(c *Config) { c.Payment.Driver = "cash" }, true},
		{"negative hold", func(c *Config) { c.Booking.HoldTTLMinutes = -1 }, true},
		{"negative rate", func(c *Config) { c.API.RateLimit.RPS = -1 }, true},
		{"negative idle", func(c *Config) { c.API.RateLimit.IdleSeconds = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			cfg.applyDefaults()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
