package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFromPath("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, 0.01, cfg.Raffle.EntranceFee)
	assert.Equal(t, 30*time.Second, cfg.Raffle.Interval)
	assert.Equal(t, 1, cfg.Raffle.Words)
	assert.Equal(t, 3, cfg.Oracle.Confirmations)
	assert.Equal(t, 500000, cfg.Oracle.CallbackGasLimit)
	assert.Empty(t, cfg.Database.DSN)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
raffle:
  entrance_fee: 2.5
  interval: 1m
oracle:
  key_hash: "0xabc"
  subscription_id: "77"
`), 0o644))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2.5, cfg.Raffle.EntranceFee)
	assert.Equal(t, time.Minute, cfg.Raffle.Interval)
	assert.Equal(t, "0xabc", cfg.Oracle.KeyHash)
	assert.Equal(t, "77", cfg.Oracle.SubscriptionID)
	// Values the file does not mention keep their defaults.
	assert.Equal(t, 1, cfg.Raffle.Words)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("raffle:\n  entrance_fee: 2.5\n"), 0o644))

	t.Setenv("RAFFLE_ENTRANCE_FEE", "5")
	t.Setenv("RAFFLE_INTERVAL", "90s")
	t.Setenv("AUTH_ALLOWED_SERVICES", "vrf-coordinator;keeper")
	t.Setenv("AUTH_SERVICE_SECRET", "shh")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, 5.0, cfg.Raffle.EntranceFee)
	assert.Equal(t, 90*time.Second, cfg.Raffle.Interval)
	assert.Equal(t, []string{"vrf-coordinator", "keeper"}, cfg.Auth.AllowedServices)
}

func TestLoadRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	_, err := LoadFromPath(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults pass", func(*Config) {}, true},
		{"zero port", func(c *Config) { c.Server.Port = 0 }, false},
		{"negative fee", func(c *Config) { c.Raffle.EntranceFee = -1 }, false},
		{"zero interval", func(c *Config) { c.Raffle.Interval = 0 }, false},
		{"zero words", func(c *Config) { c.Raffle.Words = 0 }, false},
		{"bad driver", func(c *Config) {
			c.Database.DSN = "postgres://localhost/raffle"
			c.Database.Driver = "mysql"
		}, false},
		{"allowed services without secret", func(c *Config) {
			c.Auth.AllowedServices = []string{"keeper"}
		}, false},
		{"allowed services with secret", func(c *Config) {
			c.Auth.AllowedServices = []string{"keeper"}
			c.Auth.ServiceSecret = "shh"
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
