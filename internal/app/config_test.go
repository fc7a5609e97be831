package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.False(t, cfg.Cache.Redis.Enabled)
	require.Equal(t, "campusguard", cfg.Auth.JWT.Issuer)
	require.Equal(t, 24*time.Hour, cfg.Auth.JWT.TTL)
	require.Equal(t, 5, cfg.Auth.Local.LockoutThreshold)
	require.Equal(t, 15*time.Minute, cfg.Auth.Local.LockoutDuration)
	require.Equal(t, 300*time.Second, cfg.Beacon.DefaultDuration)
	require.Equal(t, 10*time.Second, cfg.Emergency.DispatchDelay)
	require.Equal(t, 5, cfg.RateLimits.SOSCreate.Limit)
	require.Equal(t, 10*time.Minute, cfg.RateLimits.SOSCreate.Window)
	require.True(t, cfg.Maintenance.Enabled)
}

func TestLoadConfigReadsFile(t *testing.T) {
	dir := t.TempDir()
	contents := []byte(`
server:
  port: 9100
  log_level: debug
database:
  driver: postgres
  postgres:
    host: db.internal
    port: 5433
    database: campusguard
    username: guard
    password: secret
auth:
  jwt:
    secret: file-secret
    access_token_ttl: 2h
rate_limits:
  beacon_activate:
    limit: 3
    window: 30m
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), contents, 0o600))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	require.Equal(t, 9100, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "db.internal", cfg.Database.Postgres.Host)
	require.Equal(t, 5433, cfg.Database.Postgres.Port)
	require.Equal(t, "file-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, 2*time.Hour, cfg.Auth.JWT.TTL)
	require.Equal(t, 3, cfg.RateLimits.BeaconActivate.Limit)
	require.Equal(t, 30*time.Minute, cfg.RateLimits.BeaconActivate.Window)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("CAMPUSGUARD_SERVER_PORT", "9200")
	t.Setenv("CAMPUSGUARD_AUTH_JWT_SECRET", "env-secret")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 9200, cfg.Server.Port)
	require.Equal(t, "env-secret", cfg.Auth.JWT.Secret)
}

func TestApplyRuntimeDefaultsGeneratesJWTSecret(t *testing.T) {
	cfg := &Config{}
	generated, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.True(t, generated["auth.jwt.secret"])
	require.NotEmpty(t, cfg.Auth.JWT.Secret)

	// Existing secrets are preserved.
	cfg2 := &Config{}
	cfg2.Auth.JWT.Secret = "configured"
	generated, err = ApplyRuntimeDefaults(cfg2)
	require.NoError(t, err)
	require.False(t, generated["auth.jwt.secret"])
	require.Equal(t, "configured", cfg2.Auth.JWT.Secret)
}
