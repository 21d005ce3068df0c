package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shawn/chat-relay/internal/config"
	"github.com/shawn/chat-relay/internal/humanize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("RELAY_AUTH__ADMIN_TOKEN", "admin")
	t.Setenv("RELAY_AUTH__JWT_SECRET", "secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 5001, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "./sessions", cfg.Bridge.DataDir)
	assert.Equal(t, 20*time.Second, cfg.Webhook.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Restore.Delay)
	assert.Equal(t, time.Minute, cfg.Reconcile.Interval)
	assert.Equal(t, 10*time.Minute, cfg.Registry.InitTTL)
	assert.False(t, cfg.Leader.Enabled)
	assert.Empty(t, cfg.Redis.Addr)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "chat-relay", cfg.Telemetry.ServiceName)
	assert.Equal(t, humanize.Defaults(), cfg.Humanize.Policy())
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("RELAY_SERVER__PORT", "8081")
	t.Setenv("RELAY_STORE__DRIVER", "dynamodb")
	t.Setenv("RELAY_REDIS__ADDR", "redis:6379")
	t.Setenv("RELAY_WEBHOOK__TIMEOUT", "5s")
	t.Setenv("RELAY_HUMANIZE__ENABLED", "false")
	t.Setenv("RELAY_HUMANIZE__MAX_CHAR_DELAY", "400")
	t.Setenv("RELAY_SEED__USER", "tester")
	t.Setenv("RELAY_TELEMETRY__ENABLED", "true")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "dynamodb", cfg.Store.Driver)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 5*time.Second, cfg.Webhook.Timeout)
	assert.False(t, cfg.Humanize.Enabled)
	assert.Equal(t, 400, cfg.Humanize.MaxCharDelay)
	assert.Equal(t, humanize.Defaults().MinCharDelay, cfg.Humanize.MinCharDelay)
	assert.Equal(t, "tester", cfg.Seed.User)
	assert.Equal(t, "test-tenant", cfg.Seed.TenantID)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoad_FileThenEnv(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 7000
bridge:
  url: http://bridge:3000
humanize:
  error_probability: 0.25
`), 0o600))
	t.Setenv("RELAY_SERVER__PORT", "7001")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7001, cfg.Server.Port)
	assert.Equal(t, "http://bridge:3000", cfg.Bridge.URL)
	assert.Equal(t, 0.25, cfg.Humanize.ErrorProbability)
}

func TestLoad_MissingFileIsFine(t *testing.T) {
	setRequired(t)
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("RELAY_STORE__DRIVER", "postgres")
	t.Setenv("RELAY_HUMANIZE__MIN_CHAR_DELAY", "900")
	t.Setenv("RELAY_REGISTRY__INIT_TTL", "30s")

	_, err := config.Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.admin_token is required")
	assert.Contains(t, err.Error(), "auth.jwt_secret is required")
	assert.Contains(t, err.Error(), `store.driver "postgres"`)
	assert.ErrorIs(t, err, humanize.ErrInvalidPolicy)
	assert.Contains(t, err.Error(), "registry.init_ttl 30s must exceed restore.wait 1m0s")
}
