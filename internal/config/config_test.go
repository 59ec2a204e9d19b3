package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockrion/dockrion/internal/config"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, "backend: memory\n")
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, config.BackendMemory, cfg.Backend)
	assert.Equal(t, 15, cfg.HeartbeatIntervalSeconds)
	assert.Equal(t, 10, cfg.CancelGraceSeconds)
	assert.Equal(t, "chat", cfg.Events.Allowed)
	assert.Equal(t, "none", cfg.Events.CustomMode)
	assert.Equal(t, int64(1000), cfg.Redis.MaxEventsPerRun)
}

func TestLoad_RedisBackendRequiresURL(t *testing.T) {
	path := writeConfig(t, "backend: redis\n")
	_, err := config.Load(path)
	assert.ErrorContains(t, err, "redis.url")
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("DOCKRION_REDIS_URL", "redis://example:6379/0")
	path := writeConfig(t, "backend: redis\nredis:\n  url: ${DOCKRION_REDIS_URL}\n")
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis://example:6379/0", cfg.Redis.URL)
}

func TestLoad_InvalidTTLPolicy(t *testing.T) {
	path := writeConfig(t, "backend: memory\nredis:\n  ttl_policy: bogus\n")
	_, err := config.Load(path)
	assert.ErrorContains(t, err, "ttl_policy")
}

func TestDefault_IsValid(t *testing.T) {
	cfg := config.Default()
	assert.NoError(t, cfg.Validate())
}
