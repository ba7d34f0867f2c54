package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"PORT", "DATABASE_URL", "REDIS_URL", "LOG_LEVEL", "CACHE_TTL"} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `
port: "9090"
databaseURL: postgres://localhost/pnl
redisURL: redis://localhost:6379/0
cacheTTL: 1m
logLevel: debug
defaultCurrency: EUR
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "postgres://localhost/pnl", cfg.DatabaseURL)
	assert.Equal(t, time.Minute, cfg.CacheTTL)
	assert.Equal(t, "EUR", cfg.DefaultCurrency)
	assert.Equal(t, 256, cfg.WSBuffer)

	lvl, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `port: "9090"`)
	t.Setenv("PORT", "7070")
	t.Setenv("CACHE_TTL", "5s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.CacheTTL)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"redis without db": `redisURL: redis://localhost:6379/0`,
		"bad log level":    `logLevel: chatty`,
		"zero buffer":      `wsBuffer: 0`,
		"bad yaml":         `port: [`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			_, err := Load(writeTempConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_BadEnvTTL(t *testing.T) {
	clearEnv(t)
	t.Setenv("CACHE_TTL", "soon")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
