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

// clearEnv blanks every key Load reads so the developer's shell can't leak
// into a test. Blank counts as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"MICROBLOG_ENV", "PORT", "DB_PATH", "JWT_SECRET", "SESSION_TTL", "RESET_TOKEN_TTL",
		"RESET_URL_BASE", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_TLS", "GITHUB_CLIENT_ID",
		"GITHUB_CLIENT_SECRET", "GITHUB_CALLBACK_URL", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "0123456789abcdef")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Environment)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "data/microblog.db", cfg.DBPath)
	assert.Equal(t, 15*time.Minute, cfg.SessionTTL)
	assert.Equal(t, 10*time.Minute, cfg.ResetTokenTTL)
	assert.Equal(t, "http://localhost:8080/auth/reset", cfg.ResetURLBase)
	assert.Equal(t, "http://localhost:8080/auth/github/callback", cfg.GitHubCallbackURL)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Empty(t, cfg.RedisAddr)
	assert.False(t, cfg.RedisTLS)
	assert.False(t, cfg.GitHubEnabled())
	assert.False(t, cfg.IsProduction())
}

func TestLoad_MissingSecret(t *testing.T) {
	clearEnv(t)
	_, err := Load(t.TempDir())
	assert.ErrorContains(t, err, "JWT_SECRET is required")
}

func TestLoad_ShortSecret(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "short")
	_, err := Load(t.TempDir())
	assert.ErrorContains(t, err, "at least 16")
}

func TestLoad_InvalidPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "0123456789abcdef")
	t.Setenv("PORT", "eighty")
	_, err := Load(t.TempDir())
	assert.ErrorContains(t, err, "invalid PORT")
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "0123456789abcdef")
	t.Setenv("LOG_LEVEL", "chatty")
	_, err := Load(t.TempDir())
	assert.ErrorContains(t, err, "LOG_LEVEL")
}

func TestLoad_DotEnvLayering(t *testing.T) {
	clearEnv(t)
	t.Setenv("MICROBLOG_ENV", "prod")
	dir := t.TempDir()

	writeFile(t, dir, ".env", "PORT=9000\nDB_PATH=shared.db\nLOG_LEVEL=warn\nJWT_SECRET=from-dotenv-shared-secret\n")
	writeFile(t, dir, ".env.prod", "DB_PATH=prod.db\nSESSION_TTL=1h\n")
	writeFile(t, dir, ".env.local", "REDIS_ADDR=localhost:6379\n")
	writeFile(t, dir, ".env.prod.local", "JWT_SECRET=from-prod-local-secret\nREDIS_ADDR=redis:6379\n")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Environment)
	assert.Equal(t, 9000, cfg.Port, ".env supplies values no other layer sets")
	assert.Equal(t, "prod.db", cfg.DBPath, ".env.<env> beats .env")
	assert.Equal(t, time.Hour, cfg.SessionTTL)
	assert.Equal(t, "redis:6379", cfg.RedisAddr, ".env.<env>.local beats .env.local")
	assert.Equal(t, "from-prod-local-secret", cfg.JWTSecret)
	assert.Equal(t, slog.LevelWarn, cfg.LogLevel)
	assert.Equal(t, "http://localhost:9000/auth/reset", cfg.ResetURLBase)
}

func TestLoad_EnvironmentBeatsDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, dir, ".env", "JWT_SECRET=from-dotenv-secret-value\nPORT=9000\n")

	t.Setenv("PORT", "7070")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, "from-dotenv-secret-value", cfg.JWTSecret)
}

func TestLoad_BadDurationFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "0123456789abcdef")
	t.Setenv("SESSION_TTL", "soon")
	t.Setenv("RESET_TOKEN_TTL", "-5m")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, cfg.SessionTTL)
	assert.Equal(t, 10*time.Minute, cfg.ResetTokenTTL)
}

func TestGitHubEnabled(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "0123456789abcdef")
	t.Setenv("GITHUB_CLIENT_ID", "id")
	t.Setenv("GITHUB_CLIENT_SECRET", "secret")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.True(t, cfg.GitHubEnabled())
}

func TestLoad_RedisTLS(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"1", true},
		{"false", false},
		{"yes", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("JWT_SECRET", "0123456789abcdef")
			t.Setenv("REDIS_TLS", tt.value)

			cfg, err := Load(t.TempDir())
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.RedisTLS)
		})
	}
}

func TestIsProduction(t *testing.T) {
	for env, want := range map[string]bool{
		"production": true,
		"prod":       true,
		"dev":        false,
		"staging":    false,
	} {
		cfg := &Config{Environment: env}
		assert.Equal(t, want, cfg.IsProduction(), env)
	}
}
