// Package config loads the server's settings from the environment.
//
// LAYERED .env FILES:
// Values are looked up in this order, first hit wins:
//
//  1. the real process environment
//  2. .env.<env>.local   (secrets for one environment, never committed)
//  3. .env.local         (secrets shared by all environments, never committed)
//  4. .env.<env>         (per-environment settings)
//  5. .env               (shared defaults)
//  6. the defaults in this file
//
// <env> comes from MICROBLOG_ENV and defaults to "dev". Missing files are
// skipped. The files are read with godotenv.Read rather than godotenv.Load,
// so loading config never mutates the process environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the server needs to start.
type Config struct {
	Environment string

	Port   int
	DBPath string

	JWTSecret     string
	SessionTTL    time.Duration
	ResetTokenTTL time.Duration
	ResetURLBase  string

	// RedisAddr is optional; without it reset tokens are tracked in memory.
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	GitHubClientID     string
	GitHubClientSecret string
	GitHubCallbackURL  string

	LogLevel slog.Level
}

// GitHubEnabled reports whether the GitHub login routes should be mounted.
func (c *Config) GitHubEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

// Load reads configuration, layering .env files found in dir (use "" for the
// working directory) under the process environment.
func Load(dir string) (*Config, error) {
	env := os.Getenv("MICROBLOG_ENV")
	if env == "" {
		env = "dev"
	}

	src := newSource(dir, env)

	cfg := &Config{
		Environment:        env,
		DBPath:             src.get("DB_PATH", "data/microblog.db"),
		JWTSecret:          src.get("JWT_SECRET", ""),
		SessionTTL:         parseDuration(src.get("SESSION_TTL", "15m"), 15*time.Minute),
		ResetTokenTTL:      parseDuration(src.get("RESET_TOKEN_TTL", "10m"), 10*time.Minute),
		RedisAddr:          src.get("REDIS_ADDR", ""),
		RedisPassword:      src.get("REDIS_PASSWORD", ""),
		RedisTLS:           parseBool(src.get("REDIS_TLS", "")),
		GitHubClientID:     src.get("GITHUB_CLIENT_ID", ""),
		GitHubClientSecret: src.get("GITHUB_CLIENT_SECRET", ""),
	}

	port, err := strconv.Atoi(src.get("PORT", "8080"))
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("config: invalid PORT %q", src.get("PORT", ""))
	}
	cfg.Port = port

	cfg.ResetURLBase = src.get("RESET_URL_BASE", fmt.Sprintf("http://localhost:%d/auth/reset", port))
	cfg.GitHubCallbackURL = src.get("GITHUB_CALLBACK_URL", fmt.Sprintf("http://localhost:%d/auth/github/callback", port))

	if err := cfg.LogLevel.UnmarshalText([]byte(src.get("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("config: invalid LOG_LEVEL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that have no usable default.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("config: JWT_SECRET is required (generate one with `openssl rand -hex 32`)")
	}
	if len(c.JWTSecret) < 16 {
		return errors.New("config: JWT_SECRET must be at least 16 characters")
	}
	if c.DBPath == "" {
		return errors.New("config: DB_PATH must not be empty")
	}
	return nil
}

// source resolves a key against the environment, then the .env layers.
type source struct {
	layers []map[string]string
}

func newSource(dir, env string) *source {
	files := []string{
		".env." + env + ".local",
		".env.local",
		".env." + env,
		".env",
	}

	s := &source{}
	for _, name := range files {
		values, err := godotenv.Read(filepath.Join(dir, name))
		if err != nil {
			// Missing or unreadable layers are skipped, like godotenv.Load does.
			continue
		}
		s.layers = append(s.layers, values)
	}
	return s
}

func (s *source) get(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	for _, layer := range s.layers {
		if v, ok := layer[key]; ok && v != "" {
			return v
		}
	}
	return fallback
}

// IsProduction reports whether cookies should be marked Secure.
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

func parseBool(value string) bool {
	b, err := strconv.ParseBool(value)
	return err == nil && b
}

func parseDuration(value string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return defaultValue
	}
	return d
}
