package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServer_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "a-secret-of-sufficient-length")

	cfg, err := LoadServer()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, "local", cfg.StorageDriver)
	assert.Equal(t, cfg.JWTSecret, cfg.StorageSigningKey, "signing key falls back to the JWT secret")
	assert.False(t, cfg.MailgunEnabled())
}

func TestLoadServer_MissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := LoadServer()
	assert.Error(t, err)
}

func TestLoadServer_ShortSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "short")

	_, err := LoadServer()
	assert.Error(t, err)
}

func TestLoadServer_UnknownStorageDriver(t *testing.T) {
	t.Setenv("JWT_SECRET", "a-secret-of-sufficient-length")
	t.Setenv("STORAGE_DRIVER", "ftp")

	_, err := LoadServer()
	assert.Error(t, err)
}

func TestLoadServer_Mailgun(t *testing.T) {
	t.Setenv("JWT_SECRET", "a-secret-of-sufficient-length")
	t.Setenv("MAILGUN_API_KEY", "key-123")
	t.Setenv("MAILGUN_DOMAIN", "mg.example.com")

	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.True(t, cfg.MailgunEnabled())
}

func TestLoadDashboard(t *testing.T) {
	t.Setenv("MELOTECH_EMAIL", "admin@example.com")
	t.Setenv("MELOTECH_PASSWORD", "hunter22")
	t.Setenv("POLL_INTERVAL", "5s")

	cfg, err := LoadDashboard()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, "http://localhost:8000", cfg.URL)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, ParseLevel(in))
		})
	}
}
