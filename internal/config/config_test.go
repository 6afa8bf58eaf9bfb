package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"BACKEND_URL", "PUSH_URL", "ENRICHMENT_URL", "BACKEND_TOKEN", "SESSION_USER_ID",
		"SYNC_MATCH_WINDOW", "SYNC_TYPING_TTL", "SYNC_SEND_TIMEOUT", "SYNC_PAGE_LIMIT",
		"SYNC_RETRY_MAX_ATTEMPTS", "SYNC_RETRY_BASE_DELAY", "REDIS_ADDR", "DATABASE_DSN",
		"LOCAL_API_TOKEN", "SERVER_PORT", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("BACKEND_URL", "https://api.example.com/api/")
	t.Setenv("SESSION_USER_ID", "me")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com/api", cfg.Backend.BaseURL)
	assert.Equal(t, cfg.Backend.BaseURL, cfg.Backend.EnrichmentURL)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Empty(t, cfg.Server.APIToken)
	assert.Equal(t, 60*time.Second, cfg.Sync.MatchWindow)
	assert.Equal(t, 3*time.Second, cfg.Sync.TypingTTL)
	assert.Equal(t, 30, cfg.Sync.PageLimit)
	assert.Equal(t, 64, cfg.Sync.EventBufferSize)
	assert.Equal(t, "[seed]", cfg.Sync.TestMarker)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.Database.DSN)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("BACKEND_TOKEN", "tok")
	t.Setenv("SYNC_MATCH_WINDOW", "90s")
	t.Setenv("SYNC_PAGE_LIMIT", "500")
	t.Setenv("SYNC_RETRY_MAX_ATTEMPTS", "0")
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("LOCAL_API_TOKEN", "ui-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.Sync.MatchWindow)
	assert.Equal(t, 30, cfg.Sync.PageLimit, "out of range limit falls back")
	assert.Equal(t, 1, cfg.Sync.RetryMaxAttempts)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, "ui-secret", cfg.Server.APIToken)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "no identity", env: map[string]string{}},
		{name: "zero match window", env: map[string]string{"SESSION_USER_ID": "me", "SYNC_MATCH_WINDOW": "0s"}},
		{name: "negative typing ttl", env: map[string]string{"SESSION_USER_ID": "me", "SYNC_TYPING_TTL": "-1s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
