package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intermernet/finishline/internal/auth"
)

// Tests here mutate the environment and so do not run in parallel.

func setRequired(t *testing.T) string {
	t.Helper()
	hash, err := auth.HashPassword("pw")
	require.NoError(t, err)
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("ADMIN_PASSWORD_HASH", hash)
	return hash
}

func TestNewDefaults(t *testing.T) {
	hash := setRequired(t)
	for _, k := range []string{"SERVER_ADDR", "DATA_PATH", "FRONTEND_URL", "BROADCAST_BUFFER", "TOKEN_TTL", "HEARTBEAT_INTERVAL"} {
		t.Setenv(k, "")
	}

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, filepath.Join("./data", "finishline.db"), cfg.DbPath)
	assert.Equal(t, 16, cfg.BroadcastBuffer)
	assert.Equal(t, auth.DefaultTokenTTL, cfg.TokenTTL)
	assert.Equal(t, 15*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, hash, cfg.AdminPasswordHash)
	assert.Equal(t, "localhost:5173", cfg.ParsedFrontendURL.Host)
}

func TestNewOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("SERVER_ADDR", ":9999")
	t.Setenv("BROADCAST_BUFFER", "64")
	t.Setenv("TOKEN_TTL", "2h")
	t.Setenv("HEARTBEAT_INTERVAL", "5s")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.ServerAddr)
	assert.Equal(t, 64, cfg.BroadcastBuffer)
	assert.Equal(t, 2*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
}

func TestNewFailsFast(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing secret", env: map[string]string{"JWT_SECRET": ""}},
		{name: "missing hash", env: map[string]string{"ADMIN_PASSWORD_HASH": ""}},
		{name: "malformed hash", env: map[string]string{"ADMIN_PASSWORD_HASH": "hunter2"}},
		{name: "bad buffer", env: map[string]string{"BROADCAST_BUFFER": "-1"}},
		{name: "bad ttl", env: map[string]string{"TOKEN_TTL": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := New()
			assert.Error(t, err)
		})
	}
}
