package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/dmsync/internal/config"
)

func TestSetKey(t *testing.T) {
	cfg := config.Default()

	require.NoError(t, setKey(cfg, "server_url", "wss://chat.example/ws"))
	require.NoError(t, setKey(cfg, "reconnect.max", "1m"))
	require.NoError(t, setKey(cfg, "reconnect.max_attempts", "7"))
	require.NoError(t, setKey(cfg, "archive.enabled", "false"))
	require.NoError(t, setKey(cfg, "default_session", "work"))

	assert.Equal(t, "wss://chat.example/ws", cfg.ServerURL)
	assert.Equal(t, time.Minute, cfg.Reconnect.Max.Duration)
	assert.Equal(t, 7, cfg.Reconnect.MaxAttempts)
	assert.False(t, cfg.Archive.Enabled)
	assert.Equal(t, "work", cfg.DefaultSession)
}

func TestSetKeyRejects(t *testing.T) {
	cfg := config.Default()
	tests := []struct {
		key, value string
	}{
		{"nope", "x"},
		{"typing.ttl", "soon"},
		{"resync_on_connect", "maybe"},
		{"reconnect.max_attempts", "many"},
		{"default_session", "Bad Name"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Error(t, setKey(cfg, tt.key, tt.value))
		})
	}
}
