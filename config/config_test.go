package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigRequiresAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "test-key", cfg.GeminiAPIKey)
	assert.Equal(t, "Zephyr", cfg.Voice)
	assert.True(t, cfg.InputTranscription)
	assert.True(t, cfg.OutputTranscription)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 24*time.Hour, cfg.HistoryTTL)
	assert.NotEmpty(t, cfg.SystemInstruction)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("VOICE", "Puck")
	t.Setenv("PORT", "9090")
	t.Setenv("OUTPUT_TRANSCRIPTION", "false")
	t.Setenv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	t.Setenv("HISTORY_TTL", "48")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "Puck", cfg.Voice)
	assert.Equal(t, 9090, cfg.Port)
	assert.False(t, cfg.OutputTranscription)
	assert.Len(t, cfg.AllowedOrigins, 2)
	assert.Equal(t, 48*time.Hour, cfg.HistoryTTL)
}

func TestLoadConfigInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "bad port", key: "PORT", value: "not-a-port"},
		{name: "bad transcription flag", key: "INPUT_TRANSCRIPTION", value: "maybe"},
		{name: "bad history ttl", key: "HISTORY_TTL", value: "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GEMINI_API_KEY", "test-key")
			t.Setenv(tt.key, tt.value)

			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}
