package transcribe

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fmueller/voxkey/internal/apperr"
)

func TestProviderConfigMapRoundTrip(t *testing.T) {
	t.Parallel()

	original := ProviderConfig{
		Name:    "openai",
		Type:    TypeRemote,
		URL:     "https://api.openai.com/v1/audio/transcriptions",
		APIKey:  "sk-test",
		Model:   "whisper-1",
		Timeout: 45 * time.Second,
	}

	parsed, err := ParseProviderConfig("", original.ToMap())
	require.NoError(t, err)
	require.Equal(t, original, parsed)
}

func TestProviderConfigJSONRoundTrip(t *testing.T) {
	t.Parallel()

	for _, original := range DefaultProviders() {
		data, err := json.Marshal(original)
		require.NoError(t, err)

		var parsed ProviderConfig
		require.NoError(t, json.Unmarshal(data, &parsed))
		require.Equal(t, original, parsed)

		again, err := json.Marshal(parsed)
		require.NoError(t, err)
		require.JSONEq(t, string(data), string(again))
	}
}

func TestParseProviderConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := ParseProviderConfig("groq", map[string]any{
		"url":     GroqURL,
		"api_key": "gsk-test",
		"model":   "whisper-large-v3",
		"timeout": "10s",
	})
	require.NoError(t, err)
	require.Equal(t, "groq", cfg.Name)
	require.Equal(t, TypeRemote, cfg.Type)
	require.Equal(t, 10*time.Second, cfg.Timeout)
}

func TestParseProviderConfigRejectsBadTimeout(t *testing.T) {
	t.Parallel()

	_, err := ParseProviderConfig("groq", map[string]any{"timeout": "soon"})
	require.Error(t, err)
}

func TestProviderConfigValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, ProviderConfig{Name: "local", Type: TypeLocal, Model: "base"}.Validate())

	err := ProviderConfig{Name: "groq", Type: TypeRemote, Model: "whisper-large-v3"}.Validate()
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)
	require.ErrorContains(t, err, "url: is required")
	require.ErrorContains(t, err, "api_key: is required")

	err = ProviderConfig{Name: "x", Type: "cloud", Model: "m"}.Validate()
	require.ErrorContains(t, err, "type: must be one of")
}
