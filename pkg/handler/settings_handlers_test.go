package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vibemirror/chronos/pkg/config"
	"github.com/vibemirror/chronos/pkg/models"
)

func TestSettings_GetReturnsDefaults(t *testing.T) {
	env := newTestEnv(t, envOptions{authMode: config.AuthModeNone})

	w := env.do(http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.DefaultSettings(), decode[models.Settings](t, w))
}

func TestSettings_PatchClampsRanges(t *testing.T) {
	env := newTestEnv(t, envOptions{authMode: config.AuthModeNone})

	tests := []struct {
		body       string
		wantTemp   float64
		wantTokens int
	}{
		{`{"temperature":3,"maxOutputTokens":100000}`, models.MaxTemperature, models.MaxMaxOutputTokens},
		{`{"temperature":-1,"maxOutputTokens":1}`, models.MinTemperature, models.MinMaxOutputTokens},
		{`{"temperature":0.9,"maxOutputTokens":2048}`, 0.9, 2048},
	}
	for _, tt := range tests {
		w := env.do(http.MethodPatch, "/api/settings", tt.body)
		require.Equal(t, http.StatusOK, w.Code, tt.body)
		got := decode[models.Settings](t, w)
		assert.InDelta(t, tt.wantTemp, got.Temperature, 1e-9, tt.body)
		assert.Equal(t, tt.wantTokens, got.MaxOutputTokens, tt.body)
	}

	stored, err := env.settings.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2048, stored.MaxOutputTokens)
	assert.Equal(t, models.DefaultPersona, stored.Persona, "untouched fields survive a patch")
}

func TestSettings_PatchRejectsUnknownValues(t *testing.T) {
	env := newTestEnv(t, envOptions{authMode: config.AuthModeNone})

	for _, body := range []string{
		`{"defaultResponseLanguage":"de"}`,
		`{"model":"gpt-4"}`,
	} {
		w := env.do(http.MethodPatch, "/api/settings", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}

	w := env.do(http.MethodPatch, "/api/settings", `{"defaultResponseLanguage":"EN","model":"gemini-2.0-flash-thinking-exp"}`)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[models.Settings](t, w)
	assert.Equal(t, "en", got.DefaultResponseLanguage)
	assert.Equal(t, models.ModelFlashThinkingExp, got.Model)
}

func TestSettings_PatchIsAdminOnlyWithAuth(t *testing.T) {
	env := newTestEnv(t, envOptions{authMode: config.AuthModeSession, admins: []string{"admin@example.com"}})
	user := env.register(t, "ada@example.com", "Ada")
	admin := env.register(t, "admin@example.com", "Admin")

	w := env.do(http.MethodPatch, "/api/settings", `{"persona":"x"}`, "Cookie", user)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodGet, "/api/settings", "", "Cookie", user)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodPatch, "/api/settings", `{"persona":"x"}`, "Cookie", admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "x", decode[models.Settings](t, w).Persona)
}

func TestSettings_MasksStoredKey(t *testing.T) {
	env := newTestEnv(t, envOptions{authMode: config.AuthModeNone})

	w := env.do(http.MethodPatch, "/api/settings", `{"apiKey":"`+testAPIKey+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), testAPIKey)

	w = env.do(http.MethodGet, "/api/settings", "")
	assert.NotContains(t, w.Body.String(), testAPIKey)
}
