package handler

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vibemirror/chronos/pkg/config"
	"google.golang.org/genai"
)

const simpleBody = `{"prompt":"Who keeps the fields?","history":[{"role":"user","parts":[{"text":"hi"}]},{"role":"model","parts":[{"text":"hello"}]}]}`

func TestProxy_OptionsNeverAuthenticates(t *testing.T) {
	for _, mode := range []string{config.AuthModeNone, config.AuthModeSession, config.AuthModeToken} {
		env := newTestEnv(t, envOptions{authMode: mode, apiKey: testAPIKey})

		w := env.do(http.MethodOptions, "/api/gemini", "")
		assert.Equal(t, http.StatusNoContent, w.Code, mode)
		assert.Empty(t, w.Body.String(), mode)
		assert.Zero(t, env.upstream.Calls())
	}
}

func TestProxy_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, envOptions{authMode: config.AuthModeSession, apiKey: testAPIKey})

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		w := env.do(method, "/api/gemini", "")
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, method)
		assert.Equal(t, "Method Not Allowed", decode[map[string]string](t, w)["error"])
		assert.Equal(t, "POST, OPTIONS", w.Header().Get("Allow"))
	}
}

func TestProxy_SessionModeRequiresLogin(t *testing.T) {
	env := newTestEnv(t, envOptions{authMode: config.AuthModeSession, apiKey: testAPIKey})

	w := env.do(http.MethodPost, "/api/gemini", simpleBody)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Unauthorized - Please log in", decode[map[string]string](t, w)["error"])

	cookie := env.register(t, "ada@example.com", "Ada")
	w = env.do(http.MethodPost, "/api/gemini", simpleBody, "Cookie", cookie)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestProxy_TokenMode(t *testing.T) {
	env := newTestEnv(t, envOptions{authMode: config.AuthModeToken, apiKey: testAPIKey})

	w := env.do(http.MethodPost, "/api/auth/register", `{"email":"ada@example.com","name":"Ada","password":"pw"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	token := decode[loginResponse](t, w).Token
	require.NotEmpty(t, token)

	w = env.do(http.MethodPost, "/api/gemini", simpleBody, "Authorization", "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(http.MethodPost, "/api/gemini", simpleBody, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestProxy_BadBodies(t *testing.T) {
	env := newTestEnv(t, envOptions{authMode: config.AuthModeNone, apiKey: testAPIKey})

	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty", "", "Invalid JSON"},
		{"not json", "{prompt", "Invalid JSON"},
		{"empty object", "{}", "Prompt is required"},
		{"rich missing fields", `{"contents":[{"role":"user","parts":[{"text":"x"}]}]}`, "Missing required fields"},
		{"bad role", `{"prompt":"x","history":[{"role":"system","parts":[{"text":"y"}]}]}`, `Invalid role "system"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodPost, "/api/gemini", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.want, decode[map[string]string](t, w)["error"])
		})
	}
	assert.Zero(t, env.upstream.Calls())
}

func TestProxy_MissingCredential(t *testing.T) {
	env := newTestEnv(t, envOptions{authMode: config.AuthModeNone})

	w := env.do(http.MethodPost, "/api/gemini", simpleBody)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Gemini API Key not configured", decode[map[string]string](t, w)["error"])
	assert.Zero(t, env.upstream.Calls())
}

func TestProxy_TransportErrorNeverLeaksKey(t *testing.T) {
	env := newTestEnv(t, envOptions{authMode: config.AuthModeNone, apiKey: testAPIKey})
	env.upstream.err = errors.New("dial tcp: lookup generativelanguage.googleapis.com?key=" + testAPIKey + ": no such host")

	w := env.do(http.MethodPost, "/api/gemini", simpleBody)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), testAPIKey)
	assert.Contains(t, decode[map[string]string](t, w)["error"], "Proxy error:")
}

func TestProxy_RelaysUpstreamStatus(t *testing.T) {
	env := newTestEnv(t, envOptions{authMode: config.AuthModeNone, apiKey: testAPIKey})
	env.upstream.err = genai.APIError{Code: 429, Message: "Resource has been exhausted", Status: "RESOURCE_EXHAUSTED"}

	w := env.do(http.MethodPost, "/api/gemini", simpleBody)
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	body := decode[map[string]map[string]any](t, w)
	assert.EqualValues(t, 429, body["error"]["code"])
	assert.Equal(t, "Resource has been exhausted", body["error"]["message"])
	assert.Equal(t, "RESOURCE_EXHAUSTED", body["error"]["status"])
}

func TestProxy_SimpleSuccess(t *testing.T) {
	env := newTestEnv(t, envOptions{authMode: config.AuthModeNone, apiKey: testAPIKey})

	w := env.do(http.MethodPost, "/api/gemini", simpleBody)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]string{"text": "Hello from the fields."}, decode[map[string]string](t, w))
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
}

func TestProxy_RichSuccessReturnsUpstreamShape(t *testing.T) {
	env := newTestEnv(t, envOptions{authMode: config.AuthModeNone, apiKey: testAPIKey})

	w := env.do(http.MethodPost, "/api/gemini",
		`{"model":"gemini-2.0-flash-exp","contents":[{"role":"user","parts":[{"text":"hi"}]}],"generationConfig":{"temperature":0.5}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"candidates"`)
	assert.Contains(t, w.Body.String(), "Hello from the fields.")
}

func TestProxy_AnonymousCallersHaveSeparateLimits(t *testing.T) {
	env := newTestEnv(t, envOptions{authMode: config.AuthModeNone, apiKey: testAPIKey, rateLimit: 1})

	w := env.doFrom("10.0.0.1:1111", http.MethodPost, "/api/gemini", simpleBody)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = env.doFrom("10.0.0.2:2222", http.MethodPost, "/api/gemini", simpleBody)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.doFrom("10.0.0.1:1111", http.MethodPost, "/api/gemini", simpleBody)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "Too many requests", decode[map[string]string](t, w)["error"])
}

func TestProxy_BodyTooLarge(t *testing.T) {
	env := newTestEnv(t, envOptions{authMode: config.AuthModeNone, apiKey: testAPIKey})

	big := `{"prompt":"` + strings.Repeat("a", maxGenerateBody) + `"}`
	w := env.do(http.MethodPost, "/api/gemini", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "Request body too large", decode[map[string]string](t, w)["error"])
	assert.Zero(t, env.upstream.Calls())
}
