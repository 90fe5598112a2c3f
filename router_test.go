package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vibemirror/chronos/pkg/config"
	"github.com/vibemirror/chronos/pkg/kv"
	"github.com/vibemirror/chronos/pkg/models"
)

func newTestServer(t *testing.T, cfg *config.AppConfig) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s, err := NewServer(context.Background(), cfg, kv.NewMemory(), nil)
	require.NoError(t, err)
	return s
}

func serve(s *Server, method, path, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	s.ginEngine.ServeHTTP(w, req)
	return w
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t, &config.AppConfig{})

	w := serve(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	w = serve(s, http.MethodGet, "/api/runtime", "")
	require.Equal(t, http.StatusOK, w.Code)
	var info models.RuntimeInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, config.AuthModeNone, info.AuthMode)
	assert.Equal(t, config.DefaultPort, info.Port)
	assert.Equal(t, "http://127.0.0.1:8088", info.HTTPBaseURL)
}

func TestServer_WildcardCORS(t *testing.T) {
	s := newTestServer(t, &config.AppConfig{})

	w := serve(s, http.MethodOptions, "/api/gemini", "https://anywhere.example")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestServer_AllowListCORS(t *testing.T) {
	cfg := &config.AppConfig{}
	cfg.Proxy.Auth = config.AuthModeSession
	cfg.Proxy.AllowedOrigins = []string{"https://vibemirror.eu", "https://www.vibemirror.eu"}
	s := newTestServer(t, cfg)

	// preflight never reaches authentication, even on protected routes
	w := serve(s, http.MethodOptions, "/api/conversations", "https://www.vibemirror.eu")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://www.vibemirror.eu", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	w = serve(s, http.MethodGet, "/api/forum", "https://evil.example")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://vibemirror.eu", w.Header().Get("Access-Control-Allow-Origin"))

	// error responses carry the policy too
	w = serve(s, http.MethodGet, "/api/conversations", "https://vibemirror.eu")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "https://vibemirror.eu", w.Header().Get("Access-Control-Allow-Origin"))
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "application/json"))
}

func TestServer_ProxyWithoutKey(t *testing.T) {
	s := newTestServer(t, &config.AppConfig{})

	req := httptest.NewRequest(http.MethodPost, "/api/gemini", strings.NewReader(`{"prompt":"hi"}`))
	w := httptest.NewRecorder()
	s.ginEngine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Gemini API Key not configured")
}
