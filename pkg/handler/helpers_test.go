package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/vibemirror/chronos/pkg/config"
	"github.com/vibemirror/chronos/pkg/event"
	"github.com/vibemirror/chronos/pkg/kv"
	"github.com/vibemirror/chronos/pkg/models"
	"github.com/vibemirror/chronos/pkg/service"
	"github.com/vibemirror/chronos/pkg/utils"
	"google.golang.org/genai"
)

const testAPIKey = "AIzaTestKey-0123456789abcdef"

type fakeUpstream struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
}

func (f *fakeUpstream) GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: f.text}}},
		}},
	}, nil
}

func (f *fakeUpstream) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testEnv struct {
	engine        *gin.Engine
	upstream      *fakeUpstream
	users         *service.UserStore
	conversations *service.ConversationStore
	forum         *service.ForumStore
	settings      *service.SettingsStore
}

type envOptions struct {
	authMode  string
	apiKey    string
	admins    []string
	rateLimit int
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := utils.GetLogger()

	mem := kv.NewMemory()
	em := event.NewEmitter()
	settings := service.NewSettingsStore(mem, em)
	conversations := service.NewConversationStore(mem, em)
	forum := service.NewForumStore(mem, em)
	users := service.NewUserStore(mem)
	sessions := service.NewSessionStore(mem, time.Hour)

	var issuer *service.TokenIssuer
	if opts.authMode == config.AuthModeToken {
		issuer = service.NewTokenIssuer("test-secret", time.Hour)
	}
	isAdmin := func(email string) bool {
		for _, a := range opts.admins {
			if a == email {
				return true
			}
		}
		return false
	}
	auth := NewAuthenticator(opts.authMode, sessions, users, issuer, isAdmin)

	up := &fakeUpstream{text: "Hello from the fields."}
	proxy := service.NewGenerationProxy(up, service.ProxyOptions{
		APIKey:       opts.apiKey,
		DefaultModel: models.ModelFlashExp,
		Timeout:      5 * time.Second,
		Limiter:      service.NewRateLimiter(opts.rateLimit, 1),
	})
	chat := service.NewChatService(conversations, settings, service.NewLocalForumSource(forum),
		service.NewContextAssembler(10), service.NewLocalGenerationClient(proxy))
	share := service.NewShareService(conversations, forum)

	r := gin.New()
	api := r.Group("/api")
	NewProxyHandler(proxy, auth, logger).RegisterRoutes(api)
	NewForumHandler(forum, logger).RegisterRoutes(api)
	NewAuthHandler(AuthHandlerOptions{
		Users:      users,
		Sessions:   sessions,
		Issuer:     issuer,
		Auth:       auth,
		IsAdmin:    isAdmin,
		SessionTTL: time.Hour,
		Logger:     logger,
	}).RegisterRoutes(api)
	user := api.Group("", RequireIdentity(auth))
	NewConversationHandler(conversations, chat, share, logger).RegisterRoutes(user)
	NewSettingsHandler(settings, logger).RegisterRoutes(user)

	return &testEnv{
		engine:        r,
		upstream:      up,
		users:         users,
		conversations: conversations,
		forum:         forum,
		settings:      settings,
	}
}

// do sends a request; extra headers come in name, value pairs.
func (e *testEnv) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

// doFrom sends a request from the given remote address.
func (e *testEnv) doFrom(remoteAddr, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

// register creates a user and returns the session cookie header value.
func (e *testEnv) register(t *testing.T, email, name string) string {
	t.Helper()
	w := e.do(http.MethodPost, "/api/auth/register",
		`{"email":"`+email+`","name":"`+name+`","password":"pw-`+name+`"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookie {
			return SessionCookie + "=" + c.Value
		}
	}
	t.Fatal("no session cookie set")
	return ""
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}
