package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/vibemirror/chronos/pkg/config"
	"github.com/vibemirror/chronos/pkg/event"
	"github.com/vibemirror/chronos/pkg/handler"
	"github.com/vibemirror/chronos/pkg/kv"
	"github.com/vibemirror/chronos/pkg/models"
	"github.com/vibemirror/chronos/pkg/service"
	"github.com/vibemirror/chronos/pkg/utils"
)

const requestIDHeader = "X-Request-ID"

type Server struct {
	ginEngine *gin.Engine
	cfg       *config.AppConfig
	store     kv.Store
	emitter   *event.Emitter
	upstream  service.Upstream
	logger    *slog.Logger
	port      int
}

// NewServer builds the engine over an opened store. upstream may be nil, in
// which case one is created from GEMINI_API_KEY when it is set.
func NewServer(ctx context.Context, cfg *config.AppConfig, store kv.Store, upstream service.Upstream) (*Server, error) {
	logger := utils.GetLogger()

	if upstream == nil && cfg.Env.GeminiAPIKey != "" {
		up, err := service.NewGenAIUpstream(ctx, cfg.Env.GeminiAPIKey, cfg.Proxy.UpstreamBaseURL)
		if err != nil {
			return nil, err
		}
		upstream = up
	}
	if cfg.Env.GeminiAPIKey == "" {
		logger.Warn("GEMINI_API_KEY is not set; generation requests will fail with 500")
	}

	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())
	ginEngine.Use(requestLogger(logger))
	ginEngine.Use(corsMiddleware(cfg.AllowedOrigins()))

	server := &Server{
		ginEngine: ginEngine,
		cfg:       cfg,
		store:     store,
		emitter:   event.NewEmitter(),
		upstream:  upstream,
		logger:    logger,
		port:      0,
	}

	server.SetupRoutes()

	return server, nil
}

// corsMiddleware answers with the configured origin policy. A "*" entry
// allows any origin without credentials; listed origins are echoed back
// with credentials so the session cookie can travel cross-site.
func corsMiddleware(allowed []string) gin.HandlerFunc {
	wildcard := slices.Contains(allowed, "*")
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		switch {
		case wildcard:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(allowed, origin):
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Vary", "Origin")
		case len(allowed) > 0:
			// Browsers block the response; non-browser clients are unaffected.
			c.Header("Access-Control-Allow-Origin", allowed[0])
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(requestIDHeader, reqID)

		c.Next()

		logger.Info("HTTP request",
			"request_id", reqID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

// originAllowed is the websocket counterpart of corsMiddleware.
func originAllowed(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
	}
}

func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host(), s.cfg.Port())
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.ginEngine,
		ReadTimeout:  s.cfg.ReadTimeout(),
		WriteTimeout: s.cfg.WriteTimeout(),
	}

	// Attempt to listen on port first; if occupied return error immediately
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}

	// Record the actual port (useful when configured with 0).
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	} else {
		s.port = s.cfg.Port()
	}
	s.logger.Info("Chronos listening", "addr", ln.Addr().String(), "auth", s.cfg.AuthMode(), "storage", s.cfg.StorageBackend())

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ln)
	}()

	// Listen for context cancellation for graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	// Non-blocking: if startup fails immediately return error; otherwise return nil to let main continue
	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	default:
	}
	return nil
}

func (s *Server) SetupRoutes() {
	cfg := s.cfg
	httpClient := &http.Client{Timeout: cfg.UpstreamTimeout() + 5*time.Second}

	// Stores
	settingsStore := service.NewSettingsStore(s.store, s.emitter)
	conversationStore := service.NewConversationStore(s.store, s.emitter)
	forumStore := service.NewForumStore(s.store, s.emitter)
	userStore := service.NewUserStore(s.store)
	sessionStore := service.NewSessionStore(s.store, cfg.SessionTTL())

	var issuer *service.TokenIssuer
	if cfg.AuthMode() == config.AuthModeToken {
		issuer = service.NewTokenIssuer(cfg.Env.JWTSecret, cfg.TokenTTL())
	}
	auth := handler.NewAuthenticator(cfg.AuthMode(), sessionStore, userStore, issuer, cfg.IsAdmin)

	// Generation proxy
	proxy := service.NewGenerationProxy(s.upstream, service.ProxyOptions{
		APIKey:                 cfg.Env.GeminiAPIKey,
		DefaultModel:           cfg.DefaultModel(),
		DefaultMaxOutputTokens: cfg.DefaultMaxOutputTokens(),
		AllowedModels:          cfg.Proxy.AllowedModels,
		Timeout:                cfg.UpstreamTimeout(),
		Limiter:                service.NewRateLimiter(cfg.Proxy.RateLimitPerMinute, cfg.Proxy.RateLimitBurst),
	})

	// Chat collaborators: remote when an endpoint is configured
	var forumSource service.ForumSource = service.NewLocalForumSource(forumStore)
	if cfg.Forum.Endpoint != "" {
		forumSource = service.NewHTTPForumSource(cfg.Forum.Endpoint, httpClient)
	}
	var generationClient service.GenerationClient = service.NewLocalGenerationClient(proxy)
	if cfg.Chat.GenerationEndpoint != "" {
		generationClient = service.NewHTTPGenerationClient(cfg.Chat.GenerationEndpoint, "", httpClient)
	}

	chatService := service.NewChatService(conversationStore, settingsStore, forumSource,
		service.NewContextAssembler(cfg.MaxContextPosts()), generationClient)
	shareService := service.NewShareService(conversationStore, forumStore)

	proxyHandler := handler.NewProxyHandler(proxy, auth, s.logger)
	forumHandler := handler.NewForumHandler(forumStore, s.logger)
	authHandler := handler.NewAuthHandler(handler.AuthHandlerOptions{
		Users:        userStore,
		Sessions:     sessionStore,
		Issuer:       issuer,
		Auth:         auth,
		IsAdmin:      cfg.IsAdmin,
		SessionTTL:   cfg.SessionTTL(),
		CookieDomain: cfg.Auth.CookieDomain,
		Logger:       s.logger,
	})
	conversationHandler := handler.NewConversationHandler(conversationStore, chatService, shareService, s.logger)
	settingsHandler := handler.NewSettingsHandler(settingsStore, s.logger)
	wsHandler := event.NewWSHandler(s.emitter, func(r *http.Request) (string, error) {
		id, err := auth.Authenticate(r)
		return id.UserID, err
	}, originAllowed(cfg.AllowedOrigins()))

	s.ginEngine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API group
	// /api
	apiGroup := s.ginEngine.Group("/api")

	// Runtime info (for clients to discover correct base URLs)
	apiGroup.GET("/runtime", func(c *gin.Context) {
		host := cfg.Host()
		if host == "0.0.0.0" || host == "" {
			host = "127.0.0.1"
		}
		port := s.port
		if port == 0 {
			port = cfg.Port()
		}

		c.JSON(http.StatusOK, models.RuntimeInfo{
			HTTPBaseURL: fmt.Sprintf("http://%s:%d", host, port),
			WSBaseURL:   fmt.Sprintf("ws://%s:%d", host, port),
			Port:        port,
			AuthMode:    cfg.AuthMode(),
		})
	})

	// Public routes: the proxy authenticates itself so preflight and method
	// checks run first.
	proxyHandler.RegisterRoutes(apiGroup)
	forumHandler.RegisterRoutes(apiGroup)
	authHandler.RegisterRoutes(apiGroup)

	// /api/events/ws
	apiGroup.GET("/events/ws", wsHandler.Handle)

	userGroup := apiGroup.Group("", handler.RequireIdentity(auth))
	conversationHandler.RegisterRoutes(userGroup)
	settingsHandler.RegisterRoutes(userGroup)
}
