package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vibemirror/chronos/pkg/models"
	"github.com/vibemirror/chronos/pkg/service"
)

// AuthHandler serves the user directory: register, login, logout and me.
type AuthHandler struct {
	users        *service.UserStore
	sessions     *service.SessionStore
	issuer       *service.TokenIssuer
	auth         Authenticator
	isAdmin      func(string) bool
	sessionTTL   time.Duration
	cookieDomain string
	logger       *slog.Logger
}

type AuthHandlerOptions struct {
	Users    *service.UserStore
	Sessions *service.SessionStore
	// Issuer is nil unless bearer tokens are enabled.
	Issuer       *service.TokenIssuer
	Auth         Authenticator
	IsAdmin      func(string) bool
	SessionTTL   time.Duration
	CookieDomain string
	Logger       *slog.Logger
}

func NewAuthHandler(opts AuthHandlerOptions) *AuthHandler {
	return &AuthHandler{
		users:        opts.Users,
		sessions:     opts.Sessions,
		issuer:       opts.Issuer,
		auth:         opts.Auth,
		isAdmin:      opts.IsAdmin,
		sessionTTL:   opts.SessionTTL,
		cookieDomain: opts.CookieDomain,
		logger:       opts.Logger,
	}
}

// RegisterRoutes registers auth routes
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup) {
	auth := r.Group("/auth")
	{
		auth.POST("/register", h.Register)
		auth.POST("/login", h.Login)
		auth.POST("/logout", h.Logout)
		auth.GET("/me", RequireIdentity(h.auth), h.Me)
	}
}

type registerRequest struct {
	Email    string `json:"email" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	User      models.Identity `json:"user"`
	Token     string          `json:"token,omitempty"`
	ExpiresAt int64           `json:"expiresAt,omitempty"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	user, err := h.users.Register(c.Request.Context(), req.Email, req.Name, req.Password)
	switch {
	case errors.Is(err, service.ErrUserExists):
		c.JSON(http.StatusConflict, gin.H{"error": "User already exists"})
		return
	case errors.Is(err, service.ErrInvalidUserInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("Failed to register user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register user"})
		return
	}

	h.openSession(c, user, http.StatusCreated)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if errors.Is(err, service.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to authenticate user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to log in"})
		return
	}

	h.openSession(c, user, http.StatusOK)
}

func (h *AuthHandler) Logout(c *gin.Context) {
	if cookie, err := c.Cookie(SessionCookie); err == nil && cookie != "" {
		if err := h.sessions.Delete(c.Request.Context(), cookie); err != nil {
			h.logger.Warn("Failed to delete session", "error", err)
		}
	}
	h.setCookie(c, "", -1)
	c.Status(http.StatusNoContent)
}

func (h *AuthHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, identityFrom(c))
}

func (h *AuthHandler) openSession(c *gin.Context, user models.User, status int) {
	sess, err := h.sessions.Create(c.Request.Context(), user.Email)
	if err != nil {
		h.logger.Error("Failed to create session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}
	h.setCookie(c, sess.ID, int(h.sessionTTL.Seconds()))

	resp := loginResponse{User: models.Identity{UserID: user.Email, Name: user.Name, IsAdmin: h.isAdmin(user.Email)}}
	if h.issuer != nil {
		token, exp, err := h.issuer.Issue(user)
		if err != nil {
			h.logger.Error("Failed to issue token", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
			return
		}
		resp.Token = token
		resp.ExpiresAt = exp.UnixMilli()
	}
	c.JSON(status, resp)
}

// setCookie writes the session cookie. Cross-site front ends need
// SameSite=None, which browsers only accept on secure cookies.
func (h *AuthHandler) setCookie(c *gin.Context, value string, maxAge int) {
	secure := c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https"
	if secure {
		c.SetSameSite(http.SameSiteNoneMode)
	} else {
		c.SetSameSite(http.SameSiteLaxMode)
	}
	c.SetCookie(SessionCookie, value, maxAge, "/", h.cookieDomain, secure, true)
}
