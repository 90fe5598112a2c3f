package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/vibemirror/chronos/pkg/config"
	"github.com/vibemirror/chronos/pkg/models"
	"github.com/vibemirror/chronos/pkg/service"
)

const (
	SessionCookie       = "chronos_session"
	identityKey         = "chronos.identity"
	unauthorizedMessage = "Unauthorized - Please log in"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator resolves the caller of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (models.Identity, error)
}

// NoAuth treats every caller as the anonymous administrator.
type NoAuth struct{}

func (NoAuth) Authenticate(*http.Request) (models.Identity, error) {
	id := models.AnonymousIdentity()
	id.IsAdmin = true
	return id, nil
}

// SessionAuth reads the session cookie.
type SessionAuth struct {
	Sessions *service.SessionStore
	Users    *service.UserStore
	IsAdmin  func(email string) bool
}

func (a *SessionAuth) Authenticate(r *http.Request) (models.Identity, error) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		return models.Identity{}, ErrUnauthenticated
	}
	sess, err := a.Sessions.Get(r.Context(), cookie.Value)
	if err != nil {
		return models.Identity{}, ErrUnauthenticated
	}
	user, err := a.Users.Get(r.Context(), sess.Email)
	if err != nil {
		return models.Identity{}, ErrUnauthenticated
	}
	return models.Identity{UserID: user.Email, Name: user.Name, IsAdmin: a.IsAdmin(user.Email)}, nil
}

// TokenAuth reads an Authorization: Bearer token.
type TokenAuth struct {
	Issuer  *service.TokenIssuer
	IsAdmin func(email string) bool
}

func (a *TokenAuth) Authenticate(r *http.Request) (models.Identity, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return models.Identity{}, ErrUnauthenticated
	}
	claims, err := a.Issuer.Parse(token)
	if err != nil {
		return models.Identity{}, ErrUnauthenticated
	}
	return models.Identity{UserID: claims.Subject, Name: claims.Name, IsAdmin: a.IsAdmin(claims.Subject)}, nil
}

// NewAuthenticator picks the policy configured for the deployment.
func NewAuthenticator(mode string, sessions *service.SessionStore, users *service.UserStore, issuer *service.TokenIssuer, isAdmin func(string) bool) Authenticator {
	switch mode {
	case config.AuthModeSession:
		return &SessionAuth{Sessions: sessions, Users: users, IsAdmin: isAdmin}
	case config.AuthModeToken:
		return &TokenAuth{Issuer: issuer, IsAdmin: isAdmin}
	default:
		return NoAuth{}
	}
}

// RequireIdentity rejects unauthenticated requests with 401.
func RequireIdentity(a Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := a.Authenticate(c.Request)
		if err != nil {
			abortUnauthorized(c)
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": unauthorizedMessage})
}

func identityFrom(c *gin.Context) models.Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(models.Identity); ok {
			return id
		}
	}
	return models.AnonymousIdentity()
}
