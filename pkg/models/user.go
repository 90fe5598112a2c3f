package models

// User is an entry of the user directory, keyed by email.
type User struct {
	Email        string `json:"email"`
	Name         string `json:"name"`
	PasswordHash string `json:"passwordHash"`
	CreatedAt    int64  `json:"createdAt"`
}

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	IsAdmin   bool   `json:"isAdmin"`
	Anonymous bool   `json:"anonymous,omitempty"`
}

// AnonymousIdentity is used when a deployment runs without authentication.
func AnonymousIdentity() Identity {
	return Identity{UserID: "anonymous", Name: "Anonymous", Anonymous: true}
}

// UserContext is assembled before each generation and never persisted.
type UserContext struct {
	UserID      string
	DisplayName string
	Snippets    []string
}

// Session is a login session persisted in the key-value store.
type Session struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	ExpiresAt int64  `json:"expiresAt"`
}

// RuntimeInfo describes where the API and event socket are reachable.
type RuntimeInfo struct {
	HTTPBaseURL string `json:"http_base_url"`
	WSBaseURL   string `json:"ws_base_url"`
	Port        int    `json:"port"`
	AuthMode    string `json:"auth_mode"`
}
