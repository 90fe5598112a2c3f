package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is read from a YAML file under the user's home directory.
// All fields are optional; defaults are applied by the accessor methods.
//
// Example (~/.chronos/config.yaml):
//
// server:
//   host: 0.0.0.0
//   port: 8088
// storage:
//   backend: bolt
//   path: /var/lib/chronos/chronos.db
// proxy:
//   auth: session
//   allowed_origins: ["https://vibemirror.eu", "https://www.vibemirror.eu"]
//   upstream_timeout: 30s
//
// Notes:
// - If the config file does not exist, Load returns defaults without error.
// - If the config file exists but cannot be parsed, Load returns an error.
// - Secrets (upstream API key, JWT secret) come from the environment, see Env.
type AppConfig struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Storage StorageConfig `yaml:"storage"`
	Proxy   ProxyConfig   `yaml:"proxy"`
	Forum   ForumConfig   `yaml:"forum"`
	Chat    ChatConfig    `yaml:"chat"`
	Auth    AuthConfig    `yaml:"auth"`

	// Env holds values read from the process environment by ParseEnv.
	Env Env `yaml:"-"`
}

type ServerConfig struct {
	Host         *string        `yaml:"host"`
	Port         *int           `yaml:"port"`
	ReadTimeout  *time.Duration `yaml:"read_timeout"`
	WriteTimeout *time.Duration `yaml:"write_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

type StorageConfig struct {
	Backend       string `yaml:"backend"` // memory, bolt, sqlite, postgres, mysql, redis
	Path          string `yaml:"path"`    // bolt / sqlite file
	DSN           string `yaml:"dsn"`     // postgres / mysql
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`
}

type ProxyConfig struct {
	Auth                   string         `yaml:"auth"` // none, session, token
	AllowedOrigins         []string       `yaml:"allowed_origins"`
	UpstreamTimeout        *time.Duration `yaml:"upstream_timeout"`
	UpstreamBaseURL        string         `yaml:"upstream_base_url"`
	DefaultModel           string         `yaml:"default_model"`
	AllowedModels          []string       `yaml:"allowed_models"`
	DefaultMaxOutputTokens *int           `yaml:"default_max_output_tokens"`
	RateLimitPerMinute     int            `yaml:"rate_limit_per_minute"`
	RateLimitBurst         int            `yaml:"rate_limit_burst"`
}

type ForumConfig struct {
	// Endpoint of a remote forum listing service. Empty uses the local forum store.
	Endpoint string `yaml:"endpoint"`
}

type ChatConfig struct {
	// GenerationEndpoint of a remote generation proxy. Empty calls the in-process proxy.
	GenerationEndpoint string `yaml:"generation_endpoint"`
	MaxContextPosts    *int   `yaml:"max_context_posts"`
}

type AuthConfig struct {
	TokenTTL    *time.Duration `yaml:"token_ttl"`
	SessionTTL  *time.Duration `yaml:"session_ttl"`
	AdminEmails []string       `yaml:"admin_emails"`
	// CookieDomain scopes the session cookie, e.g. ".vibemirror.eu".
	CookieDomain string `yaml:"cookie_domain"`
}

const (
	DefaultHost                  = "127.0.0.1"
	DefaultPort                  = 8088
	DefaultReadTimeout           = 15 * time.Second
	DefaultWriteTimeout          = 60 * time.Second
	DefaultStorageBackend        = "memory"
	DefaultAuthMode              = "none"
	DefaultUpstreamTimeout       = 30 * time.Second
	MaxUpstreamTimeout           = 30 * time.Second
	DefaultModel                 = "gemini-2.0-flash-exp"
	DefaultMaxOutputTokens       = 200
	DefaultMaxContextPosts       = 10
	DefaultTokenTTL              = 24 * time.Hour
	DefaultSessionTTL            = 24 * time.Hour
	AuthModeNone                 = "none"
	AuthModeSession              = "session"
	AuthModeToken                = "token"
	configDirName                = ".chronos"
	configFileName               = "config.yaml"
	configPathEnv                = "CHRONOS_CONFIG"
	defaultStorageFileNameBolt   = "chronos.db"
	defaultStorageFileNameSQLite = "chronos.sqlite"
)

// DefaultPaths returns the config dir and config file path.
// CHRONOS_CONFIG overrides the file location.
func DefaultPaths() (configDir string, configFile string, err error) {
	if p := strings.TrimSpace(os.Getenv(configPathEnv)); p != "" {
		return filepath.Dir(p), p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, configDirName)
	configFile = filepath.Join(configDir, configFileName)
	return configDir, configFile, nil
}

// Load reads ~/.chronos/config.yaml and overlays the environment.
// If the file doesn't exist, it returns a default config and nil error.
func Load() (*AppConfig, string, error) {
	_, configFile, err := DefaultPaths()
	if err != nil {
		return nil, "", err
	}

	cfg := &AppConfig{}

	b, err := os.ReadFile(configFile)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, "", fmt.Errorf("parse yaml config %s: %w", configFile, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, "", fmt.Errorf("read config file %s: %w", configFile, err)
	}

	if err := ParseEnv(&cfg.Env); err != nil {
		return nil, "", err
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config %s: %w", configFile, err)
	}

	return cfg, configFile, nil
}

// Validate checks the values that have no sensible fallback.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Host()) == "" {
		return fmt.Errorf("server.host is empty")
	}
	if port := c.Port(); port < 1 || port > 65535 {
		return fmt.Errorf("server.port %d out of range", port)
	}
	switch c.StorageBackend() {
	case "memory", "bolt", "sqlite", "redis":
	case "postgres", "mysql":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return fmt.Errorf("storage.dsn is required for backend %s", c.StorageBackend())
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	switch c.AuthMode() {
	case AuthModeNone, AuthModeSession:
	case AuthModeToken:
		if c.Env.JWTSecret == "" {
			return fmt.Errorf("CHRONOS_JWT_SECRET is required for token auth")
		}
	default:
		return fmt.Errorf("unknown proxy.auth %q", c.Proxy.Auth)
	}
	if c.Proxy.RateLimitPerMinute < 0 {
		return fmt.Errorf("proxy.rate_limit_per_minute must not be negative")
	}
	return nil
}

// EnsureDefaultConfig writes a default config file if it doesn't already exist.
// It is safe to call on startup.
func EnsureDefaultConfig() (string, error) {
	configDir, configFile, err := DefaultPaths()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configFile); err == nil {
		return configFile, nil
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", configDir, err)
	}

	defaultCfg := AppConfig{
		Server:  ServerConfig{Host: ptr(DefaultHost), Port: ptr(DefaultPort)},
		Storage: StorageConfig{Backend: DefaultStorageBackend},
		Proxy: ProxyConfig{
			Auth:            DefaultAuthMode,
			AllowedOrigins:  []string{"*"},
			UpstreamTimeout: ptr(DefaultUpstreamTimeout),
			DefaultModel:    DefaultModel,
		},
	}
	b, err := yaml.Marshal(&defaultCfg)
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}

	if err := os.WriteFile(configFile, b, 0o600); err != nil {
		return "", fmt.Errorf("write default config file %s: %w", configFile, err)
	}

	return configFile, nil
}

func (c *AppConfig) applyEnv() {
	if c.Env.Port != 0 {
		c.Server.Port = ptr(c.Env.Port)
	}
	if c.Env.StorageBackend != "" {
		c.Storage.Backend = c.Env.StorageBackend
	}
	if c.Env.StorageDSN != "" {
		c.Storage.DSN = c.Env.StorageDSN
	}
}

func (c *AppConfig) Host() string {
	if c == nil || c.Server.Host == nil {
		return DefaultHost
	}
	v := strings.TrimSpace(*c.Server.Host)
	if v == "" {
		return DefaultHost
	}
	return v
}

func (c *AppConfig) Port() int {
	if c == nil || c.Server.Port == nil {
		return DefaultPort
	}
	return *c.Server.Port
}

func (c *AppConfig) ReadTimeout() time.Duration {
	if c == nil || c.Server.ReadTimeout == nil || *c.Server.ReadTimeout <= 0 {
		return DefaultReadTimeout
	}
	return *c.Server.ReadTimeout
}

func (c *AppConfig) WriteTimeout() time.Duration {
	if c == nil || c.Server.WriteTimeout == nil || *c.Server.WriteTimeout <= 0 {
		return DefaultWriteTimeout
	}
	return *c.Server.WriteTimeout
}

func (c *AppConfig) StorageBackend() string {
	if c == nil {
		return DefaultStorageBackend
	}
	v := strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if v == "" {
		return DefaultStorageBackend
	}
	return v
}

// StoragePath returns the file used by the bolt and sqlite backends.
func (c *AppConfig) StoragePath() string {
	if c != nil && strings.TrimSpace(c.Storage.Path) != "" {
		return c.Storage.Path
	}
	dir, _, err := DefaultPaths()
	if err != nil {
		dir = "."
	}
	if c.StorageBackend() == "sqlite" {
		return filepath.Join(dir, defaultStorageFileNameSQLite)
	}
	return filepath.Join(dir, defaultStorageFileNameBolt)
}

func (c *AppConfig) AuthMode() string {
	if c == nil {
		return DefaultAuthMode
	}
	v := strings.ToLower(strings.TrimSpace(c.Proxy.Auth))
	if v == "" {
		return DefaultAuthMode
	}
	return v
}

// AllowedOrigins defaults to a wildcard.
func (c *AppConfig) AllowedOrigins() []string {
	if c == nil || len(c.Proxy.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return c.Proxy.AllowedOrigins
}

// UpstreamTimeout is capped: anything beyond 30s is treated as the cap.
func (c *AppConfig) UpstreamTimeout() time.Duration {
	if c == nil || c.Proxy.UpstreamTimeout == nil || *c.Proxy.UpstreamTimeout <= 0 {
		return DefaultUpstreamTimeout
	}
	if *c.Proxy.UpstreamTimeout > MaxUpstreamTimeout {
		return MaxUpstreamTimeout
	}
	return *c.Proxy.UpstreamTimeout
}

func (c *AppConfig) DefaultModel() string {
	if c == nil || strings.TrimSpace(c.Proxy.DefaultModel) == "" {
		return DefaultModel
	}
	return strings.TrimSpace(c.Proxy.DefaultModel)
}

func (c *AppConfig) DefaultMaxOutputTokens() int {
	if c == nil || c.Proxy.DefaultMaxOutputTokens == nil || *c.Proxy.DefaultMaxOutputTokens <= 0 {
		return DefaultMaxOutputTokens
	}
	return *c.Proxy.DefaultMaxOutputTokens
}

func (c *AppConfig) MaxContextPosts() int {
	if c == nil || c.Chat.MaxContextPosts == nil || *c.Chat.MaxContextPosts < 0 {
		return DefaultMaxContextPosts
	}
	return *c.Chat.MaxContextPosts
}

func (c *AppConfig) TokenTTL() time.Duration {
	if c == nil || c.Auth.TokenTTL == nil || *c.Auth.TokenTTL <= 0 {
		return DefaultTokenTTL
	}
	return *c.Auth.TokenTTL
}

func (c *AppConfig) SessionTTL() time.Duration {
	if c == nil || c.Auth.SessionTTL == nil || *c.Auth.SessionTTL <= 0 {
		return DefaultSessionTTL
	}
	return *c.Auth.SessionTTL
}

// IsAdmin reports whether email is listed in auth.admin_emails.
func (c *AppConfig) IsAdmin(email string) bool {
	if c == nil {
		return false
	}
	email = strings.ToLower(strings.TrimSpace(email))
	for _, a := range c.Auth.AdminEmails {
		if strings.ToLower(strings.TrimSpace(a)) == email && email != "" {
			return true
		}
	}
	return false
}

func ptr[T any](v T) *T { return &v }
