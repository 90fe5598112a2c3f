package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vibemirror/chronos/pkg/kv"
	"github.com/vibemirror/chronos/pkg/models"
	"github.com/vibemirror/chronos/pkg/utils"
	"golang.org/x/crypto/bcrypt"
)

const UsersKey = "chronos.users.db"

var (
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidUserInput   = errors.New("email, name and password are required")
)

// UserStore is the user directory, one JSON map of email to user.
type UserStore struct {
	kv     kv.Store
	cost   int
	logger *slog.Logger
	now    func() time.Time
	mu     sync.Mutex
}

func NewUserStore(store kv.Store) *UserStore {
	return &UserStore{
		kv:     store,
		cost:   bcrypt.DefaultCost,
		logger: utils.GetLogger(),
		now:    time.Now,
	}
}

// Register adds a user with a bcrypt hash of password.
func (s *UserStore) Register(ctx context.Context, email, name, password string) (models.User, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)
	if !strings.Contains(email, "@") || name == "" || password == "" {
		return models.User{}, ErrInvalidUserInput
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return models.User{}, ErrInvalidUserInput
		}
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.read(ctx)
	if err != nil {
		return models.User{}, err
	}
	if _, ok := users[email]; ok {
		return models.User{}, ErrUserExists
	}

	user := models.User{
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UnixMilli(),
	}
	users[email] = user
	if err := s.write(ctx, users); err != nil {
		return models.User{}, err
	}
	return user, nil
}

// Authenticate checks password against the stored hash.
func (s *UserStore) Authenticate(ctx context.Context, email, password string) (models.User, error) {
	user, err := s.Get(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return models.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return models.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return models.User{}, ErrInvalidCredentials
	}
	return user, nil
}

func (s *UserStore) Get(ctx context.Context, email string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.read(ctx)
	if err != nil {
		return models.User{}, err
	}
	user, ok := users[normalizeEmail(email)]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return user, nil
}

func (s *UserStore) read(ctx context.Context) (map[string]models.User, error) {
	blob, ok, err := s.kv.Get(ctx, UsersKey)
	if err != nil {
		return nil, fmt.Errorf("read users: %w", err)
	}
	users := make(map[string]models.User)
	if !ok {
		return users, nil
	}
	if err := json.Unmarshal(blob, &users); err != nil {
		s.logger.Warn("Stored user directory is unreadable, starting empty", "error", err)
		return make(map[string]models.User), nil
	}
	return users, nil
}

func (s *UserStore) write(ctx context.Context, users map[string]models.User) error {
	blob, err := json.Marshal(users)
	if err != nil {
		return fmt.Errorf("marshal users: %w", err)
	}
	if err := s.kv.Set(ctx, UsersKey, blob); err != nil {
		return fmt.Errorf("save users: %w", err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
