package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vibemirror/chronos/pkg/kv"
	"github.com/vibemirror/chronos/pkg/models"
)

const sessionKeyPrefix = "chronos.sessions."

var ErrSessionNotFound = errors.New("session not found")

// SessionStore keeps login sessions, one key per session id.
type SessionStore struct {
	kv  kv.Store
	ttl time.Duration
	now func() time.Time
}

func NewSessionStore(store kv.Store, ttl time.Duration) *SessionStore {
	return &SessionStore{kv: store, ttl: ttl, now: time.Now}
}

func (s *SessionStore) Create(ctx context.Context, email string) (models.Session, error) {
	sess := models.Session{
		ID:        uuid.New().String(),
		Email:     normalizeEmail(email),
		ExpiresAt: s.now().Add(s.ttl).UnixMilli(),
	}
	blob, err := json.Marshal(sess)
	if err != nil {
		return models.Session{}, fmt.Errorf("marshal session: %w", err)
	}
	if err := s.kv.Set(ctx, sessionKeyPrefix+sess.ID, blob); err != nil {
		return models.Session{}, fmt.Errorf("save session: %w", err)
	}
	return sess, nil
}

// Get returns a live session. Expired and unreadable sessions are removed.
func (s *SessionStore) Get(ctx context.Context, id string) (models.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return models.Session{}, ErrSessionNotFound
	}
	blob, ok, err := s.kv.Get(ctx, sessionKeyPrefix+id)
	if err != nil {
		return models.Session{}, fmt.Errorf("read session: %w", err)
	}
	if !ok {
		return models.Session{}, ErrSessionNotFound
	}

	var sess models.Session
	if err := json.Unmarshal(blob, &sess); err != nil || sess.ExpiresAt <= s.now().UnixMilli() {
		_ = s.kv.Delete(ctx, sessionKeyPrefix+id)
		return models.Session{}, ErrSessionNotFound
	}
	return sess, nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if err := s.kv.Delete(ctx, sessionKeyPrefix+id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
