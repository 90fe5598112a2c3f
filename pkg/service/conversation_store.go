package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/vibemirror/chronos/pkg/event"
	"github.com/vibemirror/chronos/pkg/kv"
	"github.com/vibemirror/chronos/pkg/models"
	"github.com/vibemirror/chronos/pkg/utils"
)

const (
	conversationKeyPrefix = "chronos.chats."
	NewChatTitle          = "New chat"
	titleMaxRunes         = 40
	ellipsis              = "…"
)

// ConversationStore keeps one map of conversation id to record per user.
type ConversationStore struct {
	kv      kv.Store
	emitter *event.Emitter
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
	mu      sync.Mutex
}

func NewConversationStore(store kv.Store, emitter *event.Emitter) *ConversationStore {
	if emitter == nil {
		emitter = event.Global()
	}
	return &ConversationStore{
		kv:      store,
		emitter: emitter,
		logger:  utils.GetLogger(),
		now:     time.Now,
		newID:   shortuuid.New,
	}
}

// List returns the sidebar entries of userID, most recently updated first.
func (s *ConversationStore) List(ctx context.Context, userID string) ([]models.ConversationMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now().UnixMilli()
	metas := make([]models.ConversationMeta, 0, len(records))
	for id, rec := range records {
		metas = append(metas, models.ConversationMeta{
			ID:        id,
			Title:     DeriveTitle(rec.Messages),
			UpdatedAt: updatedAt(rec, now),
		})
	}
	sort.Slice(metas, func(i, j int) bool {
		if metas[i].UpdatedAt != metas[j].UpdatedAt {
			return metas[i].UpdatedAt > metas[j].UpdatedAt
		}
		return metas[i].ID > metas[j].ID
	})
	return metas, nil
}

// Create opens an empty conversation and returns its id.
func (s *ConversationStore) Create(ctx context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read(ctx, userID)
	if err != nil {
		return "", err
	}

	id := s.newID()
	for {
		if _, taken := records[id]; !taken {
			break
		}
		id = s.newID()
	}
	records[id] = models.ConversationRecord{CreatedAt: s.now().UnixMilli(), Messages: []models.Message{}}
	if err := s.write(ctx, userID, records); err != nil {
		return "", err
	}

	s.emitter.Emit(event.ConversationUpdatedEvent{UserID: userID, ConversationID: id})
	return id, nil
}

// Get returns the messages of a conversation, or an empty slice when it
// does not exist.
func (s *ConversationStore) Get(ctx context.Context, userID, conversationID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read(ctx, userID)
	if err != nil {
		return nil, err
	}
	rec, ok := records[conversationID]
	if !ok || rec.Messages == nil {
		return []models.Message{}, nil
	}
	return rec.Messages, nil
}

// Save replaces the full message list of a conversation.
func (s *ConversationStore) Save(ctx context.Context, userID, conversationID string, messages []models.Message) error {
	if strings.TrimSpace(conversationID) == "" {
		return fmt.Errorf("conversation id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read(ctx, userID)
	if err != nil {
		return err
	}
	rec, ok := records[conversationID]
	if !ok {
		rec.CreatedAt = s.now().UnixMilli()
	}
	if messages == nil {
		messages = []models.Message{}
	}
	rec.Messages = append([]models.Message(nil), messages...)
	records[conversationID] = rec

	if err := s.write(ctx, userID, records); err != nil {
		return err
	}

	s.emitter.Emit(event.ConversationUpdatedEvent{UserID: userID, ConversationID: conversationID})
	return nil
}

// Delete removes a conversation. Deleting an absent id is not an error.
func (s *ConversationStore) Delete(ctx context.Context, userID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read(ctx, userID)
	if err != nil {
		return err
	}
	if _, ok := records[conversationID]; !ok {
		return nil
	}
	delete(records, conversationID)
	if err := s.write(ctx, userID, records); err != nil {
		return err
	}

	s.emitter.Emit(event.ConversationDeletedEvent{UserID: userID, ConversationID: conversationID})
	return nil
}

func (s *ConversationStore) read(ctx context.Context, userID string) (map[string]models.ConversationRecord, error) {
	blob, ok, err := s.kv.Get(ctx, conversationKey(userID))
	if err != nil {
		return nil, fmt.Errorf("read conversations: %w", err)
	}
	records := make(map[string]models.ConversationRecord)
	if !ok {
		return records, nil
	}
	if err := json.Unmarshal(blob, &records); err != nil {
		s.logger.Warn("Stored conversations are unreadable, starting empty", "user", userID, "error", err)
		return make(map[string]models.ConversationRecord), nil
	}
	return records, nil
}

func (s *ConversationStore) write(ctx context.Context, userID string, records map[string]models.ConversationRecord) error {
	blob, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal conversations: %w", err)
	}
	if err := s.kv.Set(ctx, conversationKey(userID), blob); err != nil {
		return fmt.Errorf("save conversations: %w", err)
	}
	return nil
}

func conversationKey(userID string) string {
	return conversationKeyPrefix + strings.ToLower(strings.TrimSpace(userID))
}

// updatedAt is the timestamp of the last message, or the creation time of
// an empty conversation. Records imported without a creation time use now.
func updatedAt(rec models.ConversationRecord, now int64) int64 {
	if n := len(rec.Messages); n > 0 {
		return rec.Messages[n-1].CreatedAt
	}
	if rec.CreatedAt > 0 {
		return rec.CreatedAt
	}
	return now
}

// DeriveTitle is the first user message with whitespace collapsed, cut to
// 40 characters with an ellipsis, or "New chat" when there is none.
func DeriveTitle(messages []models.Message) string {
	for _, m := range messages {
		if m.Role != models.RoleUser {
			continue
		}
		text := collapseWhitespace(m.Content)
		if text == "" {
			return NewChatTitle
		}
		r := []rune(text)
		if len(r) > titleMaxRunes {
			return string(r[:titleMaxRunes]) + ellipsis
		}
		return text
	}
	return NewChatTitle
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
