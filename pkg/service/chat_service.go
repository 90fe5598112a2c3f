// Chat flow - ties the stores, the context assembler and the generation client together
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vibemirror/chronos/pkg/models"
	"github.com/vibemirror/chronos/pkg/utils"
)

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrSendInProgress = errors.New("a reply is already being generated")
)

var languageNames = map[string]string{
	"pl": "Polish",
	"en": "English",
}

// ChatResult is the conversation after a send.
type ChatResult struct {
	ConversationID string           `json:"conversationId"`
	Messages       []models.Message `json:"messages"`
	Reply          models.Message   `json:"reply"`
}

// ChatService runs one send at a time per user.
type ChatService struct {
	conversations *ConversationStore
	settings      *SettingsStore
	forum         ForumSource
	assembler     *ContextAssembler
	client        GenerationClient
	logger        *slog.Logger
	now           func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewChatService(conversations *ConversationStore, settings *SettingsStore, forum ForumSource, assembler *ContextAssembler, client GenerationClient) *ChatService {
	return &ChatService{
		conversations: conversations,
		settings:      settings,
		forum:         forum,
		assembler:     assembler,
		client:        client,
		logger:        utils.GetLogger(),
		now:           time.Now,
		inFlight:      make(map[string]struct{}),
	}
}

// Send appends text as a user message, asks the model and appends the reply.
// When generation fails an "Error: ..." model message is stored instead and
// the error is returned together with the updated conversation.
func (s *ChatService) Send(ctx context.Context, identity models.Identity, conversationID, text string) (*ChatResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	if !s.acquire(identity.UserID) {
		return nil, ErrSendInProgress
	}
	defer s.release(identity.UserID)

	messages, err := s.conversations.Get(ctx, identity.UserID, conversationID)
	if err != nil {
		return nil, err
	}
	messages = append(messages, models.Message{
		Role:      models.RoleUser,
		Content:   text,
		CreatedAt: s.now().UnixMilli(),
	})
	if err := s.conversations.Save(ctx, identity.UserID, conversationID, messages); err != nil {
		return nil, err
	}

	reply, genErr := s.generate(ctx, identity, messages)
	if genErr != nil {
		s.logger.Warn("Chat generation failed", "user", identity.UserID, "conversation", conversationID, "error", genErr)
		reply = "Error: " + errorText(genErr)
	}

	replyMsg := models.Message{
		Role:      models.RoleModel,
		Content:   reply,
		CreatedAt: s.now().UnixMilli(),
		Error:     genErr != nil,
	}
	messages = append(messages, replyMsg)
	// the user turn is already stored; keep the reply even if the caller went away
	if err := s.conversations.Save(context.WithoutCancel(ctx), identity.UserID, conversationID, messages); err != nil {
		return nil, err
	}

	result := &ChatResult{ConversationID: conversationID, Messages: messages, Reply: replyMsg}
	return result, genErr
}

func (s *ChatService) generate(ctx context.Context, identity models.Identity, messages []models.Message) (string, error) {
	settings, err := s.settings.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("load settings: %w", err)
	}

	var uc *models.UserContext
	if !identity.Anonymous {
		uc, err = BuildUserContext(ctx, s.forum, identity, s.assembler.MaxPosts)
		if err != nil {
			s.logger.Warn("User context unavailable, sending without it", "user", identity.UserID, "error", err)
			uc = nil
		}
	}

	assembled, err := s.assembler.Assemble(messages, uc)
	if err != nil {
		return "", err
	}

	history := make([]models.Content, 0, len(assembled.History))
	for _, m := range assembled.History {
		history = append(history, models.TextContent(m.Role, m.Content))
	}

	temperature := settings.Temperature
	maxTokens := settings.MaxOutputTokens
	system := models.TextContent(models.RoleUser, systemInstruction(settings))

	return s.client.Generate(ctx, identity, models.GenerateRequest{
		Prompt:  assembled.Prompt.Content,
		History: history,
		Model:   settings.Model,
		GenerationConfig: &models.GenerationConfig{
			Temperature:     &temperature,
			MaxOutputTokens: &maxTokens,
		},
		SystemInstruction: &system,
	})
}

func systemInstruction(settings models.Settings) string {
	persona := strings.TrimSpace(settings.Persona)
	lang, ok := languageNames[settings.DefaultResponseLanguage]
	if !ok {
		return persona
	}
	return fmt.Sprintf("%s\n\nUnless the user writes in another language, respond in %s.", persona, lang)
}

// Sidebar lists the user's conversations, opening one when there are none.
func (s *ChatService) Sidebar(ctx context.Context, userID string) (*models.Sidebar, error) {
	metas, err := s.conversations.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(metas) > 0 {
		return &models.Sidebar{Conversations: metas}, nil
	}

	id, err := s.conversations.Create(ctx, userID)
	if err != nil {
		return nil, err
	}
	metas, err = s.conversations.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &models.Sidebar{Conversations: metas, Created: id}, nil
}

// Delete removes conversationID and returns the id that should be active
// afterwards. When the deleted conversation was active the most recently
// updated remaining one is chosen, or a new empty one is opened.
func (s *ChatService) Delete(ctx context.Context, userID, conversationID, activeID string) (string, error) {
	if err := s.conversations.Delete(ctx, userID, conversationID); err != nil {
		return "", err
	}
	if activeID != "" && activeID != conversationID {
		return activeID, nil
	}

	metas, err := s.conversations.List(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(metas) > 0 {
		return metas[0].ID, nil
	}
	return s.conversations.Create(ctx, userID)
}

func (s *ChatService) acquire(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[userID]; busy {
		return false
	}
	s.inFlight[userID] = struct{}{}
	return true
}

func (s *ChatService) release(userID string) {
	s.mu.Lock()
	delete(s.inFlight, userID)
	s.mu.Unlock()
}

func errorText(err error) string {
	var perr *ProxyError
	if errors.As(err, &perr) {
		return perr.Message
	}
	if errors.Is(err, ErrNothingToSend) {
		return "Nothing to send"
	}
	return "Unexpected error"
}
