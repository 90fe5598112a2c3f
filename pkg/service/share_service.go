package service

import (
	"context"
	"errors"
	"strings"

	"github.com/vibemirror/chronos/pkg/models"
)

const defaultShareTitle = "Chronos insight"

// ErrNothingToShare is returned when a conversation has no successful model reply.
var ErrNothingToShare = errors.New("conversation has no model reply to share")

// ShareService publishes the last model reply of a conversation.
type ShareService struct {
	conversations *ConversationStore
	forum         *ForumStore
}

func NewShareService(conversations *ConversationStore, forum *ForumStore) *ShareService {
	return &ShareService{conversations: conversations, forum: forum}
}

// Share creates a forum post from the last model reply. An empty title
// falls back to the conversation title.
func (s *ShareService) Share(ctx context.Context, identity models.Identity, conversationID, title string) (models.ForumPost, error) {
	messages, err := s.conversations.Get(ctx, identity.UserID, conversationID)
	if err != nil {
		return models.ForumPost{}, err
	}

	var reply *models.Message
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role == models.RoleModel && !m.Error && strings.TrimSpace(m.Content) != "" {
			reply = &messages[i]
			break
		}
	}
	if reply == nil {
		return models.ForumPost{}, ErrNothingToShare
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = DeriveTitle(messages)
		if title == NewChatTitle {
			title = defaultShareTitle
		}
	}
	return s.forum.Create(ctx, title, reply.Content, identity)
}
