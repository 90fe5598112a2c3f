package event

const (
	ForumPostCreated    = "forum.postCreated"
	ConversationUpdated = "conversation.updated"
	ConversationDeleted = "conversation.deleted"
	SettingsChanged     = "settings.changed"
)

// ForumPostCreatedEvent is emitted when a reply is shared to the forum.
type ForumPostCreatedEvent struct {
	PostID string `json:"postId"`
	UserID string `json:"userId"`
}

func (e ForumPostCreatedEvent) EventName() string { return ForumPostCreated }

// ConversationUpdatedEvent is emitted when messages of a conversation change.
// It is delivered only to sockets of the same user.
type ConversationUpdatedEvent struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
}

func (e ConversationUpdatedEvent) EventName() string { return ConversationUpdated }

func (e ConversationUpdatedEvent) Owner() string { return e.UserID }

// ConversationDeletedEvent is emitted when a conversation is removed.
type ConversationDeletedEvent struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
}

func (e ConversationDeletedEvent) EventName() string { return ConversationDeleted }

func (e ConversationDeletedEvent) Owner() string { return e.UserID }

// SettingsChangedEvent is emitted after the settings record is written.
type SettingsChangedEvent struct{}

func (e SettingsChangedEvent) EventName() string { return SettingsChanged }

// Owned is implemented by events that belong to a single user.
type Owned interface {
	Owner() string
}
