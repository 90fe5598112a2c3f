package models

import (
	"bytes"
	"encoding/json"
)

const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Message is one turn of a conversation. CreatedAt is epoch milliseconds.
// Error marks a model turn that carries a failure text instead of a reply.
type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"`
	Error     bool   `json:"error,omitempty"`
}

// ConversationMeta is a sidebar entry derived from the stored messages.
type ConversationMeta struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	UpdatedAt int64  `json:"updatedAt"`
}

// ConversationRecord is the persisted form of one conversation.
type ConversationRecord struct {
	CreatedAt int64     `json:"createdAt"`
	Messages  []Message `json:"messages"`
}

// UnmarshalJSON also accepts a bare message array, the shape written by
// older clients.
func (r *ConversationRecord) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var msgs []Message
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return err
		}
		r.CreatedAt = 0
		r.Messages = msgs
		return nil
	}

	type plain ConversationRecord
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return err
	}
	*r = ConversationRecord(p)
	return nil
}

// Sidebar is the conversation list returned to the front end.
type Sidebar struct {
	Conversations []ConversationMeta `json:"conversations"`
	// Created is set when the list was empty and a conversation was opened.
	Created string `json:"created,omitempty"`
}
