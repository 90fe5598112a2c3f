package models

import "time"

// ForumPost is a shared model reply. Posts are immutable once created.
type ForumPost struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	AuthorEmail string `json:"authorEmail"`
	AuthorName  string `json:"authorName,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
}

// ForumListing is the wire shape of the forum listing endpoint.
type ForumListing struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// Listing converts a stored post to its listing shape.
func (p ForumPost) Listing() ForumListing {
	name := p.AuthorName
	if name == "" {
		name = p.AuthorEmail
	}
	return ForumListing{
		ID:        p.ID,
		UserID:    p.AuthorEmail,
		Username:  name,
		Title:     p.Title,
		Content:   p.Content,
		Timestamp: time.UnixMilli(p.CreatedAt).UTC().Format(time.RFC3339),
	}
}
