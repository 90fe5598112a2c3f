package service

import (
	"context"
	"encoding/json"
	"errors"
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

const ForumKey = "chronos.forum.posts"

var (
	ErrEmptyPostTitle   = errors.New("post title is required")
	ErrEmptyPostContent = errors.New("post content is required")
)

// ForumStore is the global list of shared posts, newest first.
type ForumStore struct {
	kv      kv.Store
	emitter *event.Emitter
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
	mu      sync.Mutex
}

func NewForumStore(store kv.Store, emitter *event.Emitter) *ForumStore {
	if emitter == nil {
		emitter = event.Global()
	}
	return &ForumStore{
		kv:      store,
		emitter: emitter,
		logger:  utils.GetLogger(),
		now:     time.Now,
		newID:   shortuuid.New,
	}
}

// List returns all posts ordered newest-first by creation time.
func (s *ForumStore) List(ctx context.Context) ([]models.ForumPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	posts, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].CreatedAt > posts[j].CreatedAt
	})
	return posts, nil
}

// ListByAuthor filters List on the author id.
func (s *ForumStore) ListByAuthor(ctx context.Context, authorID string) ([]models.ForumPost, error) {
	posts, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	authorID = strings.ToLower(strings.TrimSpace(authorID))
	out := make([]models.ForumPost, 0, len(posts))
	for _, p := range posts {
		if strings.ToLower(p.AuthorEmail) == authorID {
			out = append(out, p)
		}
	}
	return out, nil
}

// Create prepends a new post and persists the list.
func (s *ForumStore) Create(ctx context.Context, title, content string, author models.Identity) (models.ForumPost, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return models.ForumPost{}, ErrEmptyPostTitle
	}
	if strings.TrimSpace(content) == "" {
		return models.ForumPost{}, ErrEmptyPostContent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	posts, err := s.read(ctx)
	if err != nil {
		return models.ForumPost{}, err
	}

	post := models.ForumPost{
		ID:          s.newID(),
		Title:       title,
		Content:     content,
		AuthorEmail: author.UserID,
		AuthorName:  author.Name,
		CreatedAt:   s.now().UnixMilli(),
	}
	posts = append([]models.ForumPost{post}, posts...)

	blob, err := json.Marshal(posts)
	if err != nil {
		return models.ForumPost{}, fmt.Errorf("marshal forum posts: %w", err)
	}
	if err := s.kv.Set(ctx, ForumKey, blob); err != nil {
		return models.ForumPost{}, fmt.Errorf("save forum posts: %w", err)
	}

	s.emitter.Emit(event.ForumPostCreatedEvent{PostID: post.ID, UserID: post.AuthorEmail})
	return post, nil
}

func (s *ForumStore) read(ctx context.Context) ([]models.ForumPost, error) {
	blob, ok, err := s.kv.Get(ctx, ForumKey)
	if err != nil {
		return nil, fmt.Errorf("read forum posts: %w", err)
	}
	if !ok {
		return []models.ForumPost{}, nil
	}
	var posts []models.ForumPost
	if err := json.Unmarshal(blob, &posts); err != nil {
		s.logger.Warn("Stored forum posts are unreadable, starting empty", "error", err)
		return []models.ForumPost{}, nil
	}
	if posts == nil {
		posts = []models.ForumPost{}
	}
	return posts, nil
}
