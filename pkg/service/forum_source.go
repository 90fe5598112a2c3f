package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vibemirror/chronos/pkg/models"
)

// ForumSource lists the forum posts of one user for the context block.
type ForumSource interface {
	ListByUser(ctx context.Context, userID string) ([]models.ForumListing, error)
}

// LocalForumSource reads the in-process forum store.
type LocalForumSource struct {
	store *ForumStore
}

func NewLocalForumSource(store *ForumStore) *LocalForumSource {
	return &LocalForumSource{store: store}
}

func (s *LocalForumSource) ListByUser(ctx context.Context, userID string) ([]models.ForumListing, error) {
	posts, err := s.store.ListByAuthor(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]models.ForumListing, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.Listing())
	}
	return out, nil
}

// HTTPForumSource calls a remote forum listing endpoint with ?userId=.
type HTTPForumSource struct {
	endpoint string
	client   *http.Client
}

func NewHTTPForumSource(endpoint string, client *http.Client) *HTTPForumSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPForumSource{endpoint: strings.TrimSpace(endpoint), client: client}
}

func (s *HTTPForumSource) ListByUser(ctx context.Context, userID string) ([]models.ForumListing, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse forum endpoint: %w", err)
	}
	q := u.Query()
	q.Set("userId", userID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build forum request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch forum posts: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("fetch forum posts: status %d", resp.StatusCode)
	}

	var posts []models.ForumListing
	if err := json.NewDecoder(resp.Body).Decode(&posts); err != nil {
		return nil, fmt.Errorf("decode forum posts: %w", err)
	}

	// The remote may ignore the filter.
	out := posts[:0]
	for _, p := range posts {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}
