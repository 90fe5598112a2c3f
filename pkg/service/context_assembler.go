package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vibemirror/chronos/pkg/models"
)

const (
	// SnippetLength is the number of characters kept from each forum post.
	SnippetLength = 150
	noPostsMarker = "No forum posts."
)

// ErrNothingToSend is returned when every message is blank.
var ErrNothingToSend = errors.New("nothing to send")

// AssembledPrompt is the outgoing request split into history and prompt.
type AssembledPrompt struct {
	History []models.Message
	Prompt  models.Message
}

// ContextAssembler builds the message sequence sent to the model.
type ContextAssembler struct {
	// MaxPosts caps the number of snippets in the context block.
	MaxPosts int
}

func NewContextAssembler(maxPosts int) *ContextAssembler {
	return &ContextAssembler{MaxPosts: maxPosts}
}

// Assemble drops blank messages, puts the user context block first when uc
// is set and splits off the last message as the prompt.
func (a *ContextAssembler) Assemble(messages []models.Message, uc *models.UserContext) (AssembledPrompt, error) {
	filtered := make([]models.Message, 0, len(messages)+1)
	for _, m := range messages {
		if strings.TrimSpace(m.Content) != "" {
			filtered = append(filtered, m)
		}
	}
	if len(filtered) == 0 {
		return AssembledPrompt{}, ErrNothingToSend
	}

	if uc != nil {
		block := models.Message{
			Role:      models.RoleUser,
			Content:   a.ContextBlock(*uc),
			CreatedAt: filtered[0].CreatedAt,
		}
		filtered = append([]models.Message{block}, filtered...)
	}

	last := len(filtered) - 1
	return AssembledPrompt{
		History: filtered[:last],
		Prompt:  filtered[last],
	}, nil
}

// ContextBlock renders uc as a single line of text.
func (a *ContextAssembler) ContextBlock(uc models.UserContext) string {
	var b strings.Builder
	b.WriteString("Context about the user you are talking to.\n")
	fmt.Fprintf(&b, "User ID: %s\n", uc.UserID)
	fmt.Fprintf(&b, "Display name: %s\n", uc.DisplayName)
	b.WriteString("Their recent forum posts:\n")

	snippets := uc.Snippets
	if a.MaxPosts > 0 && len(snippets) > a.MaxPosts {
		snippets = snippets[:a.MaxPosts]
	}
	if len(snippets) == 0 {
		b.WriteString(noPostsMarker)
	} else {
		lines := make([]string, 0, len(snippets))
		for _, s := range snippets {
			lines = append(lines, `- "`+s+`"`)
		}
		b.WriteString(strings.Join(lines, "\n"))
	}
	return collapseWhitespace(b.String())
}

// Snippet cuts content to SnippetLength characters, marking a cut with an
// ellipsis.
func Snippet(content string) string {
	r := []rune(content)
	if len(r) <= SnippetLength {
		return content
	}
	return string(r[:SnippetLength]) + ellipsis
}

// BuildUserContext gathers up to maxPosts snippets of the user's forum posts.
func BuildUserContext(ctx context.Context, source ForumSource, id models.Identity, maxPosts int) (*models.UserContext, error) {
	uc := &models.UserContext{
		UserID:      id.UserID,
		DisplayName: id.Name,
		Snippets:    []string{},
	}
	if source == nil {
		return uc, nil
	}

	posts, err := source.ListByUser(ctx, id.UserID)
	if err != nil {
		return nil, fmt.Errorf("list forum posts: %w", err)
	}
	for _, p := range posts {
		if maxPosts > 0 && len(uc.Snippets) >= maxPosts {
			break
		}
		uc.Snippets = append(uc.Snippets, Snippet(p.Content))
	}
	return uc, nil
}
