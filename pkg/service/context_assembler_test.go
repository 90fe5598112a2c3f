package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vibemirror/chronos/pkg/models"
)

var ada = models.Identity{UserID: "ada@example.com", Name: "Ada"}

type failingSource struct{}

func (failingSource) ListByUser(context.Context, string) ([]models.ForumListing, error) {
	return nil, errors.New("forum unreachable")
}

func TestAssemble_DropsBlankAndSplitsPrompt(t *testing.T) {
	a := NewContextAssembler(10)
	msgs := []models.Message{
		{Role: models.RoleUser, Content: "first"},
		{Role: models.RoleModel, Content: "   "},
		{Role: models.RoleModel, Content: "reply"},
		{Role: models.RoleUser, Content: "second"},
	}

	got, err := a.Assemble(msgs, nil)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Prompt.Content)
	require.Len(t, got.History, 2)
	assert.Equal(t, "first", got.History[0].Content)
	assert.Equal(t, "reply", got.History[1].Content)
}

func TestAssemble_NothingToSend(t *testing.T) {
	_, err := NewContextAssembler(10).Assemble([]models.Message{{Role: models.RoleUser, Content: " \n\t"}}, nil)
	assert.ErrorIs(t, err, ErrNothingToSend)

	_, err = NewContextAssembler(10).Assemble(nil, &models.UserContext{UserID: "u"})
	assert.ErrorIs(t, err, ErrNothingToSend)
}

func TestAssemble_ContextFirstWithNoPosts(t *testing.T) {
	ctx := context.Background()
	s := newStores()
	uc, err := BuildUserContext(ctx, NewLocalForumSource(s.forum), ada, 10)
	require.NoError(t, err)

	got, err := NewContextAssembler(10).Assemble([]models.Message{{Role: models.RoleUser, Content: "hi"}}, uc)
	require.NoError(t, err)
	require.Len(t, got.History, 1)

	block := got.History[0]
	assert.Equal(t, models.RoleUser, block.Role)
	assert.Contains(t, block.Content, "ada@example.com")
	assert.Contains(t, block.Content, "Ada")
	assert.Contains(t, block.Content, "No forum posts.")
	assert.NotContains(t, block.Content, `- "`)
	assert.NotContains(t, block.Content, "\n")
	assert.NotContains(t, block.Content, "  ")
	assert.Equal(t, "hi", got.Prompt.Content)
}

func TestAssemble_SnippetsTruncatedAt150(t *testing.T) {
	ctx := context.Background()
	s := newStores()
	short := strings.Repeat("a", 10)
	long := strings.Repeat("b", 200)
	tiny := strings.Repeat("c", 5)
	for _, content := range []string{short, long, tiny} {
		_, err := s.forum.Create(ctx, "t", content, ada)
		require.NoError(t, err)
		s.clock.Advance(time.Millisecond)
	}

	uc, err := BuildUserContext(ctx, NewLocalForumSource(s.forum), ada, 10)
	require.NoError(t, err)
	require.Len(t, uc.Snippets, 3)

	block := NewContextAssembler(10).ContextBlock(*uc)
	assert.Contains(t, block, `- "`+short+`"`)
	assert.Contains(t, block, `- "`+tiny+`"`)
	assert.Contains(t, block, `- "`+strings.Repeat("b", 150)+`…"`)
	assert.NotContains(t, block, strings.Repeat("b", 151))
	assert.NotContains(t, block, "No forum posts.")
	assert.Equal(t, 1, strings.Count(block, "…"))
}

func TestBuildUserContext_OnlyOwnPostsAndCapped(t *testing.T) {
	ctx := context.Background()
	s := newStores()
	for i := 0; i < 4; i++ {
		_, err := s.forum.Create(ctx, "t", "mine", ada)
		require.NoError(t, err)
	}
	_, err := s.forum.Create(ctx, "t", "theirs", models.Identity{UserID: "bob@example.com"})
	require.NoError(t, err)

	uc, err := BuildUserContext(ctx, NewLocalForumSource(s.forum), ada, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"mine", "mine"}, uc.Snippets)
}

func TestBuildUserContext_SourceFailure(t *testing.T) {
	_, err := BuildUserContext(context.Background(), failingSource{}, ada, 10)
	assert.Error(t, err)
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "abc", Snippet("abc"))
	assert.Equal(t, strings.Repeat("ą", 150)+"…", Snippet(strings.Repeat("ą", 151)))
	assert.Equal(t, strings.Repeat("z", 150), Snippet(strings.Repeat("z", 150)))
}
