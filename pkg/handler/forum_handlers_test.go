package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vibemirror/chronos/pkg/config"
	"github.com/vibemirror/chronos/pkg/models"
)

func TestForum_ListAndFilter(t *testing.T) {
	env := newTestEnv(t, envOptions{authMode: config.AuthModeSession})
	ctx := context.Background()

	_, err := env.forum.Create(ctx, "First", "one", models.Identity{UserID: "ada@example.com", Name: "Ada"})
	require.NoError(t, err)
	_, err = env.forum.Create(ctx, "Second", "two", models.Identity{UserID: "bob@example.com"})
	require.NoError(t, err)

	// listing is public
	w := env.do(http.MethodGet, "/api/forum", "")
	require.Equal(t, http.StatusOK, w.Code)
	all := decode[[]models.ForumListing](t, w)
	require.Len(t, all, 2)
	assert.Equal(t, "Second", all[0].Title, "newest first")
	assert.Equal(t, "bob@example.com", all[0].Username, "name falls back to the email")

	w = env.do(http.MethodGet, "/api/forum?userId=ada@example.com", "")
	require.Equal(t, http.StatusOK, w.Code)
	mine := decode[[]models.ForumListing](t, w)
	require.Len(t, mine, 1)
	assert.Equal(t, "First", mine[0].Title)
	assert.NotEmpty(t, mine[0].Timestamp)
}

func TestForum_EmptyListIsArray(t *testing.T) {
	env := newTestEnv(t, envOptions{authMode: config.AuthModeNone})

	w := env.do(http.MethodGet, "/api/forum", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestForum_Methods(t *testing.T) {
	env := newTestEnv(t, envOptions{authMode: config.AuthModeNone})

	w := env.do(http.MethodOptions, "/api/forum", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())

	w = env.do(http.MethodPost, "/api/forum", `{}`)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
