package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/vibemirror/chronos/pkg/models"
	"github.com/vibemirror/chronos/pkg/service"
)

// ForumHandler serves the public forum listing.
type ForumHandler struct {
	forum  *service.ForumStore
	logger *slog.Logger
}

func NewForumHandler(forum *service.ForumStore, logger *slog.Logger) *ForumHandler {
	return &ForumHandler{forum: forum, logger: logger}
}

// RegisterRoutes registers forum routes
func (h *ForumHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.Any("/forum", h.List)
}

// List answers GET /forum?userId=, newest post first.
func (h *ForumHandler) List(c *gin.Context) {
	switch c.Request.Method {
	case http.MethodOptions:
		c.AbortWithStatus(http.StatusNoContent)
		return
	case http.MethodGet:
	default:
		c.Header("Allow", "GET, OPTIONS")
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method Not Allowed"})
		return
	}

	var (
		posts []models.ForumPost
		err   error
	)
	if userID := strings.TrimSpace(c.Query("userId")); userID != "" {
		posts, err = h.forum.ListByAuthor(c.Request.Context(), userID)
	} else {
		posts, err = h.forum.List(c.Request.Context())
	}
	if err != nil {
		h.logger.Error("Failed to list forum posts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch forum posts"})
		return
	}

	listings := make([]models.ForumListing, 0, len(posts))
	for _, p := range posts {
		listings = append(listings, p.Listing())
	}
	c.JSON(http.StatusOK, listings)
}
