package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vibemirror/chronos/pkg/models"
	"github.com/vibemirror/chronos/pkg/service"
)

// ConversationHandler serves the per-user conversation API and the chat flow.
// All routes expect RequireIdentity to have run.
type ConversationHandler struct {
	conversations *service.ConversationStore
	chat          *service.ChatService
	share         *service.ShareService
	logger        *slog.Logger
}

func NewConversationHandler(conversations *service.ConversationStore, chat *service.ChatService, share *service.ShareService, logger *slog.Logger) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		chat:          chat,
		share:         share,
		logger:        logger,
	}
}

// RegisterRoutes registers conversation and chat routes
func (h *ConversationHandler) RegisterRoutes(r *gin.RouterGroup) {
	conversations := r.Group("/conversations")
	{
		conversations.GET("", h.List)
		conversations.POST("", h.Create)
		conversations.GET("/:id/messages", h.Messages)
		conversations.PUT("/:id/messages", h.SaveMessages)
		conversations.DELETE("/:id", h.Delete)
		conversations.POST("/:id/share", h.Share)
	}
	r.POST("/chat/:id/send", h.Send)
}

// List returns the sidebar, opening a conversation if the user has none.
func (h *ConversationHandler) List(c *gin.Context) {
	id := identityFrom(c)
	sidebar, err := h.chat.Sidebar(c.Request.Context(), id.UserID)
	if err != nil {
		h.logger.Error("Failed to list conversations", "user", id.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list conversations"})
		return
	}
	c.JSON(http.StatusOK, sidebar)
}

func (h *ConversationHandler) Create(c *gin.Context) {
	id := identityFrom(c)
	convID, err := h.conversations.Create(c.Request.Context(), id.UserID)
	if err != nil {
		h.logger.Error("Failed to create conversation", "user", id.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create conversation"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": convID})
}

func (h *ConversationHandler) Messages(c *gin.Context) {
	id := identityFrom(c)
	msgs, err := h.conversations.Get(c.Request.Context(), id.UserID, c.Param("id"))
	if err != nil {
		h.logger.Error("Failed to load conversation", "user", id.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load conversation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "messages": msgs})
}

type saveMessagesRequest struct {
	Messages []models.Message `json:"messages"`
}

// SaveMessages replaces the message list of a conversation.
func (h *ConversationHandler) SaveMessages(c *gin.Context) {
	var req saveMessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}
	for _, m := range req.Messages {
		if m.Role != models.RoleUser && m.Role != models.RoleModel {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid message role: " + m.Role})
			return
		}
	}

	id := identityFrom(c)
	if err := h.conversations.Save(c.Request.Context(), id.UserID, c.Param("id"), req.Messages); err != nil {
		h.logger.Error("Failed to save conversation", "user", id.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save conversation"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Delete removes a conversation and answers with the id to show next.
func (h *ConversationHandler) Delete(c *gin.Context) {
	id := identityFrom(c)
	next, err := h.chat.Delete(c.Request.Context(), id.UserID, c.Param("id"), c.Query("active"))
	if err != nil {
		h.logger.Error("Failed to delete conversation", "user", id.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete conversation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": next})
}

type sendRequest struct {
	Text string `json:"text"`
}

// Send appends a user message and the model reply.
func (h *ConversationHandler) Send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	id := identityFrom(c)
	ctx := service.WithClientAddr(c.Request.Context(), c.ClientIP())
	res, err := h.chat.Send(ctx, id, c.Param("id"), req.Text)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, res)
		return
	case errors.Is(err, service.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message is empty"})
		return
	case errors.Is(err, service.ErrSendInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "A reply is already being generated"})
		return
	case res == nil:
		h.logger.Error("Failed to send message", "user", id.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send message"})
		return
	}

	// generation failed but the conversation was updated with an error reply
	status := http.StatusBadGateway
	var perr *service.ProxyError
	if errors.As(err, &perr) {
		status = perr.Status
	}
	c.JSON(status, gin.H{
		"error":          res.Reply.Content,
		"conversationId": res.ConversationID,
		"messages":       res.Messages,
		"reply":          res.Reply,
	})
}

type shareRequest struct {
	Title string `json:"title"`
}

// Share publishes the last model reply of a conversation to the forum.
func (h *ConversationHandler) Share(c *gin.Context) {
	var req shareRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
			return
		}
	}

	id := identityFrom(c)
	post, err := h.share.Share(c.Request.Context(), id, c.Param("id"), req.Title)
	switch {
	case errors.Is(err, service.ErrNothingToShare):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Nothing to share yet"})
	case errors.Is(err, service.ErrEmptyPostTitle), errors.Is(err, service.ErrEmptyPostContent):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		h.logger.Error("Failed to share conversation", "user", id.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to share conversation"})
	default:
		c.JSON(http.StatusCreated, post.Listing())
	}
}
