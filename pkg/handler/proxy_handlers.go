package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vibemirror/chronos/pkg/models"
	"github.com/vibemirror/chronos/pkg/service"
)

const maxGenerateBody = 1 << 20

// ProxyHandler exposes the generation proxy endpoint.
type ProxyHandler struct {
	proxy  *service.GenerationProxy
	auth   Authenticator
	logger *slog.Logger
}

func NewProxyHandler(proxy *service.GenerationProxy, auth Authenticator, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{proxy: proxy, auth: auth, logger: logger}
}

// RegisterRoutes registers the proxy route. Every method is routed here so
// that the checks run in a fixed order: preflight, method, auth, body.
func (h *ProxyHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.Any("/gemini", h.Generate)
}

func (h *ProxyHandler) Generate(c *gin.Context) {
	switch c.Request.Method {
	case http.MethodOptions:
		c.AbortWithStatus(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		c.Header("Allow", "POST, OPTIONS")
		writeProxyError(c, h.logger, service.NewProxyError(service.KindMethod, http.StatusMethodNotAllowed, "Method Not Allowed"))
		return
	}

	identity, err := h.auth.Authenticate(c.Request)
	if err != nil {
		writeProxyError(c, h.logger, service.NewProxyError(service.KindAuth, http.StatusUnauthorized, unauthorizedMessage))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxGenerateBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeProxyError(c, h.logger, service.NewProxyError(service.KindValidation, http.StatusRequestEntityTooLarge, "Request body too large"))
			return
		}
		writeProxyError(c, h.logger, service.NewProxyError(service.KindValidation, http.StatusBadRequest, "Invalid JSON"))
		return
	}
	var req models.GenerateRequest
	if len(bytes.TrimSpace(body)) == 0 || json.Unmarshal(body, &req) != nil {
		writeProxyError(c, h.logger, service.NewProxyError(service.KindValidation, http.StatusBadRequest, "Invalid JSON"))
		return
	}

	ctx := service.WithClientAddr(c.Request.Context(), c.ClientIP())
	res, err := h.proxy.Generate(ctx, identity, req)
	if err != nil {
		writeProxyError(c, h.logger, err)
		return
	}
	if req.Rich && res.Raw != nil {
		c.JSON(http.StatusOK, res.Raw)
		return
	}
	c.JSON(http.StatusOK, gin.H{"text": res.Text})
}

func writeProxyError(c *gin.Context, logger *slog.Logger, err error) {
	var perr *service.ProxyError
	if errors.As(err, &perr) {
		if perr.Status >= http.StatusInternalServerError {
			logger.Warn("Generation request failed", "kind", perr.Kind, "status", perr.Status, "error", perr.Message)
		}
		c.JSON(perr.Status, perr.Body())
		return
	}
	logger.Error("Generation request failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Proxy error"})
}
