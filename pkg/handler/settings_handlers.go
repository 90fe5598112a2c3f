package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/vibemirror/chronos/pkg/models"
	"github.com/vibemirror/chronos/pkg/service"
	"github.com/vibemirror/chronos/pkg/utils"
)

// SettingsHandler exposes the global model settings.
type SettingsHandler struct {
	settings *service.SettingsStore
	logger   *slog.Logger
}

func NewSettingsHandler(settings *service.SettingsStore, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{settings: settings, logger: logger}
}

// RegisterRoutes registers settings routes
func (h *SettingsHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/settings", h.Get)
	r.PATCH("/settings", h.Update)
}

// settingsView masks the stored api key placeholder.
func settingsView(s models.Settings) models.Settings {
	if s.APIKey != "" {
		s.APIKey = utils.MaskSensitiveString(s.APIKey)
	}
	return s
}

func (h *SettingsHandler) Get(c *gin.Context) {
	s, err := h.settings.Load(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to load settings", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load settings"})
		return
	}
	c.JSON(http.StatusOK, settingsView(s))
}

func (h *SettingsHandler) Update(c *gin.Context) {
	if !identityFrom(c).IsAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only administrators can change settings"})
		return
	}

	var patch models.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}
	if msg := normalizePatch(&patch); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	s, err := h.settings.Update(c.Request.Context(), patch)
	if err != nil {
		h.logger.Error("Failed to update settings", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update settings"})
		return
	}
	c.JSON(http.StatusOK, settingsView(s))
}

// normalizePatch clamps numeric fields into the ranges the settings form
// offers and returns a message for values that cannot be clamped.
func normalizePatch(p *models.SettingsPatch) string {
	if p.Temperature != nil {
		t := min(max(*p.Temperature, models.MinTemperature), models.MaxTemperature)
		p.Temperature = &t
	}
	if p.MaxOutputTokens != nil {
		n := min(max(*p.MaxOutputTokens, models.MinMaxOutputTokens), models.MaxMaxOutputTokens)
		p.MaxOutputTokens = &n
	}
	if p.DefaultResponseLanguage != nil {
		lang := strings.ToLower(strings.TrimSpace(*p.DefaultResponseLanguage))
		if !models.IsSupportedLanguage(lang) {
			return "Unsupported response language: " + *p.DefaultResponseLanguage
		}
		p.DefaultResponseLanguage = &lang
	}
	if p.Model != nil && !models.IsSupportedModel(*p.Model) {
		return "Unsupported model: " + *p.Model
	}
	return ""
}
