package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pageguard/pageguard/internal/settings"
)

type SettingsHandler struct {
	resolver *settings.Resolver
	onChange []func()
}

func NewSettingsHandler(resolver *settings.Resolver) *SettingsHandler {
	return &SettingsHandler{resolver: resolver}
}

// OnChange registers a callback run after a successful settings update so
// dependent components (rule manager, engine) can re-resolve.
func (h *SettingsHandler) OnChange(fn func()) {
	h.onChange = append(h.onChange, fn)
}

// GetSettings returns the effective configuration with per-key provenance so
// the UI can show which tier each value came from and lock managed keys.
func (h *SettingsHandler) GetSettings(c *gin.Context) {
	cfg := h.resolver.Resolve()
	c.JSON(http.StatusOK, gin.H{
		"custom_rules_url":      cfg.CustomRulesURL,
		"update_interval":       cfg.UpdateInterval,
		"enable_page_blocking":  cfg.EnablePageBlocking,
		"enable_cipp_reporting": cfg.EnableCippReporting,
		"cipp_server_url":       cfg.CippServerURL,
		"cipp_tenant_id":        cfg.CippTenantID,
		"url_allowlist":         cfg.URLAllowlist,
		"extra_trusted_origins": cfg.ExtraTrustedOrigins,
		"branding":              cfg.Branding,
		"provenance":            cfg.Provenance,
		"resolved_at":           cfg.ResolvedAt,
	})
}

// UpdateSettings applies a partial update to the local layer. Keys controlled
// by managed policy are rejected rather than silently shadowed.
func (h *SettingsHandler) UpdateSettings(c *gin.Context) {
	var partial map[string]string
	if err := c.ShouldBindJSON(&partial); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(partial) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no settings provided"})
		return
	}

	cfg := h.resolver.Resolve()
	for key := range partial {
		if cfg.LockedByPolicy(key) {
			c.JSON(http.StatusForbidden, gin.H{"error": "setting is locked by managed policy", "key": key})
			return
		}
	}

	if err := h.resolver.UpdateConfig(partial); err != nil {
		if errors.Is(err, settings.ErrUnknownSettingKey) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save settings"})
		return
	}

	for _, fn := range h.onChange {
		fn()
	}

	c.JSON(http.StatusOK, h.resolver.Resolve().Provenance)
}
