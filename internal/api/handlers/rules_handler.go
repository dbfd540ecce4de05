package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pageguard/pageguard/internal/rules"
)

type RulesHandler struct {
	manager *rules.Manager
	rogue   *rules.RogueDetector
}

func NewRulesHandler(manager *rules.Manager, rogue *rules.RogueDetector) *RulesHandler {
	return &RulesHandler{manager: manager, rogue: rogue}
}

// GetStatus reports the lifecycle state, active generation and provenance of
// the rule store plus the rogue app feed size.
func (h *RulesHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"rules":      h.manager.Status(),
		"rogue_apps": h.rogue.Count(),
	})
}

// ForceUpdate triggers an immediate refresh, bypassing the schedule. A failed
// fetch leaves the active generation in place, so this always returns the
// post-attempt status.
func (h *RulesHandler) ForceUpdate(c *gin.Context) {
	if err := h.manager.ForceUpdate(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":  err.Error(),
			"status": h.manager.Status(),
		})
		return
	}
	c.JSON(http.StatusOK, h.manager.Status())
}

// Reload re-resolves configuration and applies source URL or interval
// changes. Used after settings updates and managed policy rollouts.
func (h *RulesHandler) Reload(c *gin.Context) {
	h.manager.ReloadConfiguration(c.Request.Context())
	c.JSON(http.StatusOK, h.manager.Status())
}
