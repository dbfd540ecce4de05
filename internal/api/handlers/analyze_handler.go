package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pageguard/pageguard/internal/engine"
	"github.com/pageguard/pageguard/internal/events"
	"github.com/pageguard/pageguard/internal/rules"
)

type AnalyzeHandler struct {
	engine     *engine.Engine
	manager    *rules.Manager
	verdicts   *engine.VerdictStore
	dispatcher *events.Dispatcher
}

func NewAnalyzeHandler(eng *engine.Engine, manager *rules.Manager, verdicts *engine.VerdictStore, dispatcher *events.Dispatcher) *AnalyzeHandler {
	return &AnalyzeHandler{engine: eng, manager: manager, verdicts: verdicts, dispatcher: dispatcher}
}

type AnalyzeURLRequest struct {
	URL string `json:"url" binding:"required"`
}

// AnalyzeURL scores a bare URL against the active rule generation. No DOM
// surfaces are available, so only URL-category indicators can match.
func (h *AnalyzeHandler) AnalyzeURL(c *gin.Context) {
	var req AnalyzeURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	v := h.engine.AnalyzeURL(req.URL)
	c.JSON(http.StatusOK, v)
}

// AnalyzeSnapshot scores a full page snapshot. The verdict is stored per tab
// for later retrieval and noteworthy verdicts are dispatched to reporting
// channels asynchronously.
func (h *AnalyzeHandler) AnalyzeSnapshot(c *gin.Context) {
	var snap engine.PageSnapshot
	if err := c.ShouldBindJSON(&snap); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if snap.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	v := h.engine.AnalyzeSnapshot(snap)

	superseded := false
	if snap.TabID != "" {
		superseded = !h.verdicts.Put(snap.TabID, v)
	}

	if !superseded && events.Noteworthy(v) {
		h.dispatcher.Dispatch(v, snap, h.manager.GetActiveRules())
	}

	c.JSON(http.StatusOK, gin.H{
		"verdict":    v,
		"superseded": superseded,
	})
}

// GetVerdict returns the most recent verdict recorded for a tab.
func (h *AnalyzeHandler) GetVerdict(c *gin.Context) {
	tabID := c.Param("tabId")
	v, ok := h.verdicts.Get(tabID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no verdict for tab"})
		return
	}
	c.JSON(http.StatusOK, v)
}

// EvictTab drops the verdict and cached headers for a closed tab.
func (h *AnalyzeHandler) EvictTab(c *gin.Context) {
	tabID := c.Param("tabId")
	h.verdicts.EvictTab(tabID)
	h.engine.Headers.EvictTab(tabID)
	c.Status(http.StatusNoContent)
}

type HeadersRequest struct {
	TabID   string            `json:"tab_id" binding:"required"`
	Headers map[string]string `json:"headers" binding:"required"`
}

// PutHeaders stores response headers observed for a tab so a later snapshot
// analysis can match header-category indicators.
func (h *AnalyzeHandler) PutHeaders(c *gin.Context) {
	var req HeadersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.engine.Headers.Put(req.TabID, req.Headers)
	c.Status(http.StatusNoContent)
}
