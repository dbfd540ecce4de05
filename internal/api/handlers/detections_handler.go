package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/pageguard/pageguard/internal/events"
	"github.com/pageguard/pageguard/internal/models"
)

type DetectionsHandler struct {
	db         *gorm.DB
	dispatcher *events.Dispatcher
}

func NewDetectionsHandler(db *gorm.DB, dispatcher *events.Dispatcher) *DetectionsHandler {
	return &DetectionsHandler{db: db, dispatcher: dispatcher}
}

// ListDetections returns recorded detection events, newest first. Supports
// limit/offset pagination and filtering by event type.
func (h *DetectionsHandler) ListDetections(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 500 {
		limit = 50
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	query := h.db.Model(&models.DetectionEvent{})
	if t := c.Query("type"); t != "" {
		query = query.Where("type = ?", t)
	}
	if d := c.Query("decision"); d != "" {
		query = query.Where("decision = ?", d)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count detections"})
		return
	}

	var rows []models.DetectionEvent
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch detections"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"detections": rows,
		"total":      total,
		"limit":      limit,
		"offset":     offset,
	})
}

// GetDetection returns a single detection event by UUID.
func (h *DetectionsHandler) GetDetection(c *gin.Context) {
	var row models.DetectionEvent
	if err := h.db.Where("uuid = ?", c.Param("uuid")).First(&row).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Detection not found"})
		return
	}
	c.JSON(http.StatusOK, row)
}

type FalsePositiveRequest struct {
	URL     string `json:"url" binding:"required"`
	RuleID  string `json:"rule_id"`
	Comment string `json:"comment"`
}

// ReportFalsePositive files a user report that a page was wrongly flagged.
// The report is recorded and forwarded to the configured reporting channels.
func (h *DetectionsHandler) ReportFalsePositive(c *gin.Context) {
	var req FalsePositiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.dispatcher.DispatchReport(req.URL, req.RuleID, req.Comment)
	c.JSON(http.StatusAccepted, gin.H{"message": "Report submitted"})
}
