package models

import (
	"time"
)

// DetectionEvent stores the outcome of a page analysis that warranted
// attention (warn, block, rogue app) so it can be audited and surfaced
// in the UI. The page snapshot itself is never persisted.
type DetectionEvent struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UUID      string    `json:"uuid" gorm:"uniqueIndex"`
	Type      string    `json:"type"` // e.g., detection_alert, page_blocked, rogue_app_detected
	URL       string    `json:"url" gorm:"type:text"`
	Decision  string    `json:"decision"`
	Score     int       `json:"score"`
	Severity  string    `json:"severity"`
	RuleID    string    `json:"rule_id"`
	Category  string    `json:"category"`
	Details   string    `json:"details" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
}
