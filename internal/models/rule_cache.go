package models

import (
	"time"
)

// RuleCache persists the last rule payload fetched from a source URL so the
// lifecycle manager can serve rules immediately on startup and fall back to
// the cached copy when the remote source is unreachable.
type RuleCache struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	SourceURL string    `json:"source_url" gorm:"uniqueIndex"`
	Version   string    `json:"version"`
	Content   string    `json:"content" gorm:"type:text"`
	FetchedAt time.Time `json:"fetched_at"`
}
