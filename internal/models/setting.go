package models

import (
	"time"
)

// Setting stores a single local configuration override as a key/value pair.
// Only deltas against the built-in defaults are persisted; a key whose value
// returns to its default is removed so the stored override set stays minimal
// and auditable.
type Setting struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Key       string    `json:"key" gorm:"uniqueIndex"`
	Value     string    `json:"value" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
