package engine

import (
	"time"
)

// PageSnapshot is the transient, externally produced view of a page the
// engine scores against. It is never persisted; the injection layer captures
// it on demand and discards it after analysis.
type PageSnapshot struct {
	TabID         string            `json:"tabId,omitempty"`
	URL           string            `json:"url"`
	Referrer      string            `json:"referrer,omitempty"`
	Title         string            `json:"title,omitempty"`
	DOMExcerpt    string            `json:"domExcerpt,omitempty"`
	FormActions   []string          `json:"formActions,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	OAuthClientID string            `json:"oauthClientId,omitempty"`
	CapturedAt    time.Time         `json:"capturedAt,omitempty"`
}
