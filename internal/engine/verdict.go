package engine

import (
	"sync"
	"time"

	"github.com/pageguard/pageguard/internal/rules"
)

// Decision is the engine's categorical outcome for a page.
type Decision string

const (
	DecisionTrusted         Decision = "trusted"
	DecisionTrustedExtra    Decision = "trusted-extra"
	DecisionMSLoginUnknown  Decision = "ms-login-unknown"
	DecisionNotEvaluated    Decision = "not-evaluated"
	DecisionSuspicious      Decision = "suspicious"
	DecisionPhishingBlocked Decision = "phishing-blocked"
)

// Verdict is the immutable result of one analysis. A later analysis of the
// same page context supersedes it; it is never mutated in place.
type Verdict struct {
	Decision            Decision        `json:"decision"`
	Score               int             `json:"score"`
	MatchedIndicatorIDs []string        `json:"matchedIndicatorIds,omitempty"`
	Confidence          float64         `json:"confidence,omitempty"`
	Reason              string          `json:"reason,omitempty"`
	Generation          uint64          `json:"generation"`
	RogueApp            *rules.RogueApp `json:"rogueApp,omitempty"`
	Timestamp           time.Time       `json:"timestamp"`
}

// VerdictStore keeps the latest verdict per tab context. A new navigation's
// verdict replaces the previous one; results arriving out of order are
// discarded by timestamp rather than cooperatively cancelled mid-computation.
type VerdictStore struct {
	mu      sync.RWMutex
	current map[string]Verdict
}

// NewVerdictStore returns an empty store.
func NewVerdictStore() *VerdictStore {
	return &VerdictStore{current: make(map[string]Verdict)}
}

// Put records a verdict for a tab. It reports whether the verdict was
// accepted; a verdict older than the one already held is stale and dropped.
func (s *VerdictStore) Put(tabID string, v Verdict) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if held, ok := s.current[tabID]; ok && held.Timestamp.After(v.Timestamp) {
		return false
	}
	s.current[tabID] = v
	return true
}

// Get returns the current verdict for a tab.
func (s *VerdictStore) Get(tabID string) (Verdict, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.current[tabID]
	return v, ok
}

// EvictTab drops the verdict held for a closed tab.
func (s *VerdictStore) EvictTab(tabID string) {
	s.mu.Lock()
	delete(s.current, tabID)
	s.mu.Unlock()
}
