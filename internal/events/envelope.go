package events

import (
	"net/url"
	"time"

	"github.com/pageguard/pageguard/internal/engine"
	"github.com/pageguard/pageguard/internal/rules"
	"github.com/pageguard/pageguard/internal/version"
)

// EnvelopeVersion is the outbound event schema version.
const EnvelopeVersion = "1.0"

// Outbound event types.
const (
	TypeDetectionAlert      = "detection_alert"
	TypeFalsePositiveReport = "false_positive_report"
	TypePageBlocked         = "page_blocked"
	TypeRogueAppDetected    = "rogue_app_detected"
	TypeThreatDetected      = "threat_detected"
	TypeValidationEvent     = "validation_event"
)

// Context carries the page surroundings of a detection for audit purposes.
type Context struct {
	Referrer   string `json:"referrer,omitempty"`
	PageTitle  string `json:"pageTitle,omitempty"`
	Domain     string `json:"domain,omitempty"`
	RedirectTo string `json:"redirectTo,omitempty"`
}

// Data is the payload section of an outbound event.
type Data struct {
	URL             string  `json:"url"`
	Severity        string  `json:"severity,omitempty"`
	Score           int     `json:"score"`
	Threshold       int     `json:"threshold,omitempty"`
	Reason          string  `json:"reason,omitempty"`
	DetectionMethod string  `json:"detectionMethod,omitempty"`
	Rule            string  `json:"rule,omitempty"`
	Category        string  `json:"category,omitempty"`
	Confidence      float64 `json:"confidence,omitempty"`
	Context         Context `json:"context"`
}

// Envelope is the versioned outbound event shape delivered to webhooks.
// Credentials never appear anywhere in the payload.
type Envelope struct {
	Version          string    `json:"version"`
	Type             string    `json:"type"`
	Timestamp        time.Time `json:"timestamp"`
	Source           string    `json:"source"`
	ExtensionVersion string    `json:"extensionVersion"`
	Data             Data      `json:"data"`
}

// NewEnvelope builds an event envelope of the given type.
func NewEnvelope(eventType, source string, data Data) Envelope {
	if source == "" {
		source = version.Name
	}
	return Envelope{
		Version:          EnvelopeVersion,
		Type:             eventType,
		Timestamp:        time.Now().UTC(),
		Source:           source,
		ExtensionVersion: version.Version,
		Data:             data,
	}
}

// FromVerdict maps a verdict and its snapshot into an event envelope. The
// event type follows the decision: blocked pages produce page_blocked,
// flagged OAuth apps rogue_app_detected, everything else detection_alert.
func FromVerdict(v engine.Verdict, snap engine.PageSnapshot, store *rules.CompiledStore, source string) Envelope {
	eventType := TypeDetectionAlert
	switch {
	case v.RogueApp != nil:
		eventType = TypeRogueAppDetected
	case v.Decision == engine.DecisionPhishingBlocked:
		eventType = TypePageBlocked
	}

	data := Data{
		URL:             snap.URL,
		Score:           v.Score,
		Reason:          v.Reason,
		DetectionMethod: "rules",
		Confidence:      v.Confidence,
		Context: Context{
			Referrer:  snap.Referrer,
			PageTitle: snap.Title,
			Domain:    domainOf(snap.URL),
		},
	}
	if store != nil {
		data.Threshold = store.PhishingCutoff
	}
	if len(v.MatchedIndicatorIDs) > 0 {
		data.Rule = v.MatchedIndicatorIDs[0]
	}
	if v.RogueApp != nil {
		data.Rule = v.RogueApp.ClientID
		data.Severity = v.RogueApp.Severity
		data.Category = "rogue_app"
		data.Reason = v.RogueApp.Name
	} else {
		data.Severity = severityOf(v)
	}

	return NewEnvelope(eventType, source, data)
}

func severityOf(v engine.Verdict) string {
	switch v.Decision {
	case engine.DecisionPhishingBlocked:
		return rules.SeverityCritical
	case engine.DecisionSuspicious:
		return rules.SeverityMedium
	default:
		return rules.SeverityLow
	}
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
