package rules

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	ErrInvalidStore       = errors.New("rule store failed validation")
	ErrDuplicateIndicator = errors.New("duplicate indicator id")
	ErrBadThresholds      = errors.New("thresholds not strictly ordered")
)

// Severity buckets for indicators. Each maps to a fixed point value added to
// the threat score when the indicator matches.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Indicator actions.
const (
	ActionBlock   = "block"
	ActionWarn    = "warn"
	ActionMonitor = "monitor"
)

// severityPoints maps a severity bucket to its threat point value.
var severityPoints = map[string]int{
	SeverityCritical: 25,
	SeverityHigh:     15,
	SeverityMedium:   10,
	SeverityLow:      5,
}

// Points returns the threat point value for a severity bucket.
func Points(severity string) int {
	return severityPoints[severity]
}

// Indicator is a single weighted, pattern-based detection rule.
type Indicator struct {
	ID              string   `json:"id" validate:"required"`
	Pattern         string   `json:"pattern" validate:"required"`
	Flags           string   `json:"flags,omitempty"`
	Severity        string   `json:"severity" validate:"required,oneof=critical high medium low"`
	Description     string   `json:"description,omitempty"`
	Action          string   `json:"action" validate:"required,oneof=block warn monitor"`
	Category        string   `json:"category,omitempty"`
	Confidence      float64  `json:"confidence" validate:"gte=0,lte=1"`
	ContextRequired []string `json:"context_required,omitempty"`
}

// Element detection-requirement types.
const (
	ElementSourceContent = "source_content"
	ElementCSSPattern    = "css_pattern"
	ElementURLPattern    = "url_pattern"
	ElementTextContent   = "text_content"
)

// Element is a single page-detection requirement. Matched element weights are
// summed to decide whether a page is login-page-shaped at all.
type Element struct {
	ID       string   `json:"id" validate:"required"`
	Type     string   `json:"type" validate:"required,oneof=source_content css_pattern url_pattern text_content"`
	Pattern  string   `json:"pattern,omitempty"`
	Patterns []string `json:"patterns,omitempty"`
	Weight   int      `json:"weight" validate:"gte=0"`
	Category string   `json:"category" validate:"required,oneof=primary secondary"`
}

// DetectionRequirements groups primary and secondary page elements. A page
// must accumulate at least MinimumWeight in matched element weight before deep
// phishing scoring runs.
type DetectionRequirements struct {
	PrimaryElements   []Element `json:"primary_elements" validate:"dive"`
	SecondaryElements []Element `json:"secondary_elements" validate:"dive"`
	MinimumWeight     int       `json:"minimum_weight,omitempty" validate:"gte=0"`
}

// Blocking rule target surfaces.
const (
	BlockingURLPattern     = "url_pattern"
	BlockingContentPattern = "content_pattern"
	BlockingFormAction     = "form_action"
)

// BlockingRule forces an immediate phishing-blocked verdict when satisfied,
// regardless of the cumulative score.
type BlockingRule struct {
	ID          string `json:"id" validate:"required"`
	Type        string `json:"type" validate:"required,oneof=url_pattern content_pattern form_action"`
	Pattern     string `json:"pattern" validate:"required"`
	Flags       string `json:"flags,omitempty"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// RogueAppsDetection describes the sibling feed of known-malicious OAuth
// applications. Durations are in hours.
type RogueAppsDetection struct {
	Enabled         bool   `json:"enabled"`
	SourceURL       string `json:"source_url,omitempty" validate:"omitempty,url"`
	CacheDuration   int    `json:"cache_duration,omitempty" validate:"gte=0"`
	UpdateInterval  int    `json:"update_interval,omitempty" validate:"gte=0"`
	DetectionAction string `json:"detection_action,omitempty"`
	Severity        string `json:"severity,omitempty"`
	AutoUpdate      bool   `json:"auto_update"`
}

// Thresholds carries the score cutoffs from the rule file. Rule files in the
// wild use two polarities: descending trust floors (legitimate > suspicious >
// phishing) and ascending threat cutoffs (phishing > suspicious). Compile
// normalizes either into ascending threat cutoffs.
type Thresholds struct {
	Legitimate int `json:"legitimate"`
	Suspicious int `json:"suspicious"`
	Phishing   int `json:"phishing"`
}

// RuleStore is the full versioned rule set consumed by the scoring engine.
type RuleStore struct {
	Version                string                `json:"version" validate:"required"`
	TrustedLoginPatterns   []string              `json:"trusted_login_patterns" validate:"required,min=1"`
	ExclusionSystem        ExclusionSystem       `json:"exclusion_system"`
	PhishingIndicators     []Indicator           `json:"phishing_indicators" validate:"required,min=1,dive"`
	DetectionRequirements  DetectionRequirements `json:"m365_detection_requirements"`
	BlockingRules          []BlockingRule        `json:"blocking_rules,omitempty" validate:"dive"`
	RogueAppsDetection     RogueAppsDetection    `json:"rogue_apps_detection"`
	Thresholds             Thresholds            `json:"thresholds" validate:"required"`
}

// ExclusionSystem lists domain patterns that must never be scanned.
type ExclusionSystem struct {
	DomainPatterns []string `json:"domain_patterns,omitempty"`
}

// RogueApp is a single known-malicious OAuth application record.
type RogueApp struct {
	ClientID    string   `json:"client_id" validate:"required"`
	Name        string   `json:"name,omitempty"`
	Publisher   string   `json:"publisher,omitempty"`
	Severity    string   `json:"severity,omitempty"`
	Description string   `json:"description,omitempty"`
	References  []string `json:"references,omitempty"`
}

// RogueAppFeed is the payload shape of the rogue-application feed.
type RogueAppFeed struct {
	Version   string     `json:"version"`
	UpdatedAt time.Time  `json:"updated_at,omitempty"`
	Apps      []RogueApp `json:"rogue_apps" validate:"dive"`
}

var validate = validator.New()

// Validate structurally checks a rule store decoded from an untrusted source.
// Pattern compilation is intentionally not part of validation: a single bad
// regex drops only that rule (see Compile), while a malformed overall shape
// rejects the whole payload.
func Validate(store *RuleStore) error {
	if err := validate.Struct(store); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidStore, err)
	}

	seen := make(map[string]struct{}, len(store.PhishingIndicators))
	for _, ind := range store.PhishingIndicators {
		if _, dup := seen[ind.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateIndicator, ind.ID)
		}
		seen[ind.ID] = struct{}{}
	}

	t := store.Thresholds
	descendingTrust := t.Legitimate > t.Suspicious && t.Suspicious > t.Phishing
	ascendingThreat := t.Phishing > t.Suspicious && t.Suspicious > t.Legitimate
	if !descendingTrust && !ascendingThreat {
		return fmt.Errorf("%w: legitimate=%d suspicious=%d phishing=%d",
			ErrBadThresholds, t.Legitimate, t.Suspicious, t.Phishing)
	}

	return nil
}
