package rules

import (
	"regexp"
	"strings"
	"time"

	"github.com/pageguard/pageguard/internal/logger"
)

// Rule set provenance, recorded on every compiled generation.
const (
	SourceRemote   = "remote"
	SourceCache    = "cache"
	SourceBaseline = "baseline"
	SourceMinimal  = "minimal"
)

// defaultMinimumWeight is the login-page-shape floor applied when a rule file
// does not set one.
const defaultMinimumWeight = 2

// CompiledIndicator pairs an indicator with its compiled matchers.
type CompiledIndicator struct {
	Indicator
	Regex   *regexp.Regexp
	Context []*regexp.Regexp
}

// CompiledElement pairs a detection-requirement element with its matchers.
type CompiledElement struct {
	Element
	Patterns []*regexp.Regexp
}

// CompiledBlockingRule pairs a blocking rule with its matcher.
type CompiledBlockingRule struct {
	BlockingRule
	Regex *regexp.Regexp
}

// CompiledStore is one immutable, ready-to-evaluate rule generation. The
// lifecycle manager swaps the active pointer atomically; analyses only ever
// borrow a snapshot and never mutate it.
type CompiledStore struct {
	Store      RuleStore
	Generation uint64
	Source     string
	FetchedAt  time.Time

	Trusted    []*regexp.Regexp
	Exclusions []*regexp.Regexp
	Indicators []CompiledIndicator
	Primary    []CompiledElement
	Secondary  []CompiledElement
	Blocking   []CompiledBlockingRule

	MinimumWeight    int
	SuspiciousCutoff int
	PhishingCutoff   int

	// DroppedRules counts rules discarded for non-compiling patterns.
	DroppedRules int
}

// Compile turns a validated rule store into an evaluable generation. Remote
// rule strings are untrusted: every pattern is compiled exactly once here, and
// a pattern that fails to compile drops only its own rule, never the store.
func Compile(store RuleStore) *CompiledStore {
	cs := &CompiledStore{
		Store:         store,
		FetchedAt:     time.Now(),
		MinimumWeight: store.DetectionRequirements.MinimumWeight,
	}
	if cs.MinimumWeight <= 0 {
		cs.MinimumWeight = defaultMinimumWeight
	}
	cs.SuspiciousCutoff, cs.PhishingCutoff = threatCutoffs(store.Thresholds)

	for _, p := range store.TrustedLoginPatterns {
		if re, err := compilePattern(p, "i"); err == nil {
			cs.Trusted = append(cs.Trusted, re)
		} else {
			cs.dropped("trusted_login_pattern", p, err)
		}
	}

	for _, p := range store.ExclusionSystem.DomainPatterns {
		if re, err := compilePattern(p, "i"); err == nil {
			cs.Exclusions = append(cs.Exclusions, re)
		} else {
			cs.dropped("exclusion_pattern", p, err)
		}
	}

	for _, ind := range store.PhishingIndicators {
		re, err := compilePattern(ind.Pattern, ind.Flags)
		if err != nil {
			cs.dropped("indicator", ind.ID, err)
			continue
		}
		compiled := CompiledIndicator{Indicator: ind, Regex: re}
		ok := true
		for _, ctx := range ind.ContextRequired {
			cre, err := compilePattern(ctx, ind.Flags)
			if err != nil {
				cs.dropped("indicator_context", ind.ID, err)
				ok = false
				break
			}
			compiled.Context = append(compiled.Context, cre)
		}
		if ok {
			cs.Indicators = append(cs.Indicators, compiled)
		}
	}

	cs.Primary = compileElements(cs, store.DetectionRequirements.PrimaryElements)
	cs.Secondary = compileElements(cs, store.DetectionRequirements.SecondaryElements)

	for _, rule := range store.BlockingRules {
		if !rule.Enabled {
			continue
		}
		re, err := compilePattern(rule.Pattern, rule.Flags)
		if err != nil {
			cs.dropped("blocking_rule", rule.ID, err)
			continue
		}
		cs.Blocking = append(cs.Blocking, CompiledBlockingRule{BlockingRule: rule, Regex: re})
	}

	return cs
}

func compileElements(cs *CompiledStore, elements []Element) []CompiledElement {
	var out []CompiledElement
	for _, el := range elements {
		patterns := el.Patterns
		if el.Pattern != "" {
			patterns = append([]string{el.Pattern}, patterns...)
		}
		compiled := CompiledElement{Element: el}
		for _, p := range patterns {
			re, err := compilePattern(p, "i")
			if err != nil {
				cs.dropped("detection_element", el.ID, err)
				continue
			}
			compiled.Patterns = append(compiled.Patterns, re)
		}
		if len(compiled.Patterns) > 0 {
			out = append(out, compiled)
		}
	}
	return out
}

func (cs *CompiledStore) dropped(kind, id string, err error) {
	cs.DroppedRules++
	logger.WithFields(map[string]interface{}{
		"kind": kind,
		"rule": id,
	}).WithError(err).Warn("dropped rule with non-compiling pattern")
}

// compilePattern compiles a rule-supplied regex, translating JavaScript-style
// flag letters into Go inline flags. Go's regexp is RE2, so untrusted remote
// patterns cannot trigger catastrophic backtracking.
func compilePattern(pattern, flags string) (*regexp.Regexp, error) {
	var inline string
	for _, f := range flags {
		switch f {
		case 'i':
			inline += "i"
		case 'm':
			inline += "m"
		case 's':
			inline += "s"
		}
	}
	if inline != "" {
		pattern = "(?" + inline + ")" + pattern
	}
	return regexp.Compile(pattern)
}

// threatCutoffs normalizes either threshold polarity into ascending threat
// cutoffs: a cumulative score >= suspicious marks the page suspicious and
// >= phishing blocks it. Descending trust floors (legitimate > suspicious >
// phishing) are converted by inverting against the 100-point trust scale.
func threatCutoffs(t Thresholds) (suspicious, phishing int) {
	if t.Legitimate > t.Suspicious && t.Suspicious > t.Phishing {
		return 100 - t.Suspicious, 100 - t.Phishing
	}
	return t.Suspicious, t.Phishing
}

// WildcardToRegexp compiles a simple wildcard allowlist entry (e.g.
// "https://training.partner.com/*") into an anchored regular expression.
// Entries already delimited with slashes are treated as raw regex.
func WildcardToRegexp(entry string) (*regexp.Regexp, error) {
	entry = strings.TrimSpace(entry)
	if len(entry) > 2 && strings.HasPrefix(entry, "/") && strings.HasSuffix(entry, "/") {
		return regexp.Compile("(?i)" + entry[1:len(entry)-1])
	}
	var b strings.Builder
	b.WriteString("(?i)^")
	for _, r := range entry {
		if r == '*' {
			b.WriteString(".*")
			continue
		}
		b.WriteString(regexp.QuoteMeta(string(r)))
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
