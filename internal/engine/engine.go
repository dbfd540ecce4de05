package engine

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pageguard/pageguard/internal/logger"
	"github.com/pageguard/pageguard/internal/metrics"
	"github.com/pageguard/pageguard/internal/rules"
	"github.com/pageguard/pageguard/internal/settings"
)

// maxSurfaceBytes bounds how much of any snapshot surface is matched against
// untrusted rule patterns, keeping per-analysis cost predictable.
const maxSurfaceBytes = 256 << 10

// maxTrustScore is reported on trusted verdicts.
const maxTrustScore = 100

// RuleProvider supplies the active rule generation. Analyses borrow a
// read-only snapshot per call; the provider may swap generations underneath
// without affecting analyses already in flight.
type RuleProvider interface {
	GetActiveRules() *rules.CompiledStore
}

// RogueLookup resolves OAuth client ids against the rogue-application feed.
type RogueLookup interface {
	Lookup(clientID string) (rules.RogueApp, bool)
}

type allowSet struct {
	allow        []*regexp.Regexp
	extraTrusted []*regexp.Regexp
}

// Engine scores page snapshots against the active rule generation. It holds
// no mutable per-analysis state: the rule store is immutable per generation
// and everything else is partitioned per tab, so analyses for different tabs
// run concurrently without locks.
type Engine struct {
	provider RuleProvider
	rogue    RogueLookup
	allow    atomic.Pointer[allowSet]
	Headers  *HeaderCache
}

// New returns an Engine bound to a rule provider. rogue may be nil when
// rogue-application detection is disabled.
func New(provider RuleProvider, rogue RogueLookup) *Engine {
	e := &Engine{
		provider: provider,
		rogue:    rogue,
		Headers:  NewHeaderCache(5 * time.Minute),
	}
	e.allow.Store(&allowSet{})
	return e
}

// ApplyConfig compiles the org allowlist and extra-trusted origins from the
// effective configuration. Entries that fail to compile are skipped, matching
// the drop-not-fatal treatment of remote rule patterns.
func (e *Engine) ApplyConfig(cfg settings.EffectiveConfig) {
	set := &allowSet{}
	for _, entry := range cfg.URLAllowlist {
		re, err := rules.WildcardToRegexp(entry)
		if err != nil {
			logger.WithFields(map[string]interface{}{"entry": entry}).WithError(err).Warn("skipping invalid allowlist entry")
			continue
		}
		set.allow = append(set.allow, re)
	}
	for _, entry := range cfg.ExtraTrustedOrigins {
		re, err := rules.WildcardToRegexp(entry)
		if err != nil {
			logger.WithFields(map[string]interface{}{"entry": entry}).WithError(err).Warn("skipping invalid trusted origin entry")
			continue
		}
		set.extraTrusted = append(set.extraTrusted, re)
	}
	e.allow.Store(set)
}

// AnalyzeURL scores a bare URL with no page content available.
func (e *Engine) AnalyzeURL(rawURL string) Verdict {
	return e.AnalyzeSnapshot(PageSnapshot{URL: rawURL})
}

// AnalyzeSnapshot runs the ordered, short-circuiting detection pipeline and
// returns an immutable Verdict. A malformed snapshot fails toward caution:
// the result is not-evaluated or suspicious, never trusted.
func (e *Engine) AnalyzeSnapshot(snap PageSnapshot) Verdict {
	store := e.provider.GetActiveRules()
	if store == nil {
		return e.finish(Verdict{
			Decision:  DecisionNotEvaluated,
			Reason:    "no rule generation available",
			Timestamp: time.Now(),
		})
	}

	v := Verdict{Generation: store.Generation, Timestamp: time.Now()}

	origin, ok := parseOrigin(snap.URL)
	if !ok {
		v.Decision = DecisionNotEvaluated
		v.Reason = "malformed url"
		return e.finish(v)
	}

	if snap.Headers == nil && snap.TabID != "" {
		if headers, ok := e.Headers.Get(snap.TabID); ok {
			snap.Headers = headers
		}
	}

	// 1. Exclusions and org allowlist. Matching pages are never scanned:
	// no indicator evaluation, no content inspection.
	set := e.allow.Load()
	if matchAny(store.Exclusions, snap.URL) || matchAny(set.allow, snap.URL) {
		v.Decision = DecisionNotEvaluated
		v.Reason = "excluded"
		return e.finish(v)
	}

	// Rogue-application lookup runs alongside the verdict pipeline: an OAuth
	// consent for a flagged app is typically hosted on the legitimate origin,
	// so the signal must survive the trusted short-circuit below.
	e.attachRogueSignal(&v, snap)

	// 2. Trusted-origin check bypasses all scoring.
	if matchAny(set.extraTrusted, origin) {
		v.Decision = DecisionTrustedExtra
		v.Score = maxTrustScore
		return e.finish(v)
	}
	if matchAny(store.Trusted, origin) {
		v.Decision = DecisionTrusted
		v.Score = maxTrustScore
		return e.finish(v)
	}

	// 3. Detection requirements decide whether the page is login-shaped at
	// all; pages below the floor skip deep scoring to avoid false positives.
	weight := elementWeight(store.Primary, snap) + elementWeight(store.Secondary, snap)
	if weight < store.MinimumWeight {
		v.Decision = DecisionNotEvaluated
		v.Reason = "below detection floor"
		return e.finish(v)
	}

	// 4. Indicator scoring.
	blockMatched := false
	for _, ind := range store.Indicators {
		surface := surfaceFor(ind.Category, snap)
		if surface == "" || !ind.Regex.MatchString(surface) {
			continue
		}
		if !contextSatisfied(ind.Context, snap) {
			continue
		}
		v.Score += rules.Points(ind.Severity)
		v.MatchedIndicatorIDs = append(v.MatchedIndicatorIDs, ind.ID)
		if ind.Confidence > v.Confidence {
			v.Confidence = ind.Confidence
		}
		if ind.Action == rules.ActionBlock {
			blockMatched = true
			v.Reason = "blocking indicator " + ind.ID
		}
	}
	sort.Strings(v.MatchedIndicatorIDs)

	// 5. One smoking gun blocks, regardless of cumulative score.
	if blockMatched || e.blockingRuleMatched(store, snap, &v) {
		v.Decision = DecisionPhishingBlocked
		return e.finish(v)
	}

	// 6. Cumulative score against the normalized threat cutoffs.
	switch {
	case v.Score >= store.PhishingCutoff:
		v.Decision = DecisionPhishingBlocked
	case v.Score >= store.SuspiciousCutoff:
		v.Decision = DecisionSuspicious
	default:
		v.Decision = DecisionMSLoginUnknown
	}
	return e.finish(v)
}

func (e *Engine) finish(v Verdict) Verdict {
	metrics.IncAnalysis(string(v.Decision))
	if v.Decision == DecisionPhishingBlocked {
		metrics.IncBlocked()
	}
	return v
}

func (e *Engine) attachRogueSignal(v *Verdict, snap PageSnapshot) {
	if e.rogue == nil {
		return
	}
	clientID := snap.OAuthClientID
	if clientID == "" {
		clientID = oauthClientID(snap.URL)
	}
	if clientID == "" {
		return
	}
	if app, ok := e.rogue.Lookup(clientID); ok {
		v.RogueApp = &app
	}
}

func (e *Engine) blockingRuleMatched(store *rules.CompiledStore, snap PageSnapshot, v *Verdict) bool {
	for _, rule := range store.Blocking {
		var surface string
		switch rule.Type {
		case rules.BlockingURLPattern:
			surface = snap.URL
		case rules.BlockingFormAction:
			surface = strings.Join(snap.FormActions, "\n")
		default:
			surface = truncate(snap.DOMExcerpt)
		}
		if surface != "" && rule.Regex.MatchString(surface) {
			v.Reason = "blocking rule " + rule.ID
			return true
		}
	}
	return false
}

// surfaceFor selects the snapshot surface an indicator evaluates against,
// based on its category.
func surfaceFor(category string, snap PageSnapshot) string {
	switch category {
	case "url", "url_pattern", "domain", "redirect":
		return snap.URL
	case "header", "headers":
		return flattenHeaders(snap.Headers)
	case "form", "form_action":
		return strings.Join(snap.FormActions, "\n")
	case "text_content", "text":
		return truncate(snap.Title + "\n" + snap.DOMExcerpt)
	case "source_content", "dom", "content":
		return truncate(snap.DOMExcerpt)
	default:
		return truncate(snap.URL + "\n" + snap.DOMExcerpt)
	}
}

func elementSurface(el rules.CompiledElement, snap PageSnapshot) string {
	switch el.Type {
	case rules.ElementURLPattern:
		return snap.URL
	case rules.ElementTextContent:
		return truncate(snap.Title + "\n" + snap.DOMExcerpt)
	default: // source_content, css_pattern
		return truncate(snap.DOMExcerpt)
	}
}

func elementWeight(elements []rules.CompiledElement, snap PageSnapshot) int {
	total := 0
	for _, el := range elements {
		surface := elementSurface(el, snap)
		if surface == "" {
			continue
		}
		for _, re := range el.Patterns {
			if re.MatchString(surface) {
				total += el.Weight
				break
			}
		}
	}
	return total
}

func contextSatisfied(context []*regexp.Regexp, snap PageSnapshot) bool {
	if len(context) == 0 {
		return true
	}
	surface := truncate(snap.URL + "\n" + snap.DOMExcerpt)
	for _, re := range context {
		if !re.MatchString(surface) {
			return false
		}
	}
	return true
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func flattenHeaders(headers map[string]string) string {
	if len(headers) == 0 {
		return ""
	}
	var b strings.Builder
	for k, v := range headers {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\n")
	}
	return b.String()
}

func truncate(s string) string {
	if len(s) > maxSurfaceBytes {
		return s[:maxSurfaceBytes]
	}
	return s
}

// parseOrigin normalizes a URL to its scheme://host origin for exact
// trusted-origin matching.
func parseOrigin(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), true
}

// oauthClientID extracts a client_id query parameter from OAuth consent and
// authorize URLs. Other URLs never carry the rogue-app context.
func oauthClientID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	path := strings.ToLower(u.Path)
	if !strings.Contains(path, "oauth") && !strings.Contains(path, "consent") && !strings.Contains(path, "authorize") {
		return ""
	}
	return u.Query().Get("client_id")
}
