package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/containrrr/shoutrrr"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pageguard/pageguard/internal/engine"
	"github.com/pageguard/pageguard/internal/logger"
	"github.com/pageguard/pageguard/internal/metrics"
	"github.com/pageguard/pageguard/internal/models"
	"github.com/pageguard/pageguard/internal/rules"
	"github.com/pageguard/pageguard/internal/settings"
)

const deliveryTimeout = 10 * time.Second

// Emitter delivers a single event envelope to an outbound channel.
type Emitter interface {
	Emit(ctx context.Context, env Envelope) error
}

// WebhookEmitter POSTs envelopes as JSON with the webhook type and schema
// version carried in headers.
type WebhookEmitter struct {
	URL    string
	client *http.Client
}

// NewWebhookEmitter returns an emitter posting to the given URL.
func NewWebhookEmitter(url string) *WebhookEmitter {
	return &WebhookEmitter{
		URL:    url,
		client: &http.Client{Timeout: deliveryTimeout},
	}
}

// Emit delivers one envelope. A non-2xx response is a delivery error.
func (w *WebhookEmitter) Emit(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Type", env.Type)
	req.Header.Set("X-Webhook-Version", env.Version)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status: %d", resp.StatusCode)
	}
	return nil
}

// ShoutrrrEmitter fans events out to chat services via shoutrrr provider URLs.
type ShoutrrrEmitter struct {
	URL string
}

// Emit sends a short human-readable summary of the event.
func (s *ShoutrrrEmitter) Emit(_ context.Context, env Envelope) error {
	msg := fmt.Sprintf("%s\n\nURL: %s\nSeverity: %s\nScore: %d\nReason: %s",
		env.Type, env.Data.URL, env.Data.Severity, env.Data.Score, env.Data.Reason)
	return shoutrrr.Send(s.URL, msg)
}

// Dispatcher records noteworthy verdicts and fans them out to the configured
// emitters. Delivery runs in per-emitter goroutines and never blocks or fails
// an analysis.
type Dispatcher struct {
	db       *gorm.DB
	resolver *settings.Resolver
	extra    []Emitter
}

// NewDispatcher returns a dispatcher persisting to db and reading CIPP
// reporting configuration from the resolver on every dispatch, so managed
// policy changes take effect without a restart.
func NewDispatcher(db *gorm.DB, resolver *settings.Resolver) *Dispatcher {
	return &Dispatcher{db: db, resolver: resolver}
}

// AddEmitter registers an additional outbound channel.
func (d *Dispatcher) AddEmitter(e Emitter) {
	d.extra = append(d.extra, e)
}

// Noteworthy reports whether a verdict warrants recording and emission.
func Noteworthy(v engine.Verdict) bool {
	return v.Decision == engine.DecisionPhishingBlocked ||
		v.Decision == engine.DecisionSuspicious ||
		v.RogueApp != nil
}

// Dispatch persists a detection event and emits it outbound. Verdicts that
// are not noteworthy are ignored.
func (d *Dispatcher) Dispatch(v engine.Verdict, snap engine.PageSnapshot, store *rules.CompiledStore) {
	if !Noteworthy(v) {
		return
	}

	cfg := d.resolver.Resolve()
	env := FromVerdict(v, snap, store, cfg.CippTenantID)

	d.record(v, snap, env)

	var emitters []Emitter
	if cfg.EnableCippReporting && cfg.CippServerURL != "" {
		emitters = append(emitters, NewWebhookEmitter(cfg.CippServerURL))
	}
	emitters = append(emitters, d.extra...)

	for _, emitter := range emitters {
		go func(e Emitter) {
			ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
			defer cancel()
			if err := e.Emit(ctx, env); err != nil {
				metrics.IncEventEmitted(env.Type, "failure")
				logger.WithFields(map[string]interface{}{"type": env.Type}).WithError(err).Warn("event delivery failed")
				return
			}
			metrics.IncEventEmitted(env.Type, "success")
		}(emitter)
	}
}

// DispatchReport emits a user-filed false positive report. Reports are always
// recorded and emitted regardless of the verdict's decision.
func (d *Dispatcher) DispatchReport(url, ruleID, comment string) {
	cfg := d.resolver.Resolve()
	env := NewEnvelope(TypeFalsePositiveReport, cfg.CippTenantID, Data{
		URL:      url,
		Rule:     ruleID,
		Reason:   comment,
		Severity: "info",
		Context:  Context{Domain: domainOf(url)},
	})

	d.record(engine.Verdict{Decision: engine.DecisionNotEvaluated}, engine.PageSnapshot{URL: url}, env)

	var emitters []Emitter
	if cfg.EnableCippReporting && cfg.CippServerURL != "" {
		emitters = append(emitters, NewWebhookEmitter(cfg.CippServerURL))
	}
	emitters = append(emitters, d.extra...)

	for _, emitter := range emitters {
		go func(e Emitter) {
			ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
			defer cancel()
			if err := e.Emit(ctx, env); err != nil {
				metrics.IncEventEmitted(env.Type, "failure")
				logger.WithFields(map[string]interface{}{"type": env.Type}).WithError(err).Warn("event delivery failed")
				return
			}
			metrics.IncEventEmitted(env.Type, "success")
		}(emitter)
	}
}

func (d *Dispatcher) record(v engine.Verdict, snap engine.PageSnapshot, env Envelope) {
	if d.db == nil {
		return
	}
	details, _ := json.Marshal(env.Data)
	row := models.DetectionEvent{
		UUID:     uuid.NewString(),
		Type:     env.Type,
		URL:      snap.URL,
		Decision: string(v.Decision),
		Score:    v.Score,
		Severity: env.Data.Severity,
		RuleID:   env.Data.Rule,
		Category: env.Data.Category,
		Details:  string(details),
	}
	if err := d.db.Create(&row).Error; err != nil {
		logger.Log().WithError(err).Warn("persist detection event failed")
	}
}
