package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/pageguard/pageguard/internal/logger"
	"github.com/pageguard/pageguard/internal/metrics"
	"github.com/pageguard/pageguard/internal/models"
	"github.com/pageguard/pageguard/internal/settings"
	"github.com/pageguard/pageguard/internal/version"
)

var (
	ErrFetchFailed = errors.New("rule fetch failed")
	ErrNoRules     = errors.New("no active rule store")
)

// Lifecycle states of the manager.
type State string

const (
	StateUnloaded State = "UNLOADED"
	StateLoading  State = "LOADING"
	StateReady    State = "READY"
	StateDegraded State = "DEGRADED"
)

const (
	fetchTimeout = 15 * time.Second
	maxRuleBytes = 4 << 20
)

// Status is a point-in-time view of the manager for the API surface.
type Status struct {
	State        State     `json:"state"`
	Generation   uint64    `json:"generation"`
	Version      string    `json:"version"`
	Source       string    `json:"source"`
	SourceURL    string    `json:"source_url"`
	FetchedAt    time.Time `json:"fetched_at"`
	DroppedRules int       `json:"dropped_rules"`
}

// Manager owns the single active rule generation and its cache entry. The
// active store is swapped atomically, so concurrent analyses always observe
// one consistent generation and never a partially updated one.
type Manager struct {
	db       *gorm.DB
	resolver *settings.Resolver
	client   *http.Client

	active atomic.Pointer[CompiledStore]
	gen    atomic.Uint64

	mu        sync.Mutex // guards state, source config and the scheduler
	state     State
	sourceURL string
	cron      *cron.Cron
	interval  int // hours

	// refreshMu serializes whole refresh cycles (fetch through activate) so
	// a racing ForceUpdate and cron tick cannot interleave and activate a
	// stale fetch result over a newer one.
	refreshMu sync.Mutex

	swapMu sync.Mutex
	onSwap []func(*CompiledStore)
}

// NewManager returns an unloaded Manager. Call Initialize before use.
func NewManager(db *gorm.DB, resolver *settings.Resolver) *Manager {
	return &Manager{
		db:       db,
		resolver: resolver,
		client:   &http.Client{Timeout: fetchTimeout},
		state:    StateUnloaded,
	}
}

// SetHTTPClient overrides the fetch client. Used by tests.
func (m *Manager) SetHTTPClient(c *http.Client) {
	m.client = c
}

// OnSwap registers a callback invoked after every generation swap.
// Already-open pages keep their prior generation until re-injected; the
// callback lets collaborators (engine allowlist, rogue feed) follow along.
func (m *Manager) OnSwap(fn func(*CompiledStore)) {
	m.swapMu.Lock()
	m.onSwap = append(m.onSwap, fn)
	m.swapMu.Unlock()
}

// GetActiveRules returns the current rule generation. It never returns nil
// after Initialize: the fallback chain guarantees a non-empty store.
func (m *Manager) GetActiveRules() *CompiledStore {
	return m.active.Load()
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns a snapshot of manager state for the API.
func (m *Manager) Status() Status {
	s := Status{State: m.State()}
	if cs := m.active.Load(); cs != nil {
		s.Generation = cs.Generation
		s.Version = cs.Store.Version
		s.Source = cs.Source
		s.FetchedAt = cs.FetchedAt
		s.DroppedRules = cs.DroppedRules
	}
	m.mu.Lock()
	s.SourceURL = m.sourceURL
	m.mu.Unlock()
	return s
}

// Initialize resolves configuration, serves a fresh cache entry immediately
// when one exists (bounded startup latency), and refreshes from the remote
// source. On any failure the fallback chain guarantees a usable store.
func (m *Manager) Initialize(ctx context.Context) {
	m.setState(StateLoading)
	cfg := m.resolver.Resolve()

	m.mu.Lock()
	m.sourceURL = cfg.CustomRulesURL
	m.interval = cfg.UpdateInterval
	m.mu.Unlock()

	if cached, ok := m.loadCache(cfg.CustomRulesURL); ok && time.Since(cached.FetchedAt) < m.cacheDuration(cfg) {
		m.activate(cached, StateReady)
		go func() {
			if err := m.refresh(context.Background(), cfg); err != nil {
				logger.Log().WithError(err).Warn("background rule refresh failed, serving cached generation")
			}
		}()
		return
	}

	if err := m.refresh(ctx, cfg); err != nil {
		logger.Log().WithError(err).Warn("initial rule fetch failed, fell back")
	}
}

// ReloadConfiguration re-reads the effective config and repeats the load flow
// without a restart. A changed rules URL invalidates the cache implicitly
// because cache entries are keyed by source URL.
func (m *Manager) ReloadConfiguration(ctx context.Context) {
	cfg := m.resolver.Resolve()

	m.mu.Lock()
	urlChanged := m.sourceURL != cfg.CustomRulesURL
	intervalChanged := m.interval != cfg.UpdateInterval
	m.sourceURL = cfg.CustomRulesURL
	m.interval = cfg.UpdateInterval
	m.mu.Unlock()

	if urlChanged {
		logger.WithFields(map[string]interface{}{"url": cfg.CustomRulesURL}).Info("rules source changed, reloading")
	}
	if err := m.refresh(ctx, cfg); err != nil {
		logger.Log().WithError(err).Warn("rule refresh after reconfiguration failed")
	}
	if intervalChanged {
		m.StartScheduler()
	}
}

// ForceUpdate triggers an immediate fetch and returns the fetch error, if
// any. The active generation is never downgraded on failure.
func (m *Manager) ForceUpdate(ctx context.Context) error {
	return m.refresh(ctx, m.resolver.Resolve())
}

// StartScheduler (re)starts the periodic refresh at the resolved interval.
func (m *Manager) StartScheduler() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cron != nil {
		m.cron.Stop()
	}
	interval := m.interval
	if interval <= 0 {
		interval = settings.DefaultUpdateIntervalHours
	}
	m.cron = cron.New()
	_, err := m.cron.AddFunc(fmt.Sprintf("@every %dh", interval), func() {
		if err := m.refresh(context.Background(), m.resolver.Resolve()); err != nil {
			logger.Log().WithError(err).Warn("scheduled rule refresh failed")
		}
	})
	if err != nil {
		logger.Log().WithError(err).Error("schedule rule refresh")
		return
	}
	m.cron.Start()
	logger.WithFields(map[string]interface{}{"interval_hours": interval}).Info("rule refresh scheduled")
}

// StopScheduler halts the periodic refresh.
func (m *Manager) StopScheduler() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron != nil {
		m.cron.Stop()
		m.cron = nil
	}
}

// refresh fetches, validates and atomically swaps in a new generation. One
// refresh runs at a time; the fetch is time-bounded so holding the lock
// across it is safe. Refreshes may race with in-flight scoring, which keeps
// observing the previous generation until the swap.
func (m *Manager) refresh(ctx context.Context, cfg settings.EffectiveConfig) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	m.mu.Lock()
	url := m.sourceURL
	m.mu.Unlock()

	store, raw, err := m.fetch(ctx, url)
	if err == nil {
		cs := Compile(*store)
		cs.Source = SourceRemote
		m.persistCache(url, store.Version, raw)
		m.activate(cs, StateReady)
		metrics.IncRuleRefresh("success")
		return nil
	}

	metrics.IncRuleRefresh("failure")
	logger.WithFields(map[string]interface{}{"url": url}).WithError(err).Warn("rule fetch failed")

	// Keep whatever generation is active rather than downgrade.
	if m.active.Load() != nil {
		return err
	}

	// Fallback chain: last valid cache (even if stale) > bundled baseline >
	// hard-coded minimal set. The engine must never end up with zero rules.
	if cached, ok := m.loadCache(url); ok {
		m.activate(cached, StateReady)
		metrics.IncRuleFallback("cache")
		return err
	}

	baseline := Compile(BaselineStore())
	baseline.Source = SourceBaseline
	if len(baseline.Indicators) > 0 || len(baseline.Trusted) > 0 {
		m.activate(baseline, StateDegraded)
		metrics.IncRuleFallback("baseline")
		return err
	}

	minimal := Compile(MinimalStore())
	minimal.Source = SourceMinimal
	m.activate(minimal, StateDegraded)
	metrics.IncRuleFallback("minimal")
	return err
}

func (m *Manager) fetch(ctx context.Context, url string) (*RuleStore, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	req.Header.Set("User-Agent", version.Name+"/"+version.Version)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRuleBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	var store RuleStore
	if err := json.Unmarshal(raw, &store); err != nil {
		return nil, nil, fmt.Errorf("parse rule store: %w", err)
	}
	// Invalid payloads are discarded exactly like fetch failures.
	if err := Validate(&store); err != nil {
		return nil, nil, err
	}
	return &store, raw, nil
}

func (m *Manager) activate(cs *CompiledStore, state State) {
	cs.Generation = m.gen.Add(1)
	m.active.Store(cs)
	m.setState(state)
	metrics.SetRuleGeneration(cs.Generation)
	metrics.AddDroppedRules(cs.DroppedRules)

	logger.WithFields(map[string]interface{}{
		"generation": cs.Generation,
		"version":    cs.Store.Version,
		"source":     cs.Source,
		"indicators": len(cs.Indicators),
		"dropped":    cs.DroppedRules,
	}).Info("activated rule generation")

	m.swapMu.Lock()
	callbacks := append(([]func(*CompiledStore))(nil), m.onSwap...)
	m.swapMu.Unlock()
	for _, fn := range callbacks {
		fn(cs)
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) cacheDuration(cfg settings.EffectiveConfig) time.Duration {
	return time.Duration(cfg.UpdateInterval) * time.Hour
}

func (m *Manager) loadCache(url string) (*CompiledStore, bool) {
	if m.db == nil {
		return nil, false
	}
	var row models.RuleCache
	if err := m.db.Where("source_url = ?", url).First(&row).Error; err != nil {
		return nil, false
	}
	var store RuleStore
	if err := json.Unmarshal([]byte(row.Content), &store); err != nil {
		logger.Log().WithError(err).Warn("cached rule payload unreadable, ignoring")
		return nil, false
	}
	if err := Validate(&store); err != nil {
		logger.Log().WithError(err).Warn("cached rule payload invalid, ignoring")
		return nil, false
	}
	cs := Compile(store)
	cs.Source = SourceCache
	cs.FetchedAt = row.FetchedAt
	return cs, true
}

func (m *Manager) persistCache(url, ruleVersion string, raw []byte) {
	if m.db == nil {
		return
	}
	row := models.RuleCache{SourceURL: url, Version: ruleVersion, Content: string(raw), FetchedAt: time.Now()}
	if err := m.db.Where(models.RuleCache{SourceURL: url}).Assign(row).FirstOrCreate(&row).Error; err != nil {
		logger.Log().WithError(err).Warn("persist rule cache failed")
	}
}
