package rules

import (
	"context"
	"encoding/json"
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
	"github.com/pageguard/pageguard/internal/version"
)

const defaultRogueIntervalHours = 12

// RogueDetector maintains the sibling feed mapping OAuth client identifiers
// to known-malicious application records. It follows the same fetch, cache
// and fallback shape as the rule manager but refreshes independently and
// never contributes to the numeric threat score.
type RogueDetector struct {
	db     *gorm.DB
	client *http.Client

	apps atomic.Pointer[map[string]RogueApp]

	mu      sync.Mutex
	source  RogueAppsDetection
	cron    *cron.Cron
	fetched time.Time
	feedVer string
}

// NewRogueDetector returns a detector with an empty feed. Configure wires it
// to the descriptor carried by the active rule store.
func NewRogueDetector(db *gorm.DB) *RogueDetector {
	d := &RogueDetector{
		db:     db,
		client: &http.Client{Timeout: fetchTimeout},
	}
	empty := map[string]RogueApp{}
	d.apps.Store(&empty)
	return d
}

// SetHTTPClient overrides the fetch client. Used by tests.
func (d *RogueDetector) SetHTTPClient(c *http.Client) {
	d.client = c
}

// Configure adopts the rogue-feed descriptor from a rule generation and
// (re)schedules refreshes at its interval. Designed to be registered as an
// OnSwap callback with the rule manager.
func (d *RogueDetector) Configure(src RogueAppsDetection) {
	d.mu.Lock()
	changed := d.source.SourceURL != src.SourceURL || d.source.UpdateInterval != src.UpdateInterval ||
		d.source.CacheDuration != src.CacheDuration || d.source.Enabled != src.Enabled
	d.source = src
	d.mu.Unlock()
	if !changed {
		return
	}

	if !src.Enabled {
		d.StopScheduler()
		empty := map[string]RogueApp{}
		d.apps.Store(&empty)
		return
	}

	// A cache entry younger than the descriptor's cache duration is served
	// as-is without hitting the feed; a stale or missing cache triggers an
	// immediate fetch in the background.
	fresh := false
	if cached, at, ok := d.loadCache(src.SourceURL); ok {
		d.adopt(cached, at)
		fresh = time.Since(at) < cacheDurationFor(src)
	}
	if !fresh {
		go func() {
			if err := d.Refresh(context.Background()); err != nil {
				logger.Log().WithError(err).Warn("rogue app feed refresh failed")
			}
		}()
	}
	if src.AutoUpdate {
		d.startScheduler(src.UpdateInterval)
	}
}

func cacheDurationFor(src RogueAppsDetection) time.Duration {
	hours := src.CacheDuration
	if hours <= 0 {
		hours = defaultRogueIntervalHours
	}
	return time.Duration(hours) * time.Hour
}

// Refresh fetches the feed once. On failure the last adopted feed is kept.
func (d *RogueDetector) Refresh(ctx context.Context) error {
	d.mu.Lock()
	src := d.source
	d.mu.Unlock()
	if !src.Enabled || src.SourceURL == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.SourceURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	req.Header.Set("User-Agent", version.Name+"/"+version.Version)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRuleBytes))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	var feed RogueAppFeed
	if err := json.Unmarshal(raw, &feed); err != nil {
		return fmt.Errorf("parse rogue app feed: %w", err)
	}

	index := indexFeed(feed)
	d.persistCache(src.SourceURL, feed.Version, raw)
	d.adoptIndexed(index, feed.Version, time.Now())
	logger.WithFields(map[string]interface{}{
		"apps":    len(index),
		"version": feed.Version,
	}).Info("rogue app feed updated")
	return nil
}

// Lookup returns the record for an OAuth client id, if the feed flags it.
func (d *RogueDetector) Lookup(clientID string) (RogueApp, bool) {
	apps := *d.apps.Load()
	app, ok := apps[clientID]
	if ok {
		metrics.IncRogueLookup("hit")
	} else {
		metrics.IncRogueLookup("miss")
	}
	return app, ok
}

// Count returns the number of flagged applications currently loaded.
func (d *RogueDetector) Count() int {
	return len(*d.apps.Load())
}

// StopScheduler halts the periodic feed refresh.
func (d *RogueDetector) StopScheduler() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cron != nil {
		d.cron.Stop()
		d.cron = nil
	}
}

func (d *RogueDetector) startScheduler(intervalHours int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cron != nil {
		d.cron.Stop()
	}
	if intervalHours <= 0 {
		intervalHours = defaultRogueIntervalHours
	}
	d.cron = cron.New()
	_, err := d.cron.AddFunc(fmt.Sprintf("@every %dh", intervalHours), func() {
		if err := d.Refresh(context.Background()); err != nil {
			logger.Log().WithError(err).Warn("scheduled rogue feed refresh failed")
		}
	})
	if err != nil {
		logger.Log().WithError(err).Error("schedule rogue feed refresh")
		return
	}
	d.cron.Start()
}

func (d *RogueDetector) adopt(feed RogueAppFeed, fetchedAt time.Time) {
	d.adoptIndexed(indexFeed(feed), feed.Version, fetchedAt)
}

func (d *RogueDetector) adoptIndexed(index map[string]RogueApp, feedVersion string, fetchedAt time.Time) {
	d.apps.Store(&index)
	d.mu.Lock()
	d.feedVer = feedVersion
	d.fetched = fetchedAt
	d.mu.Unlock()
}

func indexFeed(feed RogueAppFeed) map[string]RogueApp {
	index := make(map[string]RogueApp, len(feed.Apps))
	for _, app := range feed.Apps {
		if app.ClientID == "" {
			continue
		}
		index[app.ClientID] = app
	}
	return index
}

func (d *RogueDetector) loadCache(url string) (RogueAppFeed, time.Time, bool) {
	if d.db == nil || url == "" {
		return RogueAppFeed{}, time.Time{}, false
	}
	var row models.RuleCache
	if err := d.db.Where("source_url = ?", url).First(&row).Error; err != nil {
		return RogueAppFeed{}, time.Time{}, false
	}
	var feed RogueAppFeed
	if err := json.Unmarshal([]byte(row.Content), &feed); err != nil {
		logger.Log().WithError(err).Warn("cached rogue feed unreadable, ignoring")
		return RogueAppFeed{}, time.Time{}, false
	}
	return feed, row.FetchedAt, true
}

func (d *RogueDetector) persistCache(url, feedVersion string, raw []byte) {
	if d.db == nil {
		return
	}
	row := models.RuleCache{SourceURL: url, Version: feedVersion, Content: string(raw), FetchedAt: time.Now()}
	if err := d.db.Where(models.RuleCache{SourceURL: url}).Assign(row).FirstOrCreate(&row).Error; err != nil {
		logger.Log().WithError(err).Warn("persist rogue feed cache failed")
	}
}
