package rules

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pageguard/pageguard/internal/models"
)

func testFeed() RogueAppFeed {
	return RogueAppFeed{
		Version: "2026-08-01",
		Apps: []RogueApp{
			{ClientID: "e9a7fea1-1cc4-4a2e-a1e0-86943a8fc1fe", Name: "Mail Harvester", Severity: "critical"},
			{ClientID: "14e1cd47-7cce-4fc4-9c4a-df8271cbb735", Name: "PerfectData Software", Severity: "high"},
			{ClientID: ""},
		},
	}
}

func TestRogueDetector_RefreshAndLookup(t *testing.T) {
	db := setupManagerDB(t)
	feed := testFeed()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(feed))
	}))
	defer srv.Close()

	d := NewRogueDetector(db)
	d.Configure(RogueAppsDetection{Enabled: true, SourceURL: srv.URL})
	require.NoError(t, d.Refresh(context.Background()))

	// Records without a client id are skipped during indexing.
	assert.Equal(t, 2, d.Count())

	app, ok := d.Lookup("e9a7fea1-1cc4-4a2e-a1e0-86943a8fc1fe")
	require.True(t, ok)
	assert.Equal(t, "Mail Harvester", app.Name)

	_, ok = d.Lookup("00000000-0000-0000-0000-000000000000")
	assert.False(t, ok)

	// The accepted payload is cached for the next start.
	var row models.RuleCache
	require.NoError(t, db.Where("source_url = ?", srv.URL).First(&row).Error)
	assert.Equal(t, "2026-08-01", row.Version)
	d.StopScheduler()
}

func TestRogueDetector_RefreshFailureKeepsFeed(t *testing.T) {
	db := setupManagerDB(t)
	feed := testFeed()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(feed))
	}))

	d := NewRogueDetector(db)
	d.Configure(RogueAppsDetection{Enabled: true, SourceURL: srv.URL})
	require.NoError(t, d.Refresh(context.Background()))
	require.Equal(t, 2, d.Count())

	srv.Close()
	err := d.Refresh(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 2, d.Count())
	d.StopScheduler()
}

func TestRogueDetector_DisableClearsFeed(t *testing.T) {
	db := setupManagerDB(t)
	feed := testFeed()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(feed))
	}))
	defer srv.Close()

	d := NewRogueDetector(db)
	d.Configure(RogueAppsDetection{Enabled: true, SourceURL: srv.URL})
	require.NoError(t, d.Refresh(context.Background()))
	require.Equal(t, 2, d.Count())

	d.Configure(RogueAppsDetection{Enabled: false})
	assert.Equal(t, 0, d.Count())

	_, ok := d.Lookup("e9a7fea1-1cc4-4a2e-a1e0-86943a8fc1fe")
	assert.False(t, ok)
}

func TestRogueDetector_LoadsCacheOnConfigure(t *testing.T) {
	db := setupManagerDB(t)
	url := "http://127.0.0.1:1/rogue.json"

	raw, err := json.Marshal(testFeed())
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.RuleCache{
		SourceURL: url,
		Version:   "2026-08-01",
		Content:   string(raw),
		FetchedAt: time.Now().Add(-time.Hour),
	}).Error)

	d := NewRogueDetector(db)
	d.SetHTTPClient(&http.Client{Timeout: 100 * time.Millisecond})
	d.Configure(RogueAppsDetection{Enabled: true, SourceURL: url})

	// The cached feed is usable immediately; the unreachable source is not
	// consulted while the cache is fresh.
	assert.Equal(t, 2, d.Count())
	d.StopScheduler()
}

func TestRogueDetector_FreshCacheSkipsFetch(t *testing.T) {
	db := setupManagerDB(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.NoError(t, json.NewEncoder(w).Encode(testFeed()))
	}))
	defer srv.Close()

	raw, err := json.Marshal(testFeed())
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.RuleCache{
		SourceURL: srv.URL,
		Version:   "2026-08-01",
		Content:   string(raw),
		FetchedAt: time.Now().Add(-time.Hour),
	}).Error)

	d := NewRogueDetector(db)
	d.Configure(RogueAppsDetection{Enabled: true, SourceURL: srv.URL, CacheDuration: 6})

	assert.Equal(t, 2, d.Count())
	assert.Equal(t, int32(0), hits.Load())
	d.StopScheduler()
}

func TestRogueDetector_StaleCacheTriggersFetch(t *testing.T) {
	db := setupManagerDB(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.NoError(t, json.NewEncoder(w).Encode(testFeed()))
	}))
	defer srv.Close()

	raw, err := json.Marshal(testFeed())
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.RuleCache{
		SourceURL: srv.URL,
		Version:   "2026-07-01",
		Content:   string(raw),
		FetchedAt: time.Now().Add(-48 * time.Hour),
	}).Error)

	d := NewRogueDetector(db)
	d.Configure(RogueAppsDetection{Enabled: true, SourceURL: srv.URL, CacheDuration: 6})

	assert.Eventually(t, func() bool {
		return hits.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, d.Count())
	d.StopScheduler()
}

func TestRogueDetector_DisabledRefreshIsNoop(t *testing.T) {
	d := NewRogueDetector(nil)
	require.NoError(t, d.Refresh(context.Background()))
	assert.Equal(t, 0, d.Count())
}
