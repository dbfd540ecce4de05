package handlers

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pageguard/pageguard/internal/models"
	"github.com/pageguard/pageguard/internal/settings"
)

func setupSettingsRouter(t *testing.T, managedYAML string) (*gin.Engine, *SettingsHandler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := OpenTestDB(t)
	require.NoError(t, db.AutoMigrate(&models.Setting{}))

	managedPath := ""
	if managedYAML != "" {
		managedPath = filepath.Join(t.TempDir(), "managed.yaml")
		require.NoError(t, os.WriteFile(managedPath, []byte(managedYAML), 0o644))
	}

	handler := NewSettingsHandler(settings.NewResolver(db, "", managedPath))
	router := gin.New()
	router.GET("/settings", handler.GetSettings)
	router.POST("/settings", handler.UpdateSettings)
	return router, handler
}

func TestGetSettings_ReturnsDefaultsWithProvenance(t *testing.T) {
	router, _ := setupSettingsRouter(t, "")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/settings", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"custom_rules_url"`)
	assert.Contains(t, w.Body.String(), `"update_interval":24`)
	assert.Contains(t, w.Body.String(), `"enable_page_blocking":true`)
	assert.Contains(t, w.Body.String(), `"provenance"`)
}

func TestUpdateSettings_PersistsAndNotifies(t *testing.T) {
	router, handler := setupSettingsRouter(t, "")

	notified := false
	handler.OnChange(func() { notified = true })

	w := httptest.NewRecorder()
	body := `{"customRulesUrl": "https://rules.example.com/feed.json", "updateInterval": "6"}`
	req, _ := http.NewRequest("POST", "/settings", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, notified)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/settings", nil)
	router.ServeHTTP(w, req)
	assert.Contains(t, w.Body.String(), `"custom_rules_url":"https://rules.example.com/feed.json"`)
	assert.Contains(t, w.Body.String(), `"update_interval":6`)
}

func TestUpdateSettings_RejectsManagedKey(t *testing.T) {
	router, handler := setupSettingsRouter(t, "customRulesUrl: https://policy.example.com/rules.json\n")

	notified := false
	handler.OnChange(func() { notified = true })

	w := httptest.NewRecorder()
	body := `{"customRulesUrl": "https://rogue.example.com/rules.json"}`
	req, _ := http.NewRequest("POST", "/settings", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "locked by managed policy")
	assert.False(t, notified)
}

func TestUpdateSettings_UnknownKey(t *testing.T) {
	router, _ := setupSettingsRouter(t, "")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/settings", strings.NewReader(`{"smtpHost": "mail.example.com"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateSettings_EmptyBody(t *testing.T) {
	router, _ := setupSettingsRouter(t, "")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/settings", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
