package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/pageguard/pageguard/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Setting{}))
	return db
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestResolve_DefaultsOnly(t *testing.T) {
	db := setupTestDB(t)
	r := NewResolver(db, "", "")

	cfg := r.Resolve()

	assert.Equal(t, DefaultRulesURL, cfg.CustomRulesURL)
	assert.Equal(t, 24, cfg.UpdateInterval)
	assert.True(t, cfg.EnablePageBlocking)
	assert.False(t, cfg.EnableCippReporting)
	assert.Equal(t, LayerDefault, cfg.Provenance[KeyCustomRulesURL])
}

func TestResolve_LayerPrecedence(t *testing.T) {
	db := setupTestDB(t)
	dir := t.TempDir()

	branding := writeFile(t, dir, "branding.json", `{
		"companyName": "Contoso",
		"productName": "Contoso Shield",
		"updateInterval": 12
	}`)
	managed := writeFile(t, dir, "managed.yaml", `
customRulesUrl: https://policy.example.com/rules.json
enableCippReporting: true
cippServerUrl: https://cipp.example.com/api
`)

	r := NewResolver(db, branding, managed)

	// Local layer tries to override a managed key and sets its own.
	require.NoError(t, r.UpdateConfig(map[string]string{
		KeyCustomRulesURL: "https://local.example.com/rules.json",
		KeyUpdateInterval: "6",
	}))

	cfg := r.Resolve()

	// Managed wins over local regardless of write order.
	assert.Equal(t, "https://policy.example.com/rules.json", cfg.CustomRulesURL)
	assert.Equal(t, LayerManaged, cfg.Provenance[KeyCustomRulesURL])
	assert.True(t, cfg.LockedByPolicy(KeyCustomRulesURL))

	// Local wins over branding.
	assert.Equal(t, 6, cfg.UpdateInterval)
	assert.Equal(t, LayerLocal, cfg.Provenance[KeyUpdateInterval])

	// Branding fills what nothing above sets.
	assert.Equal(t, "Contoso", cfg.Branding.CompanyName)
	assert.Equal(t, LayerBranding, cfg.Provenance[KeyCompanyName])

	// Managed booleans parse from YAML natives.
	assert.True(t, cfg.EnableCippReporting)
	assert.Equal(t, "https://cipp.example.com/api", cfg.CippServerURL)
}

func TestResolve_EmptyCustomRulesURLFallsThrough(t *testing.T) {
	db := setupTestDB(t)
	r := NewResolver(db, "", "")

	require.NoError(t, db.Create(&models.Setting{Key: KeyCustomRulesURL, Value: "   "}).Error)

	cfg := r.Resolve()
	assert.Equal(t, DefaultRulesURL, cfg.CustomRulesURL)
	assert.Equal(t, LayerDefault, cfg.Provenance[KeyCustomRulesURL])
}

func TestResolve_MissingLayerFilesDegradeToAbsent(t *testing.T) {
	db := setupTestDB(t)
	r := NewResolver(db, "/nonexistent/branding.json", "/nonexistent/managed.yaml")

	cfg := r.Resolve()
	assert.Equal(t, DefaultRulesURL, cfg.CustomRulesURL)
	for _, layer := range cfg.Provenance {
		assert.Equal(t, LayerDefault, layer)
	}
}

func TestResolve_MalformedManagedPolicyIgnored(t *testing.T) {
	db := setupTestDB(t)
	dir := t.TempDir()
	managed := writeFile(t, dir, "managed.yaml", "{{{not yaml")

	r := NewResolver(db, "", managed)
	cfg := r.Resolve()
	assert.Equal(t, LayerDefault, cfg.Provenance[KeyCustomRulesURL])
}

func TestUpdateConfig_DeltaOnlyPersistence(t *testing.T) {
	db := setupTestDB(t)
	r := NewResolver(db, "", "")

	require.NoError(t, r.UpdateConfig(map[string]string{KeyUpdateInterval: "6"}))

	var count int64
	db.Model(&models.Setting{}).Count(&count)
	assert.Equal(t, int64(1), count)

	// Setting back to the default removes the stored override.
	require.NoError(t, r.UpdateConfig(map[string]string{KeyUpdateInterval: "24"}))
	db.Model(&models.Setting{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestUpdateConfig_UnknownKeyRejected(t *testing.T) {
	db := setupTestDB(t)
	r := NewResolver(db, "", "")

	err := r.UpdateConfig(map[string]string{"nonsenseKey": "x"})
	assert.ErrorIs(t, err, ErrUnknownSettingKey)
}

func TestUpdateConfig_BadIntervalRejected(t *testing.T) {
	db := setupTestDB(t)
	r := NewResolver(db, "", "")

	err := r.UpdateConfig(map[string]string{KeyUpdateInterval: "soon"})
	assert.Error(t, err)
}

func TestResolve_IntervalClamping(t *testing.T) {
	db := setupTestDB(t)
	r := NewResolver(db, "", "")

	require.NoError(t, r.UpdateConfig(map[string]string{KeyUpdateInterval: "500"}))
	assert.Equal(t, 168, r.Resolve().UpdateInterval)

	require.NoError(t, r.UpdateConfig(map[string]string{KeyUpdateInterval: "0"}))
	assert.Equal(t, 1, r.Resolve().UpdateInterval)
}

func TestResolve_AllowlistSplitting(t *testing.T) {
	db := setupTestDB(t)
	r := NewResolver(db, "", "")

	require.NoError(t, r.UpdateConfig(map[string]string{
		KeyURLAllowlist: "https://intranet.example.com/*\n\n  https://portal.example.com/* \n",
	}))

	cfg := r.Resolve()
	assert.Equal(t, []string{"https://intranet.example.com/*", "https://portal.example.com/*"}, cfg.URLAllowlist)
}

func TestResolve_ManagedSequenceAllowlist(t *testing.T) {
	db := setupTestDB(t)
	dir := t.TempDir()
	managed := writeFile(t, dir, "managed.yaml", `
urlAllowlist:
  - https://intranet.example.com/*
  - https://portal.example.com/*
`)

	r := NewResolver(db, "", managed)
	cfg := r.Resolve()

	assert.Equal(t, []string{"https://intranet.example.com/*", "https://portal.example.com/*"}, cfg.URLAllowlist)
	assert.Equal(t, LayerManaged, cfg.Provenance[KeyURLAllowlist])
}

func TestStringifyValue(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want string
		ok   bool
	}{
		{"string", "x", "x", true},
		{"bool", true, "true", true},
		{"int", 7, "7", true},
		{"whole float", float64(12), "12", true},
		{"fractional float", 1.5, "1.5", true},
		{"string slice", []string{"a", "b"}, "a\nb", true},
		{"mixed sequence", []interface{}{"a", 2}, "a\n2", true},
		{"nested map unsupported", map[string]interface{}{"k": "v"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := stringifyValue(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
