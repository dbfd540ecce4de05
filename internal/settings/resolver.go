package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/pageguard/pageguard/internal/logger"
	"github.com/pageguard/pageguard/internal/models"
)

var ErrUnknownSettingKey = errors.New("unknown setting key")

// Layer identifies the configuration tier a resolved value came from.
// Higher layers always win over lower ones for keys they define.
type Layer string

const (
	LayerDefault  Layer = "default"
	LayerBranding Layer = "branding"
	LayerLocal    Layer = "local"
	LayerManaged  Layer = "managed"
)

// Setting keys. These match the key names used by the extension config
// surface and the managed policy templates.
const (
	KeyCustomRulesURL      = "customRulesUrl"
	KeyUpdateInterval      = "updateInterval"
	KeyEnablePageBlocking  = "enablePageBlocking"
	KeyEnableCippReporting = "enableCippReporting"
	KeyCippServerURL       = "cippServerUrl"
	KeyCippTenantID        = "cippTenantId"
	KeyURLAllowlist        = "urlAllowlist"
	KeyExtraTrustedOrigins = "extraTrustedOrigins"
	KeyCompanyName         = "companyName"
	KeyProductName         = "productName"
	KeySupportEmail        = "supportEmail"
	KeyPrimaryColor        = "primaryColor"
	KeyLogoURL             = "logoUrl"
)

// DefaultRulesURL is the bundled rule feed used when no layer overrides it.
const DefaultRulesURL = "https://raw.githubusercontent.com/pageguard/rules/main/rules.json"

const (
	// UpdateInterval bounds, in hours.
	MinUpdateIntervalHours     = 1
	MaxUpdateIntervalHours     = 168
	DefaultUpdateIntervalHours = 24
)

func defaults() map[string]string {
	return map[string]string{
		KeyCustomRulesURL:      DefaultRulesURL,
		KeyUpdateInterval:      strconv.Itoa(DefaultUpdateIntervalHours),
		KeyEnablePageBlocking:  "true",
		KeyEnableCippReporting: "false",
		KeyCippServerURL:       "",
		KeyCippTenantID:        "",
		KeyURLAllowlist:        "",
		KeyExtraTrustedOrigins: "",
		KeyCompanyName:         "",
		KeyProductName:         "PageGuard",
		KeySupportEmail:        "",
		KeyPrimaryColor:        "#2b6cb0",
		KeyLogoURL:             "",
	}
}

func isKnownKey(key string) bool {
	_, ok := defaults()[key]
	return ok
}

// Branding carries the white-label fields of the effective config.
type Branding struct {
	CompanyName  string `json:"companyName"`
	ProductName  string `json:"productName"`
	SupportEmail string `json:"supportEmail"`
	PrimaryColor string `json:"primaryColor"`
	LogoURL      string `json:"logoUrl"`
}

// EffectiveConfig is the fully merged, precedence-resolved configuration.
// It is an immutable snapshot: a new value is produced per Resolve call and
// callers must not mutate it.
type EffectiveConfig struct {
	CustomRulesURL      string
	UpdateInterval      int // hours, clamped to [1, 168]
	EnablePageBlocking  bool
	EnableCippReporting bool
	CippServerURL       string
	CippTenantID        string
	URLAllowlist        []string
	ExtraTrustedOrigins []string
	Branding            Branding
	Provenance          map[string]Layer
	ResolvedAt          time.Time
}

// LockedByPolicy reports whether a key is controlled by managed policy and
// therefore read-only in the UI.
func (c EffectiveConfig) LockedByPolicy(key string) bool {
	return c.Provenance[key] == LayerManaged
}

// Resolver merges the four configuration tiers into one EffectiveConfig.
// Branding defaults come from a bundled JSON file, local overrides from the
// settings table, and managed policy from a read-only YAML file supplied by
// enterprise tooling.
type Resolver struct {
	db           *gorm.DB
	brandingPath string
	managedPath  string
}

// NewResolver returns a Resolver using the provided DB and layer file paths.
func NewResolver(db *gorm.DB, brandingPath, managedPath string) *Resolver {
	return &Resolver{db: db, brandingPath: brandingPath, managedPath: managedPath}
}

// Resolve computes the effective configuration. It is a pure read: nothing is
// persisted. A layer that cannot be read is treated as absent so resolution
// always succeeds; only layer rank determines the outcome, never write order.
func (r *Resolver) Resolve() EffectiveConfig {
	merged := defaults()
	provenance := make(map[string]Layer, len(merged))
	for k := range merged {
		provenance[k] = LayerDefault
	}

	apply := func(layer Layer, values map[string]string) {
		for k, v := range values {
			if !isKnownKey(k) {
				continue
			}
			// An explicit empty customRulesUrl means "use the default feed",
			// not "no feed": treat it as unset so it falls through.
			if k == KeyCustomRulesURL && strings.TrimSpace(v) == "" {
				continue
			}
			merged[k] = v
			provenance[k] = layer
		}
	}

	apply(LayerBranding, r.brandingLayer())
	apply(LayerLocal, r.localLayer())
	apply(LayerManaged, r.managedLayer())

	return EffectiveConfig{
		CustomRulesURL:      merged[KeyCustomRulesURL],
		UpdateInterval:      clampInterval(merged[KeyUpdateInterval]),
		EnablePageBlocking:  parseBool(merged[KeyEnablePageBlocking]),
		EnableCippReporting: parseBool(merged[KeyEnableCippReporting]),
		CippServerURL:       merged[KeyCippServerURL],
		CippTenantID:        merged[KeyCippTenantID],
		URLAllowlist:        splitLines(merged[KeyURLAllowlist]),
		ExtraTrustedOrigins: splitLines(merged[KeyExtraTrustedOrigins]),
		Branding: Branding{
			CompanyName:  merged[KeyCompanyName],
			ProductName:  merged[KeyProductName],
			SupportEmail: merged[KeySupportEmail],
			PrimaryColor: merged[KeyPrimaryColor],
			LogoURL:      merged[KeyLogoURL],
		},
		Provenance: provenance,
		ResolvedAt: time.Now(),
	}
}

// UpdateConfig persists user intent to the local layer. Only deltas against
// the built-in defaults are stored: a value equal to its default removes the
// stored override entirely.
func (r *Resolver) UpdateConfig(partial map[string]string) error {
	base := defaults()
	for key, value := range partial {
		def, ok := base[key]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSettingKey, key)
		}
		if key == KeyUpdateInterval {
			if _, err := strconv.Atoi(strings.TrimSpace(value)); err != nil {
				return fmt.Errorf("setting %s: %w", key, err)
			}
		}

		if value == def {
			if err := r.db.Where("key = ?", key).Delete(&models.Setting{}).Error; err != nil {
				return fmt.Errorf("delete setting %s: %w", key, err)
			}
			continue
		}

		setting := models.Setting{Key: key, Value: value}
		if err := r.db.Where(models.Setting{Key: key}).Assign(setting).FirstOrCreate(&setting).Error; err != nil {
			return fmt.Errorf("save setting %s: %w", key, err)
		}
	}
	return nil
}

func (r *Resolver) brandingLayer() map[string]string {
	if r.brandingPath == "" {
		return nil
	}
	raw, err := os.ReadFile(r.brandingPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WithFields(map[string]interface{}{"path": r.brandingPath}).WithError(err).Warn("branding layer unreadable, skipping")
		}
		return nil
	}
	parsed := map[string]interface{}{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		logger.WithFields(map[string]interface{}{"path": r.brandingPath}).WithError(err).Warn("branding layer malformed, skipping")
		return nil
	}
	return stringify(parsed)
}

func (r *Resolver) localLayer() map[string]string {
	if r.db == nil {
		return nil
	}
	var rows []models.Setting
	if err := r.db.Find(&rows).Error; err != nil {
		logger.Log().WithError(err).Warn("local settings unreadable, skipping")
		return nil
	}
	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row.Key] = row.Value
	}
	return values
}

func (r *Resolver) managedLayer() map[string]string {
	if r.managedPath == "" {
		return nil
	}
	raw, err := os.ReadFile(r.managedPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WithFields(map[string]interface{}{"path": r.managedPath}).WithError(err).Warn("managed policy unreadable, skipping")
		}
		return nil
	}
	parsed := map[string]interface{}{}
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		logger.WithFields(map[string]interface{}{"path": r.managedPath}).WithError(err).Warn("managed policy malformed, skipping")
		return nil
	}
	return stringify(parsed)
}

// stringify flattens layer values to strings so merging works the same for
// JSON, YAML and DB-backed layers. Policy files may express booleans and
// intervals as native scalars, and list-valued keys (allowlists) as YAML
// sequences; sequences are joined with newlines, the same shape the list
// splitter expects. Unsupported values are dropped with a warning rather
// than merged as garbage.
func stringify(in map[string]interface{}) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		s, ok := stringifyValue(v)
		if !ok {
			logger.WithFields(map[string]interface{}{"key": k, "type": fmt.Sprintf("%T", v)}).
				Warn("unsupported policy value, skipping key")
			continue
		}
		out[k] = s
	}
	return out
}

func stringifyValue(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case []string:
		return strings.Join(val, "\n"), true
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := stringifyValue(item)
			if !ok {
				return "", false
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, "\n"), true
	default:
		return "", false
	}
}

func clampInterval(raw string) int {
	hours, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return DefaultUpdateIntervalHours
	}
	if hours < MinUpdateIntervalHours {
		return MinUpdateIntervalHours
	}
	if hours > MaxUpdateIntervalHours {
		return MaxUpdateIntervalHours
	}
	return hours
}

func parseBool(raw string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return v
}

func splitLines(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
