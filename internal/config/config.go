package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config captures runtime configuration sourced from environment variables.
// Detection policy (rule source, intervals, allowlist) is not configured here;
// it is resolved by the settings package from its layered sources.
type Config struct {
	Environment       string
	HTTPPort          string
	DatabasePath      string
	BrandingPath      string
	ManagedPolicyPath string
	JWTSecret         string
}

// Load reads env vars and falls back to defaults so the server can boot with zero configuration.
func Load() (Config, error) {
	cfg := Config{
		Environment:       getEnv("PG_ENV", "development"),
		HTTPPort:          getEnv("PG_HTTP_PORT", "8080"),
		DatabasePath:      getEnv("PG_DB_PATH", filepath.Join("data", "pageguard.db")),
		BrandingPath:      getEnv("PG_BRANDING_PATH", filepath.Join("data", "branding.json")),
		ManagedPolicyPath: getEnv("PG_MANAGED_POLICY_PATH", filepath.Join("data", "managed-policy.yaml")),
		JWTSecret:         os.Getenv("PG_JWT_SECRET"),
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure data directory: %w", err)
	}

	// Zero-config boots must still get unforgeable tokens: without a secret,
	// HS256 would sign with an empty key and anyone could mint admin JWTs.
	// Generate one and persist it next to the database so it survives restarts.
	if cfg.JWTSecret == "" {
		secret, err := loadOrCreateSecret(filepath.Join(filepath.Dir(cfg.DatabasePath), "jwt-secret"))
		if err != nil {
			return Config{}, fmt.Errorf("jwt secret: %w", err)
		}
		cfg.JWTSecret = secret
	}

	return cfg, nil
}

func loadOrCreateSecret(path string) (string, error) {
	if raw, err := os.ReadFile(path); err == nil {
		if secret := strings.TrimSpace(string(raw)); secret != "" {
			return secret, nil
		}
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	secret := hex.EncodeToString(buf)
	if err := os.WriteFile(path, []byte(secret), 0o600); err != nil {
		return "", err
	}
	return secret, nil
}

// IsProduction reports whether the server runs in production mode.
func (c Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}
