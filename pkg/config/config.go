// Package config loads environment settings for the host gate and the
// evidence sidecar, plus the per-domain YAML profiles the gate applies.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Host holds the host-side gate server configuration.
type Host struct {
	Port         string
	LogLevel     string
	StoreBackend string
	TraceDir     string
	PostgresDSN  string
	ProfilesDir  string
	SidecarURL   string
}

// Sidecar holds the evidence sidecar server configuration.
type Sidecar struct {
	Host          string
	Port          int
	JWTSecret     string
	JWTPublicKey  string
	JWTIssuer     string
	JWTAudience   string
	Mode          string
	DatabaseURL   string
	PacksDir      string
	RetentionDays int
	LogLevel      string
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

// LoadHost reads the host gate settings from the environment.
func LoadHost() *Host {
	return &Host{
		Port:         envOr("PORT", "8080"),
		LogLevel:     envOr("LOG_LEVEL", "INFO"),
		StoreBackend: envOr("TRUST_STORE_BACKEND", "filesystem"),
		TraceDir:     envOr("TRUST_STORE_FILESYSTEM_DIR", envOr("TRUST_TRACE_DIR", ".trust_traces")),
		PostgresDSN:  os.Getenv("TRUST_STORE_POSTGRES_DSN"),
		ProfilesDir:  envOr("TRUST_PROFILES_DIR", "profiles"),
		SidecarURL:   os.Getenv("TRUST_SIDECAR_URL"),
	}
}

// LoadSidecar reads the sidecar settings from the environment.
func LoadSidecar() *Sidecar {
	return &Sidecar{
		Host:          envOr("SIDECAR_HOST", "0.0.0.0"),
		Port:          envIntOr("SIDECAR_PORT", 8085),
		JWTSecret:     envOr("TRUST_JWT_HS256_SECRET", os.Getenv("TRUST_JWT_SECRET")),
		JWTPublicKey:  os.Getenv("TRUST_JWT_PUBLIC_KEY"),
		JWTIssuer:     os.Getenv("TRUST_JWT_ISSUER"),
		JWTAudience:   os.Getenv("TRUST_JWT_AUDIENCE"),
		Mode:          envOr("TRUST_EVIDENCE_MODE", "observe"),
		DatabaseURL:   envOr("SIDECAR_DATABASE_URL", "sqlite:///trust_evidence_sidecar.db"),
		PacksDir:      envOr("TRUST_PACKS_DIR", ".trust_packs"),
		RetentionDays: envIntOr("TRUST_RETENTION_DAYS", 30),
		LogLevel:      envOr("LOG_LEVEL", "INFO"),
	}
}

// ParseDatabaseURL splits a database URL into a driver name and DSN.
// sqlite:///file.db and sqlite:///:memory: select the embedded driver;
// postgres:// URLs pass through unchanged.
func ParseDatabaseURL(url string) (driver, dsn string) {
	switch {
	case strings.HasPrefix(url, "sqlite:///"):
		return "sqlite", strings.TrimPrefix(url, "sqlite:///")
	case strings.HasPrefix(url, "sqlite://"):
		return "sqlite", strings.TrimPrefix(url, "sqlite://")
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return "postgres", url
	default:
		return "sqlite", url
	}
}
