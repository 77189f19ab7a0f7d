package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadSidecarDefaults(t *testing.T) {
	for _, key := range []string{
		"SIDECAR_HOST", "SIDECAR_PORT", "TRUST_JWT_SECRET", "TRUST_EVIDENCE_MODE",
		"SIDECAR_DATABASE_URL", "TRUST_PACKS_DIR", "TRUST_RETENTION_DAYS",
	} {
		t.Setenv(key, "")
	}

	cfg := LoadSidecar()
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8085, cfg.Port)
	assert.Equal(t, "observe", cfg.Mode)
	assert.Equal(t, "sqlite:///trust_evidence_sidecar.db", cfg.DatabaseURL)
	assert.Equal(t, ".trust_packs", cfg.PacksDir)
	assert.Equal(t, 30, cfg.RetentionDays)
}

func TestLoadSidecarOverrides(t *testing.T) {
	t.Setenv("SIDECAR_PORT", "9090")
	t.Setenv("TRUST_JWT_HS256_SECRET", "")
	t.Setenv("TRUST_JWT_SECRET", "s3cret")
	t.Setenv("TRUST_EVIDENCE_MODE", "enforce")
	t.Setenv("TRUST_RETENTION_DAYS", "90")

	cfg := LoadSidecar()
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, "enforce", cfg.Mode)
	assert.Equal(t, 90, cfg.RetentionDays)
}

func TestLoadSidecarBadPortFallsBack(t *testing.T) {
	t.Setenv("SIDECAR_PORT", "not-a-port")
	cfg := LoadSidecar()
	assert.Equal(t, 8085, cfg.Port)
}

func TestLoadSidecarHS256SecretTakesPrecedence(t *testing.T) {
	t.Setenv("TRUST_JWT_HS256_SECRET", "primary")
	t.Setenv("TRUST_JWT_SECRET", "fallback")
	cfg := LoadSidecar()
	assert.Equal(t, "primary", cfg.JWTSecret)
}

func TestLoadHostDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "TRUST_STORE_BACKEND", "TRUST_STORE_FILESYSTEM_DIR",
		"TRUST_TRACE_DIR", "TRUST_PROFILES_DIR",
	} {
		t.Setenv(key, "")
	}
	cfg := LoadHost()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "filesystem", cfg.StoreBackend)
	assert.Equal(t, ".trust_traces", cfg.TraceDir)
	assert.Equal(t, "profiles", cfg.ProfilesDir)
}

func TestLoadHostStoreOverrides(t *testing.T) {
	t.Setenv("TRUST_STORE_BACKEND", "postgres")
	t.Setenv("TRUST_STORE_FILESYSTEM_DIR", "/var/traces")
	t.Setenv("TRUST_STORE_POSTGRES_DSN", "postgres://db/traces")
	cfg := LoadHost()
	assert.Equal(t, "postgres", cfg.StoreBackend)
	assert.Equal(t, "/var/traces", cfg.TraceDir)
	assert.Equal(t, "postgres://db/traces", cfg.PostgresDSN)
}

func TestParseDatabaseURL(t *testing.T) {
	driver, dsn := ParseDatabaseURL("sqlite:///trust.db")
	assert.Equal(t, "sqlite", driver)
	assert.Equal(t, "trust.db", dsn)

	driver, dsn = ParseDatabaseURL("postgres://user@db:5432/trust?sslmode=disable")
	assert.Equal(t, "postgres", driver)
	assert.Equal(t, "postgres://user@db:5432/trust?sslmode=disable", dsn)

	driver, dsn = ParseDatabaseURL("plain.db")
	assert.Equal(t, "sqlite", driver)
	assert.Equal(t, "plain.db", dsn)
}
