// Command trust-sidecar runs the evidence sidecar: authenticated event
// ingest, trace summaries, audit pack builds, legal holds, and retention.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/trustgate/trustgate/pkg/api"
	"github.com/trustgate/trustgate/pkg/auth"
	"github.com/trustgate/trustgate/pkg/config"
	"github.com/trustgate/trustgate/pkg/observability"
	"github.com/trustgate/trustgate/pkg/sidecar"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx := context.Background()
	cfg := config.LoadSidecar()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	validator, err := buildValidator(cfg)
	if err != nil {
		logger.Error("auth init failed", "error", err)
		return 1
	}

	telemetry, err := observability.New(ctx, &observability.Config{
		ServiceName:  "trust-sidecar",
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Enabled:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "",
		Insecure:     true,
		SampleRate:   1.0,
	})
	if err != nil {
		logger.Error("observability init failed", "error", err)
		return 1
	}
	defer func() { _ = telemetry.Shutdown(ctx) }()

	driver, dsn := config.ParseDatabaseURL(cfg.DatabaseURL)
	var store *sidecar.Store
	switch driver {
	case "postgres":
		store, err = sidecar.OpenPostgres(dsn)
	default:
		store, err = sidecar.OpenSQLite(dsn)
	}
	if err != nil {
		logger.Error("store init failed", "driver", driver, "error", err)
		return 1
	}
	logger.Info("store ready", "driver", driver)

	var idempotency api.IdempotencyStorer = api.NewIdempotencyStore(24 * time.Hour)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opts, parseErr := redis.ParseURL(redisURL)
		if parseErr != nil {
			logger.Error("invalid REDIS_URL", "error", parseErr)
			return 1
		}
		idempotency = api.NewRedisIdempotencyStore(redis.NewClient(opts), 24*time.Hour)
		logger.Info("idempotency backed by redis")
	}

	server := sidecar.NewServer(sidecar.ServerConfig{
		Store:         store,
		Validator:     validator,
		PacksDir:      cfg.PacksDir,
		RetentionDays: cfg.RetentionDays,
		Mode:          cfg.Mode,
		Logger:        logger,
		RateLimiter:   auth.NewActorRateLimiter(50, 100),
		Idempotency:   idempotency,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           auth.CORSMiddleware(nil)(server.Routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("sidecar listening", "addr", addr, "mode", cfg.Mode, "retention_days", cfg.RetentionDays)
		errCh <- httpServer.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server failed: %v", err)
			return 1
		}
	case <-sigChan:
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}
	return 0
}

// buildValidator selects RS256 when a public key is configured, else HS256.
func buildValidator(cfg *config.Sidecar) (*auth.Validator, error) {
	if cfg.JWTPublicKey != "" {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.JWTPublicKey))
		if err != nil {
			return nil, fmt.Errorf("parse TRUST_JWT_PUBLIC_KEY: %w", err)
		}
		return auth.NewRS256Validator(key, cfg.JWTIssuer, cfg.JWTAudience), nil
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("TRUST_JWT_HS256_SECRET not configured")
	}
	return auth.NewHS256Validator([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTAudience), nil
}

func logLevel(raw string) slog.Level {
	switch raw {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
