// Package ingest buffers evidence events on the host side and ships them to
// the trust sidecar in batches. Emission is fail-open: a sidecar outage must
// never take the host down with it.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/trustgate/trustgate/pkg/canonical"
)

// SchemaVersion is the event envelope version this emitter produces.
const SchemaVersion = "1.0.0"

const (
	DefaultBatchSize  = 10
	DefaultMaxRetries = 3
	DefaultTimeout    = 5 * time.Second
)

var requiredCommonFields = []string{
	"trace_id", "span_id", "parent_span_id", "ts",
	"host", "host_version", "session_id", "user_id",
}

// NewTraceID mints a sidecar-compatible trace identifier.
func NewTraceID() string {
	return "tr_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Config controls where and how batches are sent.
type Config struct {
	SidecarURL string
	Token      string
	JWTSecret  string
	BatchSize  int
	MaxRetries int
	Timeout    time.Duration
	Client     *http.Client
	Logger     *slog.Logger
}

// ConfigFromEnv reads the TRUST_* emitter settings.
func ConfigFromEnv() Config {
	return Config{
		SidecarURL: os.Getenv("TRUST_SIDECAR_URL"),
		Token:      os.Getenv("TRUST_INGEST_TOKEN"),
		JWTSecret:  os.Getenv("TRUST_JWT_SECRET"),
		BatchSize:  envInt("TRUST_INGEST_BATCH_SIZE", DefaultBatchSize),
		MaxRetries: envInt("TRUST_INGEST_MAX_RETRIES", DefaultMaxRetries),
	}
}

func envInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

// Emitter accumulates events and posts them once the batch size is reached.
type Emitter struct {
	mu      sync.Mutex
	pending []map[string]any

	cfg   Config
	sleep func(time.Duration)
	now   func() time.Time
}

// NewEmitter builds an emitter, applying defaults for unset config fields.
func NewEmitter(cfg Config) *Emitter {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Emitter{cfg: cfg, sleep: time.Sleep, now: time.Now}
}

// DefaultCommonFields assembles the shared envelope fields for one span.
func DefaultCommonFields(traceID, spanID string, parentSpanID *string, host, hostVersion, sessionID, userID string) map[string]any {
	var parent any
	if parentSpanID != nil {
		parent = *parentSpanID
	}
	return map[string]any{
		"trace_id":       traceID,
		"span_id":        spanID,
		"parent_span_id": parent,
		"ts":             time.Now().UTC().Format(time.RFC3339Nano),
		"host":           host,
		"host_version":   hostVersion,
		"session_id":     sessionID,
		"user_id":        userID,
		"schema_version": SchemaVersion,
	}
}

// Emit queues one event. The batch is flushed once it reaches the configured
// size; the flush error, if any, is returned so callers can log it.
func (e *Emitter) Emit(ctx context.Context, eventType string, common map[string]any, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	var missing []string
	for _, field := range requiredCommonFields {
		if _, ok := common[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("ingest: common fields missing required values: %s", strings.Join(missing, ", "))
	}

	event := make(map[string]any, len(common)+4)
	for k, v := range common {
		event[k] = v
	}
	event["event_type"] = eventType
	event["payload"] = payload
	event["payload_hash"] = canonical.MustHash(payload)
	if _, ok := event["schema_version"]; !ok {
		event["schema_version"] = SchemaVersion
	}

	e.mu.Lock()
	e.pending = append(e.pending, event)
	shouldFlush := len(e.pending) >= e.cfg.BatchSize
	e.mu.Unlock()

	if shouldFlush {
		return e.Flush(ctx)
	}
	return nil
}

// Flush sends all pending events. Events are removed from the buffer before
// sending so a slow sidecar cannot block new emissions.
func (e *Emitter) Flush(ctx context.Context) error {
	e.mu.Lock()
	if len(e.pending) == 0 {
		e.mu.Unlock()
		return nil
	}
	toSend := e.pending
	e.pending = nil
	e.mu.Unlock()

	if err := e.sendBatch(ctx, toSend); err != nil {
		e.cfg.Logger.Warn("evidence batch dropped", "count", len(toSend), "error", err)
		return err
	}
	return nil
}

// Pending reports the number of buffered events.
func (e *Emitter) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// ingestToken returns the static token if configured, otherwise a short-lived
// HS256 token with the ingest scope.
func (e *Emitter) ingestToken() (string, error) {
	if e.cfg.Token != "" {
		return e.cfg.Token, nil
	}
	if e.cfg.JWTSecret == "" {
		return "", fmt.Errorf("ingest: TRUST_INGEST_TOKEN or TRUST_JWT_SECRET must be configured")
	}
	now := e.now().Unix()
	claims := jwt.MapClaims{
		"sub":   "trust-evidence-adapter",
		"scope": "trust:ingest",
		"iat":   now,
		"exp":   now + 300,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(e.cfg.JWTSecret))
}

func (e *Emitter) sendBatch(ctx context.Context, events []map[string]any) error {
	if e.cfg.SidecarURL == "" {
		return fmt.Errorf("ingest: TRUST_SIDECAR_URL must be configured")
	}
	token, err := e.ingestToken()
	if err != nil {
		return err
	}
	body, err := json.Marshal(map[string]any{"events": events})
	if err != nil {
		return fmt.Errorf("ingest: encode batch: %w", err)
	}
	url := strings.TrimRight(e.cfg.SidecarURL, "/") + "/v1/events"

	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			e.sleep(200 * time.Millisecond * time.Duration(attempt))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("ingest: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.cfg.Client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		status := resp.StatusCode
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		if status < 300 {
			return nil
		}
		lastErr = fmt.Errorf("ingest: sidecar returned %d: %s", status, strings.TrimSpace(string(respBody)))
		// Client errors will not succeed on retry.
		if status < 500 {
			return lastErr
		}
	}
	return fmt.Errorf("ingest: batch send failed after %d attempts: %w", e.cfg.MaxRetries, lastErr)
}
