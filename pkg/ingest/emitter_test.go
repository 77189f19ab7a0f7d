package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustgate/trustgate/pkg/canonical"
)

func commonFields(traceID string) map[string]any {
	return DefaultCommonFields(traceID, "sp-1", nil, "onyx", "1.4.0", "sess-1", "user-1")
}

func newCapturingServer(t *testing.T, status int, batches *[][]map[string]any, tokens *[]string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Events []map[string]any `json:"events"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if batches != nil {
			*batches = append(*batches, body.Events)
		}
		if tokens != nil {
			*tokens = append(*tokens, r.Header.Get("Authorization"))
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestNewTraceIDFormat(t *testing.T) {
	id := NewTraceID()
	assert.True(t, strings.HasPrefix(id, "tr_"))
	assert.Len(t, id, 3+32)
	assert.NotEqual(t, id, NewTraceID())
}

func TestEmitBuffersUntilBatchSize(t *testing.T) {
	var batches [][]map[string]any
	ts := newCapturingServer(t, http.StatusOK, &batches, nil)

	e := NewEmitter(Config{SidecarURL: ts.URL, Token: "static", BatchSize: 3})
	for i := 0; i < 2; i++ {
		require.NoError(t, e.Emit(context.Background(), "tool_call", commonFields("tr_a"), map[string]any{"n": i}))
	}
	assert.Equal(t, 2, e.Pending())
	assert.Empty(t, batches)

	require.NoError(t, e.Emit(context.Background(), "tool_call", commonFields("tr_a"), map[string]any{"n": 2}))
	assert.Equal(t, 0, e.Pending())
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 3)
}

func TestEmitSetsEnvelopeFields(t *testing.T) {
	var batches [][]map[string]any
	ts := newCapturingServer(t, http.StatusOK, &batches, nil)

	e := NewEmitter(Config{SidecarURL: ts.URL, Token: "static", BatchSize: 1})
	payload := map[string]any{"tool": "search_docs"}
	require.NoError(t, e.Emit(context.Background(), "tool_call", commonFields("tr_b"), payload))

	require.Len(t, batches, 1)
	event := batches[0][0]
	assert.Equal(t, "tool_call", event["event_type"])
	assert.Equal(t, SchemaVersion, event["schema_version"])
	assert.Equal(t, canonical.MustHash(payload), event["payload_hash"])
	assert.Equal(t, "tr_b", event["trace_id"])
}

func TestEmitRejectsMissingCommonFields(t *testing.T) {
	e := NewEmitter(Config{SidecarURL: "http://unused", Token: "static"})
	fields := commonFields("tr_c")
	delete(fields, "session_id")
	delete(fields, "host")

	err := e.Emit(context.Background(), "tool_call", fields, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host, session_id")
}

func TestFlushEmptyIsNoop(t *testing.T) {
	e := NewEmitter(Config{SidecarURL: "http://unused", Token: "static"})
	require.NoError(t, e.Flush(context.Background()))
}

func TestMintedTokenCarriesIngestScope(t *testing.T) {
	var tokens []string
	ts := newCapturingServer(t, http.StatusOK, nil, &tokens)

	e := NewEmitter(Config{SidecarURL: ts.URL, JWTSecret: "emitter-secret", BatchSize: 1})
	require.NoError(t, e.Emit(context.Background(), "tool_call", commonFields("tr_d"), nil))

	require.Len(t, tokens, 1)
	raw := strings.TrimPrefix(tokens[0], "Bearer ")
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte("emitter-secret"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "trust-evidence-adapter", claims["sub"])
	assert.Equal(t, "trust:ingest", claims["scope"])
	exp, _ := claims["exp"].(float64)
	iat, _ := claims["iat"].(float64)
	assert.EqualValues(t, 300, exp-iat)
}

func TestSendRetriesOnServerErrors(t *testing.T) {
	var calls atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(ts.Close)

	var slept []time.Duration
	e := NewEmitter(Config{SidecarURL: ts.URL, Token: "static", BatchSize: 1, MaxRetries: 3})
	e.sleep = func(d time.Duration) { slept = append(slept, d) }

	require.NoError(t, e.Emit(context.Background(), "tool_call", commonFields("tr_e"), nil))
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}, slept)
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	t.Cleanup(ts.Close)

	e := NewEmitter(Config{SidecarURL: ts.URL, Token: "static", BatchSize: 1, MaxRetries: 3})
	e.sleep = func(time.Duration) {}

	err := e.Emit(context.Background(), "tool_call", commonFields("tr_f"), nil)
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestSendGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(ts.Close)

	e := NewEmitter(Config{SidecarURL: ts.URL, Token: "static", BatchSize: 1, MaxRetries: 2})
	e.sleep = func(time.Duration) {}

	err := e.Emit(context.Background(), "tool_call", commonFields("tr_g"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.EqualValues(t, 2, calls.Load())
}

func TestFlushFailureDropsEvents(t *testing.T) {
	e := NewEmitter(Config{Token: "static", BatchSize: 1, MaxRetries: 1})
	e.sleep = func(time.Duration) {}

	err := e.Emit(context.Background(), "tool_call", commonFields("tr_h"), nil)
	require.Error(t, err)
	assert.Equal(t, 0, e.Pending())
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("TRUST_SIDECAR_URL", "http://sidecar:8085")
	t.Setenv("TRUST_INGEST_TOKEN", "tok")
	t.Setenv("TRUST_JWT_SECRET", "sec")
	t.Setenv("TRUST_INGEST_BATCH_SIZE", "25")
	t.Setenv("TRUST_INGEST_MAX_RETRIES", "bogus")

	cfg := ConfigFromEnv()
	assert.Equal(t, "http://sidecar:8085", cfg.SidecarURL)
	assert.Equal(t, "tok", cfg.Token)
	assert.Equal(t, "sec", cfg.JWTSecret)
	assert.Equal(t, 25, cfg.BatchSize)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
}
