package sidecar

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustgate/trustgate/pkg/api"
	"github.com/trustgate/trustgate/pkg/auth"
)

var serverSecret = []byte("sidecar-test-secret")

func mintScopedToken(t *testing.T, scope string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   "svc-test",
		"iss":   "trustgate",
		"aud":   "trust-sidecar",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(5 * time.Minute).Unix(),
		"scope": scope,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(serverSecret)
	require.NoError(t, err)
	return token
}

func newTestServer(t *testing.T, mutate func(*ServerConfig)) (*httptest.Server, *Store) {
	t.Helper()
	store := newTestStore(t)
	cfg := ServerConfig{
		Store:     store,
		Validator: auth.NewHS256Validator(serverSecret, "trustgate", "trust-sidecar"),
		PacksDir:  t.TempDir(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	ts := httptest.NewServer(NewServer(cfg).Routes())
	t.Cleanup(ts.Close)
	return ts, store
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealthRequiresNoAuth(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/v1/health")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "observe", body["mode"])
}

func TestIngestEndpoint(t *testing.T) {
	ts, store := newTestServer(t, nil)
	token := mintScopedToken(t, "trust:ingest")

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/events", token, map[string]any{
		"events": []any{
			json.RawMessage(rawEvent(t, "tr_api", "sp-1", "retrieval_batch", map[string]any{"documents": []any{"d1"}}, nil)),
			json.RawMessage(rawEvent(t, "tr_api", "sp-2", "citations_resolved", map[string]any{"citations": []any{}}, nil)),
		},
	})
	body := decodeBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "accepted", body["status"])
	assert.EqualValues(t, 2, body["inserted"])

	summary, err := store.GetTraceSummary("tr_api")
	require.NoError(t, err)
	assert.Equal(t, "complete", summary.EvidenceStatus)
}

func TestIngestRequiresIngestScope(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/events", mintScopedToken(t, "trust:read"), map[string]any{"events": []any{}})
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/events", "", map[string]any{"events": []any{}})
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIngestRejectsHashMismatchWith422(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/events", mintScopedToken(t, "trust:ingest"), map[string]any{
		"events": []any{
			json.RawMessage(rawEvent(t, "tr_bad", "sp-1", "tool_call", map[string]any{"tool": "x"}, func(e map[string]any) {
				e["payload_hash"] = "deadbeef"
			})),
		},
	})
	body := decodeBody(t, resp)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "payload_hash does not match canonical payload hash", body["detail"])
}

func TestIngestRejectsMissingEventsArray(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/events", mintScopedToken(t, "trust:ingest"), map[string]any{})
	body := decodeBody(t, resp)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "events must be an array", body["detail"])
}

func TestGetTraceEndpoint(t *testing.T) {
	ts, store := newTestServer(t, nil)
	seedPackTrace(t, store, "tr_read")

	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/traces/tr_read", mintScopedToken(t, "trust:read"), nil)
	body := decodeBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "tr_read", body["trace_id"])
	assert.EqualValues(t, 4, body["total_events"])

	resp = doJSON(t, http.MethodGet, ts.URL+"/v1/traces/tr_unknown", mintScopedToken(t, "trust:read"), nil)
	body = decodeBody(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Trace not found", body["detail"])
}

func TestCreateAndDownloadAuditPack(t *testing.T) {
	ts, store := newTestServer(t, nil)
	seedPackTrace(t, store, "tr_export")

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/traces/tr_export/audit-pack", mintScopedToken(t, "trust:export"), nil)
	body := decodeBody(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", body["status"])
	packID, _ := body["pack_id"].(string)
	assert.True(t, strings.HasPrefix(packID, "pack_tr_export_"))

	for _, scope := range []string{"trust:read", "trust:export"} {
		resp = doJSON(t, http.MethodGet, ts.URL+"/v1/audit-packs/"+packID+"/download", mintScopedToken(t, scope), nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, scope)
		assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
		assert.Contains(t, resp.Header.Get("Content-Disposition"), packID+".zip")
		resp.Body.Close()
	}
}

func TestDownloadPackNotReady(t *testing.T) {
	ts, store := newTestServer(t, nil)
	seedPackTrace(t, store, "tr_queued")
	require.NoError(t, store.CreateAuditPackRecord("tr_queued", "pack_tr_queued_1", "queued"))

	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/audit-packs/pack_tr_queued_1/download", mintScopedToken(t, "trust:read"), nil)
	body := decodeBody(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "Audit pack is not ready", body["detail"])
}

func TestDownloadPackUnknown(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/audit-packs/pack_none/download", mintScopedToken(t, "trust:read"), nil)
	body := decodeBody(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Audit pack not found", body["detail"])
}

func TestCreatePackUnknownTrace(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/traces/tr_none/audit-pack", mintScopedToken(t, "trust:export"), nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLegalHoldEndpoints(t *testing.T) {
	ts, store := newTestServer(t, nil)
	seedPackTrace(t, store, "tr_hold")
	admin := mintScopedToken(t, "trust:admin")

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/admin/traces/tr_hold/legal-hold", admin, nil)
	body := decodeBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["legal_hold"])

	summary, err := store.GetTraceSummary("tr_hold")
	require.NoError(t, err)
	assert.True(t, summary.LegalHold)

	resp = doJSON(t, http.MethodDelete, ts.URL+"/v1/admin/traces/tr_hold/legal-hold", admin, nil)
	body = decodeBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["legal_hold"])

	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/admin/traces/tr_hold/legal-hold", mintScopedToken(t, "trust:export"), nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRetentionEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, func(cfg *ServerConfig) {
		cfg.RetentionDays = 7
	})
	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/admin/retention/run", mintScopedToken(t, "trust:admin"), nil)
	body := decodeBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 7, body["retention_days"])
}

func TestIngestIdempotencyReplay(t *testing.T) {
	ts, store := newTestServer(t, func(cfg *ServerConfig) {
		cfg.Idempotency = api.NewIdempotencyStore(time.Minute)
	})
	token := mintScopedToken(t, "trust:ingest")
	payload := map[string]any{
		"events": []any{
			json.RawMessage(rawEvent(t, "tr_idem", "sp-1", "tool_call", nil, nil)),
		},
	}

	for i := 0; i < 2; i++ {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/events", bytes.NewReader(raw))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Idempotency-Key", "batch-key-1")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}

	summary, err := store.GetTraceSummary("tr_idem")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalEvents)
}
