package sidecar

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/trustgate/trustgate/pkg/api"
	"github.com/trustgate/trustgate/pkg/auth"
)

// ServerConfig wires the sidecar HTTP surface.
type ServerConfig struct {
	Store         *Store
	Validator     *auth.Validator
	PacksDir      string
	RetentionDays int
	Mode          string
	Logger        *slog.Logger
	RateLimiter   *auth.ActorRateLimiter
	Idempotency   api.IdempotencyStorer
}

// Server exposes the sidecar's versioned HTTP API.
type Server struct {
	store         *Store
	validator     *auth.Validator
	packsDir      string
	retentionDays int
	mode          string
	logger        *slog.Logger
	rateLimiter   *auth.ActorRateLimiter
	idempotency   api.IdempotencyStorer
	now           func() time.Time
}

// NewServer builds a server from config, applying defaults.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retentionDays := cfg.RetentionDays
	if retentionDays <= 0 {
		retentionDays = 30
	}
	mode := cfg.Mode
	if mode == "" {
		mode = "observe"
	}
	packsDir := cfg.PacksDir
	if packsDir == "" {
		packsDir = ".trust_packs"
	}
	return &Server{
		store:         cfg.Store,
		validator:     cfg.Validator,
		packsDir:      packsDir,
		retentionDays: retentionDays,
		mode:          mode,
		logger:        logger,
		rateLimiter:   cfg.RateLimiter,
		idempotency:   cfg.Idempotency,
		now:           time.Now,
	}
}

// Routes assembles the handler chain.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)

	// Chain order is authenticate, rate limit, idempotent replay, scope check.
	protect := func(guard func(http.Handler) http.Handler, h http.HandlerFunc, idempotent bool) http.Handler {
		var handler http.Handler = guard(h)
		if idempotent && s.idempotency != nil {
			handler = api.IdempotencyMiddleware(s.idempotency)(handler)
		}
		if s.rateLimiter != nil {
			handler = s.rateLimiter.Middleware(handler)
		}
		return auth.Authenticate(s.validator)(handler)
	}

	mux.Handle("POST /v1/events", protect(auth.RequireScope(auth.ScopeIngest), s.handleIngest, true))
	mux.Handle("GET /v1/traces/{trace_id}", protect(auth.RequireScope(auth.ScopeRead), s.handleGetTrace, false))
	mux.Handle("POST /v1/traces/{trace_id}/audit-pack", protect(auth.RequireScope(auth.ScopeExport), s.handleCreatePack, false))
	mux.Handle("GET /v1/audit-packs/{pack_id}/download",
		protect(auth.RequireAnyScope(auth.ScopeRead, auth.ScopeExport), s.handleDownloadPack, false))
	mux.Handle("POST /v1/admin/traces/{trace_id}/legal-hold", protect(auth.RequireScope(auth.ScopeAdmin), s.handlePlaceHold, false))
	mux.Handle("DELETE /v1/admin/traces/{trace_id}/legal-hold", protect(auth.RequireScope(auth.ScopeAdmin), s.handleReleaseHold, false))
	mux.Handle("POST /v1/admin/retention/run", protect(auth.RequireScope(auth.ScopeAdmin), s.handleRunRetention, false))

	return auth.RequestIDMiddleware(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "mode": s.mode})
}

type ingestRequest struct {
	Events []json.RawMessage `json:"events"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var body ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.WriteUnprocessable(w, "request body must be a JSON object")
		return
	}
	if body.Events == nil {
		api.WriteUnprocessable(w, "events must be an array")
		return
	}

	inserted, err := s.store.IngestBatch(body.Events)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			api.WriteUnprocessable(w, verr.Detail)
			return
		}
		api.WriteInternal(w, err)
		return
	}
	s.logger.Info("events ingested", "count", inserted)
	api.WriteJSON(w, http.StatusOK, map[string]any{"status": "accepted", "inserted": inserted})
}

func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	summary, err := s.store.GetTraceSummary(r.PathValue("trace_id"))
	if err != nil {
		if errors.Is(err, ErrTraceNotFound) {
			api.WriteNotFound(w, "Trace not found")
			return
		}
		api.WriteInternal(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, summary)
}

func (s *Server) handleCreatePack(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("trace_id")
	if _, err := s.store.GetTraceSummary(traceID); err != nil {
		if errors.Is(err, ErrTraceNotFound) {
			api.WriteNotFound(w, "Trace not found")
			return
		}
		api.WriteInternal(w, err)
		return
	}

	packID := NewPackID(traceID)
	if err := s.store.CreateAuditPackRecord(traceID, packID, "queued"); err != nil {
		api.WriteInternal(w, err)
		return
	}
	zipPath, err := BuildPack(s.store, traceID, packID, s.packsDir)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	if err := s.store.MarkAuditPackReady(packID, zipPath); err != nil {
		api.WriteInternal(w, err)
		return
	}

	s.logger.Info("audit pack built", "trace_id", traceID, "pack_id", packID)
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"trace_id": traceID,
		"pack_id":  packID,
		"status":   "ready",
	})
}

func (s *Server) handleDownloadPack(w http.ResponseWriter, r *http.Request) {
	packID := r.PathValue("pack_id")
	record, err := s.store.GetAuditPackRecord(packID)
	if err != nil {
		if errors.Is(err, ErrPackNotFound) {
			api.WriteNotFound(w, "Audit pack not found")
			return
		}
		api.WriteInternal(w, err)
		return
	}
	if record.Status != "ready" || record.StoragePath == nil || *record.StoragePath == "" {
		api.WriteConflict(w, "Audit pack is not ready")
		return
	}
	if _, err := os.Stat(*record.StoragePath); err != nil {
		api.WriteNotFound(w, "Audit pack file not found")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+packID+`.zip"`)
	http.ServeFile(w, r, *record.StoragePath)
}

func (s *Server) setHold(w http.ResponseWriter, traceID string, enabled bool) {
	if err := s.store.SetLegalHold(traceID, enabled); err != nil {
		if errors.Is(err, ErrTraceNotFound) {
			api.WriteNotFound(w, "Trace not found")
			return
		}
		api.WriteInternal(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"trace_id": traceID, "legal_hold": enabled})
}

func (s *Server) handlePlaceHold(w http.ResponseWriter, r *http.Request) {
	s.setHold(w, r.PathValue("trace_id"), true)
}

func (s *Server) handleReleaseHold(w http.ResponseWriter, r *http.Request) {
	s.setHold(w, r.PathValue("trace_id"), false)
}

func (s *Server) handleRunRetention(w http.ResponseWriter, r *http.Request) {
	result, err := s.store.RunRetention(s.retentionDays, s.now())
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	s.logger.Info("retention sweep completed",
		"deleted_traces", result.DeletedTraces,
		"deleted_packs", result.DeletedPacks,
		"deleted_pack_files", result.DeletedPackFiles)
	api.WriteJSON(w, http.StatusOK, result)
}
