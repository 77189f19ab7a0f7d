package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/trustgate/trustgate/pkg/api"
	"github.com/trustgate/trustgate/pkg/auditpack"
	"github.com/trustgate/trustgate/pkg/auth"
	"github.com/trustgate/trustgate/pkg/config"
	"github.com/trustgate/trustgate/pkg/gate"
	"github.com/trustgate/trustgate/pkg/hostadapter"
	"github.com/trustgate/trustgate/pkg/killswitch"
	"github.com/trustgate/trustgate/pkg/observability"
	"github.com/trustgate/trustgate/pkg/tracestore"
)

// chatTurn is the host pipeline's completed turn as posted to the gate.
type chatTurn struct {
	Answer          string           `json:"answer"`
	ChatSessionID   string           `json:"chat_session_id"`
	MessageID       string           `json:"message_id"`
	Origin          string           `json:"origin"`
	Domain          string           `json:"domain"`
	TopDocuments    []documentInput  `json:"top_documents"`
	ToolCalls       []toolCallInput  `json:"tool_calls"`
	RawEvidence     []map[string]any `json:"retrieved_evidence"`
	RawModelOutput  any              `json:"raw_model_output,omitempty"`
	HostContext     map[string]any   `json:"host_context,omitempty"`
	StreamRequested bool             `json:"stream_requested,omitempty"`
}

// rawOutput surfaces ungated model output smuggled in either the turn itself
// or the host context it carries.
func (t *chatTurn) rawOutput() any {
	if t.RawModelOutput != nil {
		return t.RawModelOutput
	}
	if t.HostContext != nil {
		return t.HostContext["raw_model_output"]
	}
	return nil
}

type documentInput struct {
	DocumentID         string         `json:"document_id"`
	SemanticIdentifier string         `json:"semantic_identifier"`
	Link               string         `json:"link"`
	Blurb              string         `json:"blurb"`
	Score              float64        `json:"score"`
	Metadata           map[string]any `json:"metadata"`
}

type toolCallInput struct {
	ToolName   string          `json:"tool_name"`
	SearchDocs []documentInput `json:"search_docs"`
}

func (t *chatTurn) chatResult() *hostadapter.ChatResult {
	result := &hostadapter.ChatResult{
		Answer:        t.Answer,
		ChatSessionID: t.ChatSessionID,
		MessageID:     t.MessageID,
	}
	for _, d := range t.TopDocuments {
		result.TopDocuments = append(result.TopDocuments, hostadapter.Document(d))
	}
	for _, c := range t.ToolCalls {
		call := hostadapter.ToolCall{ToolName: c.ToolName}
		for _, d := range c.SearchDocs {
			call.SearchDocs = append(call.SearchDocs, hostadapter.Document(d))
		}
		result.ToolCalls = append(result.ToolCalls, call)
	}
	return result
}

// traceStore is the store surface the host server needs: the persistence
// contract plus enumeration for message-id lookups and retention.
type traceStore interface {
	tracestore.Store
	List() ([]string, error)
}

type hostServer struct {
	gate      *gate.Gate
	store     traceStore
	exporter  *auditpack.Exporter
	controls  gate.Controls
	profiles  map[string]*config.DomainProfile
	telemetry *observability.Provider
	logger    *slog.Logger
}

func openTraceStore(cfg *config.Host) (traceStore, error) {
	if cfg.StoreBackend == "postgres" {
		if cfg.PostgresDSN == "" {
			return nil, errors.New("TRUST_STORE_POSTGRES_DSN not configured")
		}
		return tracestore.OpenPostgres(cfg.PostgresDSN)
	}
	return tracestore.NewFileStore(cfg.TraceDir)
}

func newHostServer(cfg *config.Host, controls gate.Controls, telemetry *observability.Provider) (*hostServer, error) {
	store, err := openTraceStore(cfg)
	if err != nil {
		return nil, err
	}
	holds, err := tracestore.NewLegalHoldStore(filepath.Join(cfg.TraceDir, "holds"))
	if err != nil {
		return nil, err
	}

	profiles, err := config.LoadAllDomainProfiles(cfg.ProfilesDir)
	if err != nil {
		profiles = map[string]*config.DomainProfile{}
	}

	return &hostServer{
		gate:      gate.New(gate.Config{Store: store, LegalHold: holds}),
		store:     store,
		exporter:  auditpack.NewExporter(store, holds),
		controls:  controls,
		profiles:  profiles,
		telemetry: telemetry,
		logger:    slog.Default().With("component", "host-server"),
	}, nil
}

func (s *hostServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"enabled": s.controls.Enabled,
			"mode":    s.controls.Mode,
		})
	})
	mux.HandleFunc("POST /trust/send-chat-message", s.handleSendChat)
	mux.HandleFunc("POST /trust/stream-chat-message", s.handleStreamChat)
	mux.HandleFunc("GET /trust/audit-packs/{trace_id}", s.handleAuditPack)
	mux.HandleFunc("GET /trust/evidence-trace", s.handleEvidenceTraceByMessage)
	mux.HandleFunc("GET /trust/evidence-trace/{trace_id}", s.handleEvidenceTrace)
	mux.HandleFunc("POST /trust/admin/kill-switch", s.handleKillSwitchActivate)
	mux.HandleFunc("DELETE /trust/admin/kill-switch", s.handleKillSwitchClear)

	limiter := api.NewGlobalRateLimiter(100, 200)
	return auth.RequestIDMiddleware(limiter.Middleware(mux))
}

// gateTurn runs the gate over a posted turn and returns the serialized
// contract payload.
func (s *hostServer) gateTurn(ctx context.Context, turn *chatTurn, streaming bool) ([]byte, *gate.Response, error) {
	spanCtx, done := s.telemetry.TrackOperation(ctx, "gate.evaluate")

	// Streaming through the sanctioned endpoint is gated as a whole turn, so
	// only the non-streaming endpoint treats a stream request as a bypass.
	if err := gate.AssertNoBypassInputs(turn.rawOutput(), !streaming && turn.StreamRequested); err != nil {
		done(err)
		return nil, nil, err
	}

	result := turn.chatResult()
	req := &hostadapter.ChatRequest{Stream: streaming, Origin: turn.Origin, RequestPath: "/trust/send-chat-message"}
	if streaming {
		req.RequestPath = "/trust/stream-chat-message"
	}

	reqCtx := hostadapter.RequestContext(result, req, s.controls)
	if profile, ok := s.profiles[turn.Domain]; ok {
		profile.Apply(&reqCtx)
	} else if turn.Domain != "" {
		reqCtx.Domain = turn.Domain
	}
	if streaming && !s.controls.EnforceOnStreaming {
		reqCtx.FailureModes = append(reqCtx.FailureModes, gate.FailureStreamingBypassed)
	}

	evidenceList := turn.RawEvidence
	if evidenceList == nil {
		evidenceList = hostadapter.RetrievedEvidence(result)
	}

	response, err := s.gate.GateResponse(hostadapter.DraftAnswer(result), evidenceList, reqCtx)
	if err != nil {
		done(err)
		return nil, nil, err
	}

	payload := response.Contract()
	serialized, err := json.Marshal(payload)
	if err != nil {
		done(err)
		return nil, nil, err
	}
	if err := gate.AssertContractShape(serialized); err != nil {
		done(err)
		return nil, nil, err
	}

	s.telemetry.RecordDecision(spanCtx, payload.Decision, s.controls.Mode)
	s.telemetry.RecordSuppressedClaims(spanCtx, response.DecisionRecord.Metrics.NumClaimsUnsupported)
	done(nil)
	return serialized, response, nil
}

// errorContract builds a contract-shaped refusal for a turn the gate rejected
// before producing a response. A bypass attempt is recorded as a CRITICAL
// incident, which arms the system halt.
func (s *hostServer) errorContract(gateErr error) []byte {
	failureMode := "endpoint_error"
	if strings.Contains(gateErr.Error(), killswitch.IncidentGateBypassAttempt) {
		failureMode = killswitch.IncidentGateBypassAttempt
	}

	traceID := uuid.NewString()
	now := time.Now().UTC()
	incidents := killswitch.ClassifyIncidents(s.gate.Switch(), traceID, []string{failureMode}, 0, true, now)
	if failureMode == killswitch.IncidentGateBypassAttempt {
		s.logger.Error("gate bypass attempt blocked", "trace_id", traceID)
	} else {
		s.logger.Error("request gating failed", "trace_id", traceID, "error", gateErr)
	}

	answer := "REFUSE: Request failed: " + gateErr.Error()
	payload := gate.ContractPayload{
		ContractVersion: "1.0",
		Decision:        "REFUSE",
		Answer:          answer,
		Citations:       make([]gate.Citation, 0),
		Attribution:     make([]gate.AttributionItem, 0),
		AuditPackRef:    "/trust/audit-packs/" + traceID,
		PolicyTrace:     make([]gate.PolicyTraceEntry, 0),
		FailureMode:     failureMode,
		AnswerText:      answer,
		DecisionRecord: gate.DecisionRecord{
			Incidents:    incidents,
			FailureModes: []string{failureMode},
			Timestamps:   map[string]string{"gated_at": now.Format(time.RFC3339Nano)},
		},
		TraceID: traceID,
	}
	serialized, err := json.Marshal(payload)
	if err != nil {
		serialized = []byte(`{}`)
	}
	return serialized
}

func (s *hostServer) writeErrorContract(w http.ResponseWriter, gateErr error) {
	serialized := s.errorContract(gateErr)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(serialized)
}

func decodeTurn(w http.ResponseWriter, r *http.Request) (*chatTurn, bool) {
	var turn chatTurn
	if err := json.NewDecoder(r.Body).Decode(&turn); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return nil, false
	}
	return &turn, true
}

func (s *hostServer) handleSendChat(w http.ResponseWriter, r *http.Request) {
	turn, ok := decodeTurn(w, r)
	if !ok {
		return
	}

	if !s.controls.Active() {
		api.WriteJSON(w, http.StatusOK, map[string]any{"answer": turn.Answer})
		return
	}

	serialized, _, err := s.gateTurn(r.Context(), turn, false)
	if err != nil {
		s.writeErrorContract(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(serialized)
}

// handleStreamChat gates the turn, then streams the contract as a single
// SSE event. Raw model tokens never cross this boundary.
func (s *hostServer) handleStreamChat(w http.ResponseWriter, r *http.Request) {
	turn, ok := decodeTurn(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeEvent := func(frame map[string]any) {
		raw, _ := json.Marshal(frame)
		fmt.Fprintf(w, "data: %s\n\n", raw)
	}
	writeEvent(map[string]any{"type": "processing", "status": "running"})
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	if !s.controls.Active() {
		writeEvent(map[string]any{"type": "final", "payload": map[string]any{"answer": turn.Answer}})
		writeEvent(map[string]any{"type": "done"})
		return
	}

	serialized, _, err := s.gateTurn(r.Context(), turn, true)
	if err != nil {
		serialized = s.errorContract(err)
	}
	fmt.Fprintf(w, "data: {\"type\": \"final\", \"payload\": %s}\n\n", serialized)
	writeEvent(map[string]any{"type": "done"})
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (s *hostServer) handleAuditPack(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("trace_id")
	ctx, done := s.telemetry.TrackOperation(r.Context(), "auditpack.export",
		observability.AttrTraceID.String(traceID))

	zipPath, err := s.exporter.Export(traceID, "")
	done(err)
	switch {
	case err == nil:
	case errors.Is(err, tracestore.ErrNotFound):
		api.WriteNotFound(w, "Trace not found")
		return
	case errors.Is(err, auditpack.ErrHashMismatch),
		errors.Is(err, auditpack.ErrChainInvalid),
		errors.Is(err, auditpack.ErrTraceMismatch),
		errors.Is(err, auditpack.ErrMalformed):
		api.WriteUnprocessable(w, "Trace integrity verification failed")
		return
	default:
		api.WriteInternal(w, err)
		return
	}

	s.telemetry.RecordPackExport(ctx, traceID)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "audit_pack_"+traceID+".zip"))
	http.ServeFile(w, r, zipPath)
}

// handleEvidenceTrace returns a stored trace. A caller bound to a different
// chat session gets 404, not 403, so trace ids cannot be probed.
func (s *hostServer) handleEvidenceTrace(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("trace_id")
	record, err := s.store.Load(traceID)
	if err != nil {
		api.WriteNotFound(w, "Trace not found")
		return
	}

	if callerSession := r.Header.Get("X-Chat-Session-Id"); callerSession != "" {
		if meta, ok := record.Context["request_metadata"].(map[string]any); ok {
			if session, ok := meta["chat_session_id"].(string); ok && session != "" && session != callerSession {
				api.WriteNotFound(w, "Trace not found")
				return
			}
		}
	}
	api.WriteJSON(w, http.StatusOK, record)
}

// handleEvidenceTraceByMessage resolves a message id to its trace and returns
// the per-message evidence and citation view. Unknown or cross-session
// message ids get 404.
func (s *hostServer) handleEvidenceTraceByMessage(w http.ResponseWriter, r *http.Request) {
	messageID := r.URL.Query().Get("message_id")
	if messageID == "" {
		api.WriteBadRequest(w, "message_id is required")
		return
	}

	ids, err := s.store.List()
	if err != nil {
		api.WriteInternal(w, err)
		return
	}

	callerSession := r.Header.Get("X-Chat-Session-Id")
	for _, id := range ids {
		record, err := s.store.Load(id)
		if err != nil {
			continue
		}
		meta, _ := record.Context["request_metadata"].(map[string]any)
		if meta == nil {
			continue
		}
		if recorded, _ := meta["message_id"].(string); recorded != messageID {
			continue
		}
		if session, _ := meta["chat_session_id"].(string); callerSession != "" && session != "" && session != callerSession {
			api.WriteNotFound(w, "Message not found")
			return
		}

		bundle, _ := record.Response["evidence_bundle_user"].(map[string]any)
		sources, _ := bundle["sources"].([]any)
		api.WriteJSON(w, http.StatusOK, map[string]any{
			"context": map[string]any{
				"trace_id":        record.TraceID,
				"chat_session_id": meta["chat_session_id"],
				"message_id":      messageID,
			},
			"retrieval_trace": map[string]any{"top_k": len(sources)},
			"evidence_items":  sources,
			"citations":       bundle["citations"],
			"trust_warnings":  []string{},
		})
		return
	}
	api.WriteNotFound(w, "Message not found")
}

func (s *hostServer) handleKillSwitchActivate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode      string `json:"mode"`
		Reason    string `json:"reason"`
		Domain    string `json:"domain"`
		ClaimType string `json:"claim_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}
	s.gate.Switch().Activate(body.Mode, body.Reason, body.Domain, body.ClaimType)
	s.logger.Warn("kill switch activated", "mode", body.Mode, "domain", body.Domain, "reason", body.Reason)
	api.WriteJSON(w, http.StatusOK, s.gate.Switch().Snapshot())
}

func (s *hostServer) handleKillSwitchClear(w http.ResponseWriter, r *http.Request) {
	s.gate.Switch().Clear()
	s.logger.Info("kill switch cleared")
	api.WriteJSON(w, http.StatusOK, s.gate.Switch().Snapshot())
}

func runServer() {
	ctx := context.Background()
	cfg := config.LoadHost()
	controls := gate.ControlsFromEnv()

	telemetry, err := observability.New(ctx, &observability.Config{
		ServiceName:  "trust-gate",
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Enabled:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "",
		Insecure:     true,
		SampleRate:   1.0,
	})
	if err != nil {
		log.Fatalf("Failed to init observability: %v", err)
	}
	defer func() { _ = telemetry.Shutdown(ctx) }()

	server, err := newHostServer(cfg, controls, telemetry)
	if err != nil {
		log.Fatalf("Failed to init server: %v", err)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[trustgate] ready: http://localhost:%s (mode=%s enabled=%v)", cfg.Port, controls.Mode, controls.Enabled)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("[trustgate] shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
}
