package hostadapter

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/trustgate/trustgate/pkg/ingest"
)

// HostName identifies this host in emitted event envelopes.
const HostName = "onyx"

// TurnRecorder emits the lifecycle events of one chat turn to the evidence
// sidecar. Every method is fail-open: emission errors are returned for
// logging but the caller is expected to carry on serving the turn.
type TurnRecorder struct {
	emitter    *ingest.Emitter
	traceID    string
	rootSpanID string

	hostVersion string
	sessionID   string
	userID      string
}

// NewTurnRecorder starts a recording for one chat turn, minting a fresh
// trace id for it.
func NewTurnRecorder(emitter *ingest.Emitter, hostVersion, sessionID, userID string) *TurnRecorder {
	return &TurnRecorder{
		emitter:     emitter,
		traceID:     ingest.NewTraceID(),
		rootSpanID:  newSpanID(),
		hostVersion: hostVersion,
		sessionID:   sessionID,
		userID:      userID,
	}
}

func newSpanID() string {
	return "sp_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// TraceID returns the trace identifier minted for this turn.
func (r *TurnRecorder) TraceID() string {
	return r.traceID
}

func (r *TurnRecorder) emit(ctx context.Context, eventType, spanID string, parent *string, payload map[string]any) error {
	common := ingest.DefaultCommonFields(r.traceID, spanID, parent, HostName, r.hostVersion, r.sessionID, r.userID)
	return r.emitter.Emit(ctx, eventType, common, payload)
}

// RecordTurnStart opens the turn with the sanitized request metadata. The
// turn's root span parents every later event.
func (r *TurnRecorder) RecordTurnStart(ctx context.Context, metadata map[string]any) error {
	return r.emit(ctx, "turn_start", r.rootSpanID, nil, map[string]any{"request_metadata": metadata})
}

// RecordToolCall notes one tool invocation and how many documents it returned.
func (r *TurnRecorder) RecordToolCall(ctx context.Context, toolName string, documentCount int) error {
	return r.emit(ctx, "tool_call", newSpanID(), &r.rootSpanID, map[string]any{
		"tool":           toolName,
		"document_count": documentCount,
	})
}

// RecordRetrieval captures the evidence records surfaced for the turn.
func (r *TurnRecorder) RecordRetrieval(ctx context.Context, evidence []map[string]any) error {
	documents := make([]any, 0, len(evidence))
	for _, record := range evidence {
		documents = append(documents, record)
	}
	return r.emit(ctx, "retrieval_batch", newSpanID(), &r.rootSpanID, map[string]any{
		"documents":      documents,
		"document_count": len(documents),
	})
}

// RecordCitations captures the resolved citation number to evidence id map.
func (r *TurnRecorder) RecordCitations(ctx context.Context, citations []map[string]any) error {
	items := make([]any, 0, len(citations))
	for _, c := range citations {
		items = append(items, c)
	}
	return r.emit(ctx, "citations_resolved", newSpanID(), &r.rootSpanID, map[string]any{"citations": items})
}

// RecordPolicyDecision captures one policy evaluation outcome.
func (r *TurnRecorder) RecordPolicyDecision(ctx context.Context, policyID string, passed bool, details map[string]any) error {
	payload := map[string]any{
		"policy_id": policyID,
		"passed":    passed,
	}
	if details != nil {
		payload["details"] = details
	}
	return r.emit(ctx, "policy_decision", newSpanID(), &r.rootSpanID, payload)
}

// RecordFinalContract closes the turn with the gated response contract and
// flushes whatever is still buffered.
func (r *TurnRecorder) RecordFinalContract(ctx context.Context, contract map[string]any) error {
	if err := r.emit(ctx, "final_contract", newSpanID(), &r.rootSpanID, contract); err != nil {
		return err
	}
	return r.emitter.Flush(ctx)
}
