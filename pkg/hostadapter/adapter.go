// Package hostadapter translates host chat pipeline objects into the
// neutral evidence maps and request context the gate consumes.
package hostadapter

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/trustgate/trustgate/pkg/gate"
)

// Document is one retrieved document from the host's search pipeline.
type Document struct {
	DocumentID         string
	SemanticIdentifier string
	Link               string
	Blurb              string
	Score              float64
	Metadata           map[string]any
}

// ToolCall is one tool invocation with the documents it surfaced.
type ToolCall struct {
	ToolName   string
	SearchDocs []Document
}

// ChatResult is the host's completed chat turn.
type ChatResult struct {
	Answer        string
	ChatSessionID string
	MessageID     string
	TopDocuments  []Document
	ToolCalls     []ToolCall
}

// ChatRequest carries the request-side fields the gate records.
type ChatRequest struct {
	Stream      bool
	Origin      string
	RequestPath string
}

func metaString(metadata map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := metadata[key]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return ""
}

// derivedID builds a stable identifier for documents that arrive without one.
func derivedID(doc Document) string {
	h := sha256.Sum256([]byte(doc.SemanticIdentifier + "\x00" + doc.Link + "\x00" + doc.Blurb))
	return "derived:" + hex.EncodeToString(h[:])[:16]
}

// documentEvidence maps one document to the gate's raw evidence shape.
// Jurisdiction and classification stay nil when the source metadata lacks
// them, and every absent provenance field is listed so the gate can refuse
// in enforce mode.
func documentEvidence(doc Document) map[string]any {
	metadata := doc.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	connectorID := metaString(metadata, "connector_id", "connector", "source_id")
	jurisdiction := metaString(metadata, "jurisdiction", "region")
	classification := metaString(metadata, "data_classification", "classification")

	var missing []string
	if connectorID == "" {
		missing = append(missing, "connector_id")
	}
	if doc.DocumentID == "" {
		missing = append(missing, "source_identifier")
	}
	if jurisdiction == "" {
		missing = append(missing, "jurisdiction")
	}
	if classification == "" {
		missing = append(missing, "data_classification")
	}
	if missing == nil {
		missing = []string{}
	}

	id := doc.DocumentID
	if id == "" {
		id = derivedID(doc)
	}

	provenance := map[string]any{
		"missing_fields": missing,
	}
	if connectorID != "" {
		provenance["connector_id"] = connectorID
	}
	if doc.DocumentID != "" {
		provenance["source_identifier"] = doc.DocumentID
	}

	evidence := map[string]any{
		"id":         id,
		"snippet":    doc.Blurb,
		"score":      doc.Score,
		"provenance": provenance,
	}
	if doc.SemanticIdentifier != "" {
		evidence["title"] = doc.SemanticIdentifier
	}
	if doc.Link != "" {
		evidence["uri"] = doc.Link
	}
	if jurisdiction != "" {
		evidence["jurisdiction"] = strings.ToUpper(jurisdiction)
	} else {
		evidence["jurisdiction"] = nil
	}
	if classification != "" {
		evidence["data_classification"] = strings.ToUpper(classification)
	} else {
		evidence["data_classification"] = nil
	}
	return evidence
}

// RetrievedEvidence flattens a chat result's documents and tool results into
// the gate's raw evidence list.
func RetrievedEvidence(result *ChatResult) []map[string]any {
	if result == nil {
		return nil
	}

	var evidence []map[string]any
	for _, doc := range result.TopDocuments {
		item := documentEvidence(doc)
		item["origin"] = "INTERNAL"
		item["trust_level"] = "PRIMARY"
		item["confidence_weight"] = 0.95
		item["allowed_scopes"] = []any{"response_generation", "retrieval", "enforcement"}
		evidence = append(evidence, item)
	}

	for _, call := range result.ToolCalls {
		for _, doc := range call.SearchDocs {
			item := documentEvidence(doc)
			item["origin"] = "TOOL"
			item["tool_name"] = call.ToolName
			item["allowed_scopes"] = []any{"response_generation", "retrieval"}
			evidence = append(evidence, item)
		}
	}
	return evidence
}

// DraftAnswer returns the host's ungated answer text.
func DraftAnswer(result *ChatResult) string {
	if result == nil {
		return ""
	}
	return result.Answer
}

// RequestMetadata is the minimal request context stored with each trace.
func RequestMetadata(result *ChatResult, req *ChatRequest) map[string]any {
	metadata := map[string]any{
		"chat_session_id": "",
		"message_id":      nil,
		"stream_requested": func() any {
			if req == nil {
				return nil
			}
			return req.Stream
		}(),
		"origin": "",
	}
	if result != nil {
		metadata["chat_session_id"] = result.ChatSessionID
		if result.MessageID != "" {
			metadata["message_id"] = result.MessageID
		}
	}
	if req != nil {
		metadata["origin"] = req.Origin
	}
	return metadata
}

// RequestContext assembles the gate request context for a chat turn.
func RequestContext(result *ChatResult, req *ChatRequest, controls gate.Controls) gate.RequestContext {
	ctx := gate.RequestContext{
		Domain:             "general",
		TrustModeEffective: controls.Mode,
	}
	if result != nil {
		ctx.ChatSessionID = result.ChatSessionID
		ctx.MessageID = result.MessageID
	}
	if req != nil {
		ctx.StreamRequested = req.Stream
		ctx.Origin = req.Origin
		ctx.RequestPath = req.RequestPath
	}
	return ctx
}
