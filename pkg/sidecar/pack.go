package sidecar

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/trustgate/trustgate/pkg/canonical"
)

// ManifestVersion identifies the pack manifest layout.
const ManifestVersion = "1.0.0"

// NewPackID mints a pack identifier for a trace.
func NewPackID(traceID string) string {
	return fmt.Sprintf("pack_%s_%s", traceID, strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

// chainLine is one entry of integrity/chain.jsonl.
type chainLine struct {
	Index       int     `json:"index"`
	EventID     int64   `json:"event_id"`
	Type        string  `json:"type"`
	TS          string  `json:"ts"`
	PayloadHash string  `json:"payload_hash"`
	PrevHash    string  `json:"prev_hash"`
	Hash        string  `json:"hash,omitempty"`
}

func lineHash(line chainLine) (string, error) {
	line.Hash = ""
	raw, err := canonical.JCS(line)
	if err != nil {
		return "", err
	}
	return canonical.HashBytes(raw), nil
}

// BuildChain links a trace's events into a tamper-evident hash chain.
func BuildChain(events []StoredEvent) (string, error) {
	prev := canonical.GenesisHash
	var b strings.Builder
	for i, event := range events {
		line := chainLine{
			Index:       i + 1,
			EventID:     event.ID,
			Type:        event.EventType,
			TS:          event.TS,
			PayloadHash: event.PayloadHash,
			PrevHash:    prev,
		}
		hash, err := lineHash(line)
		if err != nil {
			return "", fmt.Errorf("sidecar: hash chain line %d: %w", i+1, err)
		}
		line.Hash = hash
		raw, err := canonical.JCS(line)
		if err != nil {
			return "", fmt.Errorf("sidecar: encode chain line %d: %w", i+1, err)
		}
		b.Write(raw)
		b.WriteByte('\n')
		prev = hash
	}
	return b.String(), nil
}

// VerifyChain checks a chain.jsonl text for index gaps, broken links, and
// recomputed hash mismatches.
func VerifyChain(chainJSONL string) bool {
	prev := canonical.GenesisHash
	expectedIndex := 0
	for _, rawLine := range strings.Split(chainJSONL, "\n") {
		if strings.TrimSpace(rawLine) == "" {
			continue
		}
		expectedIndex++
		var line chainLine
		if err := json.Unmarshal([]byte(rawLine), &line); err != nil {
			return false
		}
		if line.Index != expectedIndex {
			return false
		}
		if line.PrevHash != prev {
			return false
		}
		computed, err := lineHash(line)
		if err != nil || line.Hash != computed {
			return false
		}
		prev = computed
	}
	return true
}

func buildPackManifest(events []StoredEvent) map[string]any {
	entries := make([]map[string]any, 0, len(events))
	for _, event := range events {
		entries = append(entries, map[string]any{
			"id":           event.ID,
			"type":         event.EventType,
			"ts":           event.TS,
			"payload_hash": event.PayloadHash,
		})
	}
	return map[string]any{
		"manifest_version": ManifestVersion,
		"event_count":      len(events),
		"events":           entries,
		"algo_versions": map[string]string{
			"hash":           canonical.HashAlgo,
			"canonical_json": canonical.JSONAlgo,
		},
	}
}

// BuildPack assembles the audit pack ZIP for a trace and returns its path.
func BuildPack(store *Store, traceID, packID, packsDir string) (string, error) {
	if packsDir == "" {
		packsDir = ".trust_packs"
	}
	if err := os.MkdirAll(packsDir, 0o755); err != nil {
		return "", fmt.Errorf("sidecar: create packs dir: %w", err)
	}

	summary, err := store.GetTraceSummary(traceID)
	if err != nil {
		return "", err
	}
	events, err := store.GetEventsForTrace(traceID)
	if err != nil {
		return "", err
	}

	contract := map[string]any{
		"trace_id":        traceID,
		"answer":          "",
		"policy_summary":  "",
		"evidence_status": summary.EvidenceStatus,
		"warnings":        []string{"placeholder contract: host contract event unavailable"},
	}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].EventType == "final_contract" {
			contract = events[i].Payload
			break
		}
	}

	eventLines := make([]string, 0, len(events))
	for _, event := range events {
		raw, err := canonical.JCS(map[string]any{
			"id":             event.ID,
			"trace_id":       event.TraceID,
			"span_id":        event.SpanID,
			"parent_span_id": event.ParentSpanID,
			"ts":             event.TS,
			"type":           event.EventType,
			"payload":        event.Payload,
			"payload_hash":   event.PayloadHash,
			"schema_version": event.SchemaVersion,
		})
		if err != nil {
			return "", fmt.Errorf("sidecar: encode event %d: %w", event.ID, err)
		}
		eventLines = append(eventLines, string(raw))
	}
	eventsJSONL := strings.Join(eventLines, "\n")
	if len(eventLines) > 0 {
		eventsJSONL += "\n"
	}

	var retrievalEvents, toolEvents, policyEvents []StoredEvent
	var citations []any
	for _, event := range events {
		switch event.EventType {
		case "retrieval_batch":
			retrievalEvents = append(retrievalEvents, event)
		case "tool_call", "tool_result":
			toolEvents = append(toolEvents, event)
		case "policy_decision":
			policyEvents = append(policyEvents, event)
		case "citations_resolved":
			if resolved, ok := event.Payload["citations"].([]any); ok {
				citations = append(citations, resolved...)
			}
		}
	}
	if retrievalEvents == nil {
		retrievalEvents = []StoredEvent{}
	}
	if toolEvents == nil {
		toolEvents = []StoredEvent{}
	}
	if policyEvents == nil {
		policyEvents = []StoredEvent{}
	}
	if citations == nil {
		citations = []any{}
	}

	chainJSONL, err := BuildChain(events)
	if err != nil {
		return "", err
	}

	zipPath := filepath.Join(packsDir, packID+".zip")
	f, err := os.Create(zipPath)
	if err != nil {
		return "", fmt.Errorf("sidecar: create pack zip: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	entries := []struct {
		name    string
		payload any
		literal string
	}{
		{name: "contract.json", payload: contract},
		{name: "evidence/events.jsonl", literal: eventsJSONL},
		{name: "retrieval/retrieval_events.json", payload: retrievalEvents},
		{name: "tools/tool_events.json", payload: toolEvents},
		{name: "citations.json", payload: citations},
		{name: "policy.json", payload: policyEvents},
		{name: "integrity/manifest.json", payload: buildPackManifest(events)},
		{name: "integrity/chain.jsonl", literal: chainJSONL},
	}
	for _, entry := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: entry.name, Method: zip.Deflate})
		if err != nil {
			return "", fmt.Errorf("sidecar: zip entry %s: %w", entry.name, err)
		}
		body := []byte(entry.literal)
		if entry.payload != nil {
			body, err = sortedIndentedJSON(entry.payload)
			if err != nil {
				return "", fmt.Errorf("sidecar: encode %s: %w", entry.name, err)
			}
		}
		if _, err := w.Write(body); err != nil {
			return "", fmt.Errorf("sidecar: zip write %s: %w", entry.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("sidecar: finalize pack zip: %w", err)
	}
	return zipPath, nil
}

func sortedIndentedJSON(v any) ([]byte, error) {
	compact, err := canonical.JCS(v)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact, "", "  "); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
