// Package auditpack exports a trace as a self-contained, hash-manifested ZIP
// a regulator can verify offline.
package auditpack

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/trustgate/trustgate/pkg/canonical"
	"github.com/trustgate/trustgate/pkg/claims"
	"github.com/trustgate/trustgate/pkg/policy"
	"github.com/trustgate/trustgate/pkg/redact"
	"github.com/trustgate/trustgate/pkg/risk"
	"github.com/trustgate/trustgate/pkg/tracestore"
)

// Integrity failures abort the export.
var (
	ErrTraceMismatch = errors.New("auditpack: trace id mismatch in stored record")
	ErrHashMismatch  = errors.New("auditpack: content hash mismatch in stored record")
	ErrChainInvalid  = errors.New("auditpack: event hash chain validation failed")
	ErrMalformed     = errors.New("auditpack: stored trace record is malformed")
)

// Exporter builds audit packs from stored traces.
type Exporter struct {
	store     tracestore.Store
	legalHold *tracestore.LegalHoldStore
	now       func() time.Time
}

// NewExporter wires an exporter; legalHold may be nil.
func NewExporter(store tracestore.Store, legalHold *tracestore.LegalHoldStore) *Exporter {
	return &Exporter{store: store, legalHold: legalHold, now: time.Now}
}

// Export verifies a stored trace's integrity, renders every artifact plus the
// chain-of-custody narrative and manifest, and returns the path of the ZIP.
func (e *Exporter) Export(traceID, outputDir string) (string, error) {
	record, err := e.store.Load(traceID)
	if err != nil {
		return "", fmt.Errorf("auditpack: load trace: %w", err)
	}
	if record.TraceID != traceID {
		return "", ErrTraceMismatch
	}
	if record.Response == nil || record.Context == nil || record.Retention == nil || record.ReplayInputs == nil {
		return "", ErrMalformed
	}
	if canonical.MustHash(record.Response) != record.ResponseHash {
		return "", fmt.Errorf("%w: response", ErrHashMismatch)
	}
	if canonical.MustHash(record.Context) != record.ContextHash {
		return "", fmt.Errorf("%w: context", ErrHashMismatch)
	}
	if canonical.MustHash(record.ReplayInputs) != record.ReplayInputsHash {
		return "", fmt.Errorf("%w: replay inputs", ErrHashMismatch)
	}
	if !canonical.ValidateChain(record.Events) {
		return "", ErrChainInvalid
	}

	if outputDir == "" {
		if based, ok := e.store.(interface{ BaseDir() string }); ok {
			outputDir = based.BaseDir()
		} else {
			outputDir = "."
		}
	}
	outDir := filepath.Join(outputDir, "audit_"+traceID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("auditpack: create output dir: %w", err)
	}

	bundle := objectAt(record.Response, "evidence_bundle_user")
	retrieval := objectAt(bundle, "retrieval_metadata")
	decision := objectAt(record.Response, "decision_record")

	artifacts := map[string]any{
		"final_response.json":            record.Response,
		"decision_record.json":           decision,
		"evidence_sources.json":          listAt(bundle, "sources"),
		"retrieval_metadata.json":        retrieval,
		"policy_evaluation_results.json": listAt(decision, "policy_checks"),
		"incident_events.json":           listAt(decision, "incidents"),
		"raw_context_minimal.json":       record.Context,
		"retention_metadata.json":        record.Retention,
		"replay_inputs.json":             record.ReplayInputs,
		"system_claims_snapshot.json":    claims.ActiveSystemClaims(e.now()),
		"risk_register_snapshot.json":    risk.ActiveRisks(),
		"jurisdiction_compliance.json":   objectAt(retrieval, "jurisdiction_compliance"),
		"policy_registry_snapshot.json":  policy.Definitions(),
		"attestation_artifact.json":      e.attestation(),
	}

	fileBodies := make(map[string][]byte, len(artifacts)+3)
	for name, payload := range artifacts {
		body, err := sortedIndentedJSON(payload)
		if err != nil {
			return "", fmt.Errorf("auditpack: encode %s: %w", name, err)
		}
		fileBodies[name] = body
	}

	eventsJSONL, err := canonical.EncodeEventsJSONL(record.Events)
	if err != nil {
		return "", err
	}
	fileBodies["events.jsonl"] = []byte(eventsJSONL)
	fileBodies["integrity/chain.jsonl"] = []byte(eventsJSONL)

	artifactHashes := make(map[string]string, len(fileBodies)+1)
	for name, body := range fileBodies {
		artifactHashes[name] = canonical.HashBytes(body)
	}

	unredactedNarrative := buildNarrative(record.Response, record.Context, artifactHashes)
	narrative, _ := redact.Text(unredactedNarrative)
	fileBodies["chain_of_custody.md"] = []byte(narrative)
	narrativeHash := canonical.HashBytes([]byte(narrative))
	artifactHashes["chain_of_custody.md"] = narrativeHash

	if legalHoldActive(record.Retention) && e.legalHold != nil {
		answer, _ := record.Response["answer_text"].(string)
		sources := mapsOf(listAt(bundle, "sources"))
		if _, err := e.legalHold.StoreUnredacted(traceID, answer, sources, unredactedNarrative); err != nil {
			return "", fmt.Errorf("auditpack: legal hold copy: %w", err)
		}
	}

	manifest := map[string]any{
		"trace_id":       traceID,
		"retention":      record.Retention,
		"narrative_hash": narrativeHash,
		"artifacts":      artifactHashes,
		"counts": map[string]int{
			"claims":           len(listAt(decision, "claims")),
			"evidence_sources": len(listAt(bundle, "sources")),
			"incidents":        len(listAt(decision, "incidents")),
			"events":           len(record.Events),
		},
		"algo_versions": map[string]string{
			"hash":           canonical.HashAlgo,
			"canonical_json": canonical.JSONAlgo,
			"events_chain":   canonical.ChainAlgo,
		},
	}
	manifestBody, err := sortedIndentedJSON(manifest)
	if err != nil {
		return "", fmt.Errorf("auditpack: encode manifest: %w", err)
	}
	fileBodies["manifest.json"] = manifestBody

	names := make([]string, 0, len(fileBodies))
	for name := range fileBodies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		dest := filepath.Join(outDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return "", fmt.Errorf("auditpack: write %s: %w", name, err)
		}
		if err := os.WriteFile(dest, fileBodies[name], 0o644); err != nil {
			return "", fmt.Errorf("auditpack: write %s: %w", name, err)
		}
	}

	zipPath := outDir + ".zip"
	if err := writeZip(zipPath, names, fileBodies); err != nil {
		return "", err
	}
	return zipPath, nil
}

func (e *Exporter) attestation() map[string]any {
	return map[string]any{
		"system_claims":             claims.ActiveSystemClaims(e.now()),
		"policies":                  policy.Definitions(),
		"policy_change_log":         policy.VersionChangeLog(),
		"risk_register":             risk.ActiveRisks(),
		"tests_executed":            []string{"go test ./..."},
		"last_evaluation_timestamp": e.now().UTC().Format(time.RFC3339Nano),
	}
}

func writeZip(path string, names []string, bodies map[string][]byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("auditpack: create zip: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, name := range names {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return fmt.Errorf("auditpack: zip entry %s: %w", name, err)
		}
		if _, err := w.Write(bodies[name]); err != nil {
			return fmt.Errorf("auditpack: zip write %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("auditpack: finalize zip: %w", err)
	}
	return nil
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

func objectAt(m map[string]any, key string) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return map[string]any{}
}

func listAt(m map[string]any, key string) []any {
	if m == nil {
		return nil
	}
	if v, ok := m[key].([]any); ok {
		return v
	}
	return nil
}

func mapsOf(items []any) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func legalHoldActive(retention map[string]any) bool {
	held, _ := retention["legal_hold"].(bool)
	return held
}
