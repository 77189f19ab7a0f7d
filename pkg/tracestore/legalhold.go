package tracestore

import (
	"fmt"
	"os"
	"path/filepath"
)

// LegalHoldStore keeps unredacted copies of held traces in a segregated
// directory. Nothing here is ever served to end users.
type LegalHoldStore struct {
	baseDir string
}

// NewLegalHoldStore creates the hold directory if needed.
func NewLegalHoldStore(baseDir string) (*LegalHoldStore, error) {
	if baseDir == "" {
		baseDir = ".trust_evidence_legal_hold"
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("tracestore: create legal hold dir: %w", err)
	}
	return &LegalHoldStore{baseDir: baseDir}, nil
}

// BaseDir returns the hold directory.
func (s *LegalHoldStore) BaseDir() string { return s.baseDir }

// StoreUnredacted writes the pre-redaction answer, evidence and narrative for
// a held trace.
func (s *LegalHoldStore) StoreUnredacted(traceID, answer string, evidenceItems []map[string]any, narrative string) (string, error) {
	if evidenceItems == nil {
		evidenceItems = []map[string]any{}
	}
	payload := map[string]any{
		"trace_id":         traceID,
		"answer_text":      answer,
		"evidence_sources": evidenceItems,
		"narrative":        narrative,
	}
	body, err := marshalSortedIndented(payload)
	if err != nil {
		return "", fmt.Errorf("tracestore: encode legal hold copy: %w", err)
	}
	target := filepath.Join(s.baseDir, traceID+"_unredacted.json")
	if err := os.WriteFile(target, body, 0o600); err != nil {
		return "", fmt.Errorf("tracestore: write legal hold copy: %w", err)
	}
	return target, nil
}
