package gate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ContractKeys is the exact top-level key order of every boundary payload.
var ContractKeys = []string{
	"contract_version",
	"decision",
	"answer",
	"citations",
	"attribution",
	"audit_pack_ref",
	"policy_trace",
	"failure_mode",
	"answer_text",
	"evidence_bundle_user",
	"decision_record",
	"trace_id",
}

// ContractPayload is the response contract. Field order matches ContractKeys,
// so serialization preserves the contract shape.
type ContractPayload struct {
	ContractVersion    string             `json:"contract_version"`
	Decision           string             `json:"decision"`
	Answer             string             `json:"answer"`
	Citations          []Citation         `json:"citations"`
	Attribution        []AttributionItem  `json:"attribution"`
	AuditPackRef       string             `json:"audit_pack_ref"`
	PolicyTrace        []PolicyTraceEntry `json:"policy_trace"`
	FailureMode        string             `json:"failure_mode"`
	AnswerText         string             `json:"answer_text"`
	EvidenceBundleUser EvidenceBundle     `json:"evidence_bundle_user"`
	DecisionRecord     DecisionRecord     `json:"decision_record"`
	TraceID            string             `json:"trace_id"`
}

// Contract folds a gated response into the fixed boundary payload.
func (r *Response) Contract() ContractPayload {
	policyTrace := make([]PolicyTraceEntry, 0, len(r.DecisionRecord.PolicyChecks))
	for _, check := range r.DecisionRecord.PolicyChecks {
		version := check.Version
		if version == "" {
			version = "unknown"
		}
		policyTrace = append(policyTrace, PolicyTraceEntry{
			PolicyID: check.PolicyID,
			Passed:   check.Passed,
			Version:  version,
		})
	}

	failureMode := "none"
	if len(r.DecisionRecord.FailureModes) > 0 {
		failureMode = r.DecisionRecord.FailureModes[0]
	}

	attribution := make([]AttributionItem, 0, len(r.EvidenceBundle.Sources))
	for _, src := range r.EvidenceBundle.Sources {
		attribution = append(attribution, AttributionItem{
			SourceID: src.ID,
			Title:    optional(src.Title),
			URI:      optional(src.URIOrPath),
		})
	}

	return ContractPayload{
		ContractVersion:    "1.0",
		Decision:           DecisionFor(r.AnswerText),
		Answer:             r.AnswerText,
		Citations:          r.EvidenceBundle.Citations,
		Attribution:        attribution,
		AuditPackRef:       "/trust/audit-packs/" + r.TraceID,
		PolicyTrace:        policyTrace,
		FailureMode:        failureMode,
		AnswerText:         r.AnswerText,
		EvidenceBundleUser: r.EvidenceBundle,
		DecisionRecord:     r.DecisionRecord,
		TraceID:            r.TraceID,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// DecisionFor maps an answer to its contract decision by refusal prefix.
func DecisionFor(answer string) string {
	switch {
	case strings.HasPrefix(answer, "REFUSE:"):
		return "REFUSE"
	case strings.HasPrefix(answer, "UNKNOWN:"):
		return "UNKNOWN"
	default:
		return "ALLOW"
	}
}

// AssertContractShape verifies that a serialized payload carries exactly the
// contract keys in order. Anything else is treated as a bypass attempt.
func AssertContractShape(payload []byte) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	tok, err := dec.Token()
	if err != nil {
		return bypassErr()
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return bypassErr()
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return bypassErr()
		}
		key, ok := tok.(string)
		if !ok {
			return bypassErr()
		}
		keys = append(keys, key)
		if err := skipValue(dec); err != nil {
			return bypassErr()
		}
	}

	if len(keys) != len(ContractKeys) {
		return bypassErr()
	}
	for i, key := range keys {
		if key != ContractKeys[i] {
			return bypassErr()
		}
	}
	return nil
}

func bypassErr() error {
	return fmt.Errorf("TRUST_GATE_BYPASS_ATTEMPT: invalid contract shape")
}

func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if _, ok := tok.(json.Delim); !ok {
		return nil
	}
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}
