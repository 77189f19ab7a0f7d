// Package replay rebuilds a stored trace's claim decisions from its recorded
// inputs and checks the outcome still matches.
package replay

import (
	"fmt"
	"time"

	"github.com/trustgate/trustgate/pkg/claims"
	"github.com/trustgate/trustgate/pkg/evidence"
	"github.com/trustgate/trustgate/pkg/policy"
	"github.com/trustgate/trustgate/pkg/tracestore"
)

// TrustLayerVersion is pinned into every trace's replay inputs.
const TrustLayerVersion = "1.2.0"

// EvidenceProjection is the minimal normalized view of a source recorded for
// replay.
type EvidenceProjection struct {
	ID                 string   `json:"id"`
	Snippet            string   `json:"snippet"`
	Hash               string   `json:"hash"`
	TrustLevel         string   `json:"trust_level"`
	Origin             string   `json:"origin"`
	Jurisdiction       string   `json:"jurisdiction"`
	DataClassification string   `json:"data_classification"`
	AllowedScopes      []string `json:"allowed_scopes"`
}

// Inputs is everything needed to re-run claim enforcement for a trace.
type Inputs struct {
	SanitizedPrompt   string               `json:"sanitized_prompt"`
	RetrievedEvidence []EvidenceProjection `json:"retrieved_evidence"`
	PolicyVersions    map[string]string    `json:"policy_versions"`
	TrustLayerVersion string               `json:"trust_layer_version"`
}

// BuildInputs captures a replayable snapshot of the draft answer and raw
// evidence. The prompt is whitespace-collapsed and capped at 500 characters.
func BuildInputs(draftAnswerText string, retrievedEvidence []map[string]any, trustedTools map[string]bool) Inputs {
	normalized := evidence.NormalizeRaw(retrievedEvidence, trustedTools)
	projections := make([]EvidenceProjection, 0, len(normalized))
	for _, src := range normalized {
		projections = append(projections, EvidenceProjection{
			ID:                 src.ID,
			Snippet:            src.Snippet,
			Hash:               src.Hash,
			TrustLevel:         src.TrustLevel,
			Origin:             src.Origin,
			Jurisdiction:       src.Jurisdiction,
			DataClassification: src.DataClassification,
			AllowedScopes:      src.AllowedScopes,
		})
	}
	return Inputs{
		SanitizedPrompt:   collapsePrompt(draftAnswerText, 500),
		RetrievedEvidence: projections,
		PolicyVersions:    policy.Versions(),
		TrustLayerVersion: TrustLayerVersion,
	}
}

func collapsePrompt(text string, limit int) string {
	out := make([]rune, 0, len(text))
	space := false
	for _, r := range text {
		switch r {
		case ' ', '\t', '\n', '\r', '\v', '\f':
			space = true
		default:
			if space && len(out) > 0 {
				out = append(out, ' ')
			}
			space = false
			out = append(out, r)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return string(out)
}

// Report is the outcome of replaying one trace.
type Report struct {
	TraceID           string            `json:"trace_id"`
	Equivalent        bool              `json:"equivalent"`
	ReplayedClaims    []claims.Record   `json:"replayed_claims"`
	ReplayedFailures  []string          `json:"replayed_failure_modes"`
	ReplayedMetrics   claims.Metrics    `json:"replayed_metrics"`
	PolicyVersions    map[string]string `json:"policy_versions"`
	TrustLayerVersion string            `json:"trust_layer_version"`
}

// Replay loads a trace, re-normalizes its recorded evidence projection,
// re-runs claim enforcement on the sanitized prompt, and compares claims,
// failure modes and metrics against the stored decision record.
func Replay(traceID string, store tracestore.Store, trustedTools map[string]bool, now time.Time) (*Report, error) {
	record, err := store.Load(traceID)
	if err != nil {
		return nil, fmt.Errorf("replay: load trace: %w", err)
	}

	prompt := stringOf(record.ReplayInputs["sanitized_prompt"])
	rawEvidence := projectionMaps(record.ReplayInputs["retrieved_evidence"])

	normalized := evidence.NormalizeRaw(rawEvidence, trustedTools)
	result := claims.Enforce(prompt, normalized, claims.ActiveSystemClaims(now))

	report := &Report{
		TraceID:           traceID,
		ReplayedClaims:    result.Records,
		ReplayedFailures:  result.FailureModes,
		ReplayedMetrics:   result.Metrics,
		TrustLayerVersion: stringOf(record.ReplayInputs["trust_layer_version"]),
	}
	if versions, ok := record.ReplayInputs["policy_versions"].(map[string]any); ok {
		report.PolicyVersions = make(map[string]string, len(versions))
		for k, v := range versions {
			report.PolicyVersions[k] = stringOf(v)
		}
	}

	original, _ := record.Response["decision_record"].(map[string]any)
	report.Equivalent = claimsEqual(original["claims"], result.Records) &&
		failuresEqual(original["failure_modes"], result.FailureModes) &&
		metricsEqual(original["metrics"], result.Metrics)
	return report, nil
}

func projectionMaps(v any) []map[string]any {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

func claimsEqual(stored any, replayed []claims.Record) bool {
	items, ok := stored.([]any)
	if !ok {
		return len(replayed) == 0
	}
	if len(items) != len(replayed) {
		return false
	}
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return false
		}
		rec := replayed[i]
		required, _ := m["evidence_required"].(bool)
		if stringOf(m["claim_id"]) != rec.ClaimID ||
			stringOf(m["claim_text"]) != rec.ClaimText ||
			stringOf(m["claim_type"]) != rec.ClaimType ||
			required != rec.EvidenceRequired ||
			stringOf(m["verification_status"]) != rec.VerificationStatus {
			return false
		}
	}
	return true
}

func failuresEqual(stored any, replayed []string) bool {
	items, ok := stored.([]any)
	if !ok {
		return len(replayed) == 0
	}
	if len(items) != len(replayed) {
		return false
	}
	for i, item := range items {
		if stringOf(item) != replayed[i] {
			return false
		}
	}
	return true
}

func metricsEqual(stored any, replayed claims.Metrics) bool {
	m, ok := stored.(map[string]any)
	if !ok {
		return replayed == claims.Metrics{}
	}
	return numberOf(m["num_claims_total"]) == float64(replayed.NumClaimsTotal) &&
		numberOf(m["num_claims_unsupported"]) == float64(replayed.NumClaimsUnsupported) &&
		numberOf(m["pct_suppressed"]) == replayed.PctSuppressed
}

func numberOf(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		if err != nil {
			return -1
		}
		return f
	default:
		return -1
	}
}
