// Package policy holds the versioned policy registry and the deterministic
// per-response policy checks recorded in every decision trace.
package policy

import "time"

// Definition describes one registered policy.
type Definition struct {
	PolicyID        string   `json:"policy_id"`
	Description     string   `json:"description"`
	Scope           string   `json:"scope"`
	EnforcedBy      []string `json:"enforced_by"`
	AcceptanceTests []string `json:"acceptance_tests"`
	Version         string   `json:"version"`
}

// VersionChange is one entry in the policy version change log.
type VersionChange struct {
	PolicyID    string `json:"policy_id"`
	FromVersion string `json:"from_version"`
	ToVersion   string `json:"to_version"`
	ChangedAt   string `json:"changed_at"`
	Reason      string `json:"reason"`
}

// Result is the recorded outcome of evaluating one policy against a response.
type Result struct {
	PolicyID        string   `json:"policy_id"`
	Description     string   `json:"description"`
	Scope           string   `json:"scope"`
	Version         string   `json:"version"`
	EnforcedBy      []string `json:"enforced_by"`
	AcceptanceTests []string `json:"acceptance_tests"`
	Passed          bool     `json:"passed"`
	Details         string   `json:"details"`
	EvaluatedAt     string   `json:"evaluated_at,omitempty"`
}

var registry = map[string]Definition{
	"fail_closed_default": {
		PolicyID:        "fail_closed_default",
		Description:     "Unsupported claims are transformed to UNKNOWN or REFUSED.",
		Scope:           "enforcement",
		EnforcedBy:      []string{"pkg/claims", "pkg/gate"},
		AcceptanceTests: []string{"TestFailClosedUnsupportedClaims"},
		Version:         "2.0.0",
	},
	"factual_evidence_trust": {
		PolicyID:        "factual_evidence_trust",
		Description:     "Factual claims require trusted evidence coverage.",
		Scope:           "evidence",
		EnforcedBy:      []string{"pkg/claims"},
		AcceptanceTests: []string{"TestFactualNeedsTwoSecondary"},
		Version:         "2.0.0",
	},
	"streaming_partials_blocked": {
		PolicyID:        "streaming_partials_blocked",
		Description:     "Streaming partials are blocked at trust boundary.",
		Scope:           "boundary",
		EnforcedBy:      []string{"pkg/gate"},
		AcceptanceTests: []string{"TestStreamingBypassCanary"},
		Version:         "2.0.0",
	},
	"jurisdiction_compliance": {
		PolicyID:        "jurisdiction_compliance",
		Description:     "Disallowed-jurisdiction evidence cannot support claims.",
		Scope:           "sovereignty",
		EnforcedBy:      []string{"pkg/gate"},
		AcceptanceTests: []string{"TestJurisdictionViolationRefusal"},
		Version:         "1.0.0",
	},
	"pii_redaction": {
		PolicyID:        "pii_redaction",
		Description:     "PII is redacted from user-facing and narrative artifacts.",
		Scope:           "privacy",
		EnforcedBy:      []string{"pkg/redact", "pkg/auditpack"},
		AcceptanceTests: []string{"TestRedactEmail"},
		Version:         "1.0.0",
	},
}

var versionChangeLog = []VersionChange{
	{
		PolicyID:    "fail_closed_default",
		FromVersion: "1.1.0",
		ToVersion:   "2.0.0",
		ChangedAt:   "2026-02-01T00:00:00+00:00",
		Reason:      "Added regulator-grade refusal semantics.",
	},
	{
		PolicyID:    "factual_evidence_trust",
		FromVersion: "1.1.0",
		ToVersion:   "2.0.0",
		ChangedAt:   "2026-02-01T00:00:00+00:00",
		Reason:      "Aligned with updated governance trace model.",
	},
}

// Definitions returns a copy of the registry.
func Definitions() map[string]Definition {
	out := make(map[string]Definition, len(registry))
	for id, def := range registry {
		out[id] = def
	}
	return out
}

// Versions maps each registered policy id to its current version.
func Versions() map[string]string {
	out := make(map[string]string, len(registry))
	for id, def := range registry {
		out[id] = def.Version
	}
	return out
}

// VersionChangeLog returns a copy of the version change log.
func VersionChangeLog() []VersionChange {
	out := make([]VersionChange, len(versionChangeLog))
	copy(out, versionChangeLog)
	return out
}

func evaluate(policyID string, passed bool, details string, now time.Time) Result {
	def := registry[policyID]
	return Result{
		PolicyID:        def.PolicyID,
		Description:     def.Description,
		Scope:           def.Scope,
		Version:         def.Version,
		EnforcedBy:      def.EnforcedBy,
		AcceptanceTests: def.AcceptanceTests,
		Passed:          passed,
		Details:         details,
		EvaluatedAt:     now.Format(time.RFC3339Nano),
	}
}
