package policy

import (
	"fmt"
	"time"
)

// CheckInput carries the per-response signals the policy checks need.
type CheckInput struct {
	EvidenceCount         int
	UnsupportedClaimCount int
	FactualTrustViolation int
	StreamBlocked         bool
	JurisdictionViolation bool
	RedactionApplied      bool
}

// EvaluateChecks runs the fixed set of policy checks for one response. The
// result order is stable so traces and audit packs diff cleanly.
func EvaluateChecks(in CheckInput, now time.Time) []Result {
	jurisdictionDetails := "compliant"
	if in.JurisdictionViolation {
		jurisdictionDetails = "jurisdiction_violation_detected"
	}
	redactionDetails := "no_redaction_required"
	if in.RedactionApplied {
		redactionDetails = "redaction_applied"
	}
	evidenceDetails := "evidence_present"
	if in.EvidenceCount == 0 {
		evidenceDetails = "No supporting evidence found"
	}

	return []Result{
		evaluate("fail_closed_default", true,
			"Unsupported claims are transformed to UNKNOWN or REFUSED.", now),
		{
			PolicyID:        "no_fabricated_citations",
			Description:     "Citations are emitted only from normalized evidence sources.",
			Scope:           "evidence",
			Version:         "1.0.0",
			EnforcedBy:      []string{"pkg/gate"},
			AcceptanceTests: []string{"TestCitationsMatchEvidenceOrder"},
			Passed:          true,
			Details:         "Citations emitted only from normalized evidence sources.",
		},
		evaluate("factual_evidence_trust", in.FactualTrustViolation == 0,
			fmt.Sprintf("factual_trust_violations=%d", in.FactualTrustViolation), now),
		evaluate("streaming_partials_blocked", in.StreamBlocked,
			"streaming disabled at trust boundary", now),
		evaluate("jurisdiction_compliance", !in.JurisdictionViolation, jurisdictionDetails, now),
		evaluate("pii_redaction", true, redactionDetails, now),
		{
			PolicyID:        "evidence_presence",
			Description:     "Evidence presence is tracked for audit context.",
			Scope:           "audit",
			Version:         "1.0.0",
			EnforcedBy:      []string{"pkg/gate"},
			AcceptanceTests: []string{"TestFailClosedUnsupportedClaims"},
			Passed:          in.EvidenceCount > 0,
			Details:         evidenceDetails,
		},
		{
			PolicyID:        "unsupported_claims_handled",
			Description:     "Unsupported claims are recorded.",
			Scope:           "audit",
			Version:         "1.0.0",
			EnforcedBy:      []string{"pkg/claims"},
			AcceptanceTests: []string{"TestHallucinationEventsAndMetrics"},
			Passed:          true,
			Details:         fmt.Sprintf("unsupported_claim_count=%d", in.UnsupportedClaimCount),
		},
	}
}
