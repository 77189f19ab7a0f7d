package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var checkTime = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func resultByID(t *testing.T, results []Result, policyID string) Result {
	t.Helper()
	for _, r := range results {
		if r.PolicyID == policyID {
			return r
		}
	}
	t.Fatalf("policy %s not found", policyID)
	return Result{}
}

func TestEvaluateChecksStableOrder(t *testing.T) {
	results := EvaluateChecks(CheckInput{EvidenceCount: 1, StreamBlocked: true}, checkTime)
	require.Len(t, results, 8)
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.PolicyID
	}
	assert.Equal(t, []string{
		"fail_closed_default",
		"no_fabricated_citations",
		"factual_evidence_trust",
		"streaming_partials_blocked",
		"jurisdiction_compliance",
		"pii_redaction",
		"evidence_presence",
		"unsupported_claims_handled",
	}, ids)
}

func TestAlwaysPassingChecks(t *testing.T) {
	results := EvaluateChecks(CheckInput{UnsupportedClaimCount: 5}, checkTime)
	assert.True(t, resultByID(t, results, "fail_closed_default").Passed)
	assert.True(t, resultByID(t, results, "no_fabricated_citations").Passed)
	assert.True(t, resultByID(t, results, "pii_redaction").Passed)
	unsupported := resultByID(t, results, "unsupported_claims_handled")
	assert.True(t, unsupported.Passed)
	assert.Equal(t, "unsupported_claim_count=5", unsupported.Details)
}

func TestFactualTrustCheck(t *testing.T) {
	pass := EvaluateChecks(CheckInput{}, checkTime)
	assert.True(t, resultByID(t, pass, "factual_evidence_trust").Passed)

	fail := EvaluateChecks(CheckInput{FactualTrustViolation: 2}, checkTime)
	r := resultByID(t, fail, "factual_evidence_trust")
	assert.False(t, r.Passed)
	assert.Equal(t, "factual_trust_violations=2", r.Details)
}

func TestStreamingCheck(t *testing.T) {
	blocked := EvaluateChecks(CheckInput{StreamBlocked: true}, checkTime)
	assert.True(t, resultByID(t, blocked, "streaming_partials_blocked").Passed)

	open := EvaluateChecks(CheckInput{StreamBlocked: false}, checkTime)
	assert.False(t, resultByID(t, open, "streaming_partials_blocked").Passed)
}

func TestJurisdictionCheck(t *testing.T) {
	violated := EvaluateChecks(CheckInput{JurisdictionViolation: true}, checkTime)
	r := resultByID(t, violated, "jurisdiction_compliance")
	assert.False(t, r.Passed)
	assert.Equal(t, "jurisdiction_violation_detected", r.Details)
}

func TestEvidencePresenceCheck(t *testing.T) {
	missing := EvaluateChecks(CheckInput{EvidenceCount: 0}, checkTime)
	r := resultByID(t, missing, "evidence_presence")
	assert.False(t, r.Passed)
	assert.Equal(t, "No supporting evidence found", r.Details)
}

func TestRedactionDetails(t *testing.T) {
	applied := EvaluateChecks(CheckInput{RedactionApplied: true}, checkTime)
	assert.Equal(t, "redaction_applied", resultByID(t, applied, "pii_redaction").Details)
}

func TestRegisteredChecksCarryVersions(t *testing.T) {
	results := EvaluateChecks(CheckInput{}, checkTime)
	r := resultByID(t, results, "fail_closed_default")
	assert.Equal(t, "2.0.0", r.Version)
	assert.Equal(t, "enforcement", r.Scope)
	assert.NotEmpty(t, r.EvaluatedAt)
}

func TestVersionsAndChangeLog(t *testing.T) {
	versions := Versions()
	assert.Equal(t, "2.0.0", versions["fail_closed_default"])
	assert.Equal(t, "1.0.0", versions["jurisdiction_compliance"])
	assert.Len(t, versions, 5)

	log := VersionChangeLog()
	require.Len(t, log, 2)
	assert.Equal(t, "fail_closed_default", log[0].PolicyID)
	assert.Equal(t, "2026-02-01T00:00:00+00:00", log[0].ChangedAt)
}
