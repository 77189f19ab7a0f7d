package claims

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustgate/trustgate/pkg/evidence"
)

func primarySource(id, snippet string) evidence.Source {
	return evidence.Source{ID: id, Snippet: snippet, TrustLevel: evidence.TrustPrimary, ConfidenceWeight: 0.9}
}

func TestSplitSentencesAndParagraphs(t *testing.T) {
	claims := Split("First sentence. Second sentence!\nThird on a new line")
	require.Equal(t, []string{"First sentence.", "Second sentence!", "Third on a new line"}, claims)
}

func TestSplitNoTerminatorKeepsWhole(t *testing.T) {
	claims := Split("a bare statement with no punctuation")
	require.Equal(t, []string{"a bare statement with no punctuation"}, claims)
}

func TestSplitEmpty(t *testing.T) {
	assert.Empty(t, Split("   "))
}

func TestClassifyPrecedence(t *testing.T) {
	assert.Equal(t, TypeDerived, Classify("Therefore the policy seems fine."))
	assert.Equal(t, TypeInterpretive, Classify("This likely affects the rollout."))
	assert.Equal(t, TypeSystem, Classify("The gate blocks raw output."))
	assert.Equal(t, TypeFactual, Classify("Water boils at 100C."))
}

func TestConversationalNeedsNoEvidence(t *testing.T) {
	res := Enforce("Hello there.", nil, nil)
	require.Len(t, res.Records, 1)
	assert.False(t, res.Records[0].EvidenceRequired)
	assert.Equal(t, StatusSupported, res.Records[0].VerificationStatus)
	assert.Equal(t, "Hello there.", res.SanitizedText)
}

func TestEmptyDraftAnswer(t *testing.T) {
	res := Enforce("", nil, nil)
	assert.Equal(t, "UNKNOWN: no answer content generated.", res.SanitizedText)
	assert.Equal(t, []string{"empty_draft_answer"}, res.FailureModes)
	assert.Equal(t, 0, res.Metrics.NumClaimsTotal)
	assert.Equal(t, 0.0, res.Metrics.PctSuppressed)
}

func TestFactualSupportedByPrimary(t *testing.T) {
	sources := []evidence.Source{primarySource("doc-1", "The deployment freeze lasts until friday.")}
	res := Enforce("The deployment freeze lasts until friday.", sources, nil)
	require.Len(t, res.Records, 1)
	assert.Equal(t, StatusSupported, res.Records[0].VerificationStatus)
	assert.Equal(t, "The deployment freeze lasts until friday.", res.SanitizedText)
	require.Len(t, res.EvidenceLinks, 1)
	assert.Equal(t, "doc-1", res.EvidenceLinks[0].SourceID)
}

func TestFactualNeedsTwoSecondary(t *testing.T) {
	one := []evidence.Source{{ID: "s1", Snippet: "the deployment freeze lasts", TrustLevel: evidence.TrustSecondary}}
	res := Enforce("The deployment freeze lasts until friday.", one, nil)
	assert.Equal(t, StatusUnsupported, res.Records[0].VerificationStatus)
	assert.True(t, strings.HasPrefix(res.SanitizedText, "UNKNOWN: "))

	two := append(one, evidence.Source{ID: "s2", Snippet: "freeze until friday confirmed", TrustLevel: evidence.TrustSecondary})
	res = Enforce("The deployment freeze lasts until friday.", two, nil)
	assert.Equal(t, StatusSupported, res.Records[0].VerificationStatus)
}

func TestFactualNoEvidenceFailClosed(t *testing.T) {
	res := Enforce("The moon base opened last year.", nil, nil)
	require.Len(t, res.Records, 1)
	assert.Equal(t, StatusUnsupported, res.Records[0].VerificationStatus)
	assert.Equal(t, "UNKNOWN: The moon base opened last year.", res.SanitizedText)
	assert.Contains(t, res.FailureModes, "unsupported_claim")
	assert.Contains(t, res.FailureModes, ModeNoEvidence)
	assert.Contains(t, res.FailureModes, "no_supporting_evidence_found")
	require.Len(t, res.HallucinationEvents, 1)
	assert.Equal(t, "HIGH", res.HallucinationEvents[0].Severity)
	assert.Equal(t, ModeNoEvidence, res.HallucinationEvents[0].Mode)
}

func TestFactualUntrustedToolOnly(t *testing.T) {
	sources := []evidence.Source{{ID: "t1", Snippet: "moon base opened recently", TrustLevel: evidence.TrustUnverified}}
	res := Enforce("The moon base opened last year.", sources, nil)
	assert.Equal(t, StatusUnsupported, res.Records[0].VerificationStatus)
	assert.Contains(t, res.FailureModes, ModeToolUntrusted)
}

func TestInterpretivePartial(t *testing.T) {
	sources := []evidence.Source{primarySource("doc-1", "latency rose after the cache change")}
	res := Enforce("The latency increase likely comes from the cache change.", sources, nil)
	require.Len(t, res.Records, 1)
	assert.Equal(t, TypeInterpretive, res.Records[0].ClaimType)
	assert.Equal(t, StatusPartial, res.Records[0].VerificationStatus)
	assert.Equal(t, "PARTIAL: The latency increase likely comes from the cache change.", res.SanitizedText)
	assert.Empty(t, res.HallucinationEvents)
}

func TestDerivedParentsAreLastTwoSupported(t *testing.T) {
	sources := []evidence.Source{
		primarySource("doc-1", "alpha cluster failed overnight checks"),
		primarySource("doc-2", "beta cluster failed overnight checks"),
	}
	res := Enforce("Alpha cluster failed overnight. Beta cluster failed overnight. Therefore both clusters need review.", sources, nil)
	require.Len(t, res.Records, 3)
	assert.Equal(t, TypeDerived, res.Records[2].ClaimType)
	assert.Equal(t, StatusSupported, res.Records[2].VerificationStatus)
	require.Len(t, res.Graph, 2)
	assert.Equal(t, "claim_1", res.Graph[0].DerivedFrom)
	assert.Equal(t, "claim_2", res.Graph[1].DerivedFrom)
}

func TestDerivedWithoutParentsUnsupported(t *testing.T) {
	res := Enforce("Therefore the migration is safe.", nil, nil)
	require.Len(t, res.Records, 1)
	assert.Equal(t, StatusUnsupported, res.Records[0].VerificationStatus)
	assert.Contains(t, res.FailureModes, ModeOutOfScope)
	require.Len(t, res.HallucinationEvents, 1)
	assert.Equal(t, "MEDIUM", res.HallucinationEvents[0].Severity)
}

func TestContradictionOverridesMode(t *testing.T) {
	sources := []evidence.Source{{ID: "s1", Snippet: "the service is not healthy today", TrustLevel: evidence.TrustUnverified}}
	res := Enforce("The service is healthy today.", sources, nil)
	require.Len(t, res.Records, 1)
	assert.Equal(t, StatusUnsupported, res.Records[0].VerificationStatus)
	assert.Contains(t, res.FailureModes, ModeContradicted)
	assert.NotContains(t, res.FailureModes, ModeToolUntrusted)
}

func TestSystemClaimMatchesRegistry(t *testing.T) {
	active := ActiveSystemClaims(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.Len(t, active, 3)

	res := Enforce("Unsupported claims are transformed to UNKNOWN fail-closed", nil, active)
	require.Len(t, res.Records, 1)
	assert.Equal(t, TypeSystem, res.Records[0].ClaimType)
	assert.Equal(t, StatusSupported, res.Records[0].VerificationStatus)
	require.Len(t, res.SystemClaimRefs, 1)
	assert.Equal(t, "SYS-EVID-001", res.SystemClaimRefs[0].SystemClaimID)
}

func TestSystemClaimOutOfRegistryUnsupported(t *testing.T) {
	active := ActiveSystemClaims(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	res := Enforce("The system can delete all user data on demand", nil, active)
	require.Len(t, res.Records, 1)
	assert.Equal(t, StatusUnsupported, res.Records[0].VerificationStatus)
	assert.Contains(t, res.FailureModes, ModeOutOfScope)
}

func TestActiveSystemClaimsWindow(t *testing.T) {
	assert.Empty(t, ActiveSystemClaims(time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)))
	assert.Len(t, ActiveSystemClaims(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)), 3)
}

func TestMetricsSuppressedFraction(t *testing.T) {
	sources := []evidence.Source{primarySource("doc-1", "alpha passed its audit")}
	res := Enforce("Alpha passed its audit. The omega reactor exploded yesterday.", sources, nil)
	assert.Equal(t, 2, res.Metrics.NumClaimsTotal)
	assert.Equal(t, 1, res.Metrics.NumClaimsUnsupported)
	assert.Equal(t, 0.5, res.Metrics.PctSuppressed)
}

func TestFailureModesSortedUnique(t *testing.T) {
	res := Enforce("The omega reactor exploded. The sigma reactor exploded.", nil, nil)
	require.NotEmpty(t, res.FailureModes)
	for i := 1; i < len(res.FailureModes); i++ {
		assert.Less(t, res.FailureModes[i-1], res.FailureModes[i])
	}
}
