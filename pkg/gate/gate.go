// Package gate enforces the trust boundary: every draft answer is normalized,
// claim-checked, policy-evaluated and persisted before anything reaches the
// user, and the only thing that leaves is the fixed response contract.
package gate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trustgate/trustgate/pkg/claims"
	"github.com/trustgate/trustgate/pkg/evidence"
	"github.com/trustgate/trustgate/pkg/killswitch"
	"github.com/trustgate/trustgate/pkg/policy"
	"github.com/trustgate/trustgate/pkg/redact"
	"github.com/trustgate/trustgate/pkg/replay"
	"github.com/trustgate/trustgate/pkg/risk"
	"github.com/trustgate/trustgate/pkg/tracestore"
)

// DefaultAllowedJurisdictions applies when the request carries none.
var DefaultAllowedJurisdictions = []string{"US", "EU", "UK", "CA", "UNKNOWN"}

// DefaultTrustedTools may contribute SECONDARY evidence.
func DefaultTrustedTools() map[string]bool {
	return map[string]bool{"search_docs": true}
}

// Config wires a Gate's collaborators.
type Config struct {
	Switch       *killswitch.Switch
	Store        tracestore.Store
	LegalHold    *tracestore.LegalHoldStore
	TrustedTools map[string]bool
	Logger       *slog.Logger
}

// Gate is the trust-and-evidence enforcement pipeline.
type Gate struct {
	sw           *killswitch.Switch
	store        tracestore.Store
	legalHold    *tracestore.LegalHoldStore
	trustedTools map[string]bool
	logger       *slog.Logger
	now          func() time.Time
	newTraceID   func() string
}

// New builds a Gate. Store may be nil for evaluation-only use; everything
// else gets a sensible default.
func New(cfg Config) *Gate {
	sw := cfg.Switch
	if sw == nil {
		sw = killswitch.New()
	}
	tools := cfg.TrustedTools
	if tools == nil {
		tools = DefaultTrustedTools()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		sw:           sw,
		store:        cfg.Store,
		legalHold:    cfg.LegalHold,
		trustedTools: tools,
		logger:       logger,
		now:          time.Now,
		newTraceID:   uuid.NewString,
	}
}

// Switch exposes the kill switch for admin control surfaces.
func (g *Gate) Switch() *killswitch.Switch { return g.sw }

// GateResponse runs the full pipeline over a draft answer and its retrieved
// evidence, persists the trace, and returns the gated response.
func (g *Gate) GateResponse(draftAnswer string, retrievedEvidence []map[string]any, reqCtx RequestContext) (*Response, error) {
	traceID := g.newTraceID()
	now := g.now().UTC()
	nowISO := now.Format(time.RFC3339Nano)

	normalized := evidence.NormalizeRaw(retrievedEvidence, g.trustedTools)

	allowedJurisdictions := reqCtx.AllowedJurisdictions
	if len(allowedJurisdictions) == 0 {
		allowedJurisdictions = DefaultAllowedJurisdictions
	}
	accepted, acceptedMeta, rejectedMeta, jurisdictionViolation := evidence.EnforceJurisdiction(
		normalized, allowedJurisdictions, "response_generation")

	threatSignals := evidence.ClassifyThreatSignals(draftAnswer, accepted)
	sources := evidence.ApplyThreatContainment(accepted, threatSignals)

	enforcement := claims.Enforce(draftAnswer, sources, claims.ActiveSystemClaims(now))

	claimTypes := uniqueClaimTypes(enforcement.Records)
	domain := reqCtx.Domain
	if domain == "" {
		domain = "general"
	}
	halted, haltReason := g.sw.ShouldHalt(domain, claimTypes)

	contextualFailures := sortedUniqueStrings(reqCtx.FailureModes)
	failureModes := append(append([]string{}, enforcement.FailureModes...), contextualFailures...)
	failureModes = sortedUniqueStrings(failureModes)

	missingProvenance, missingProvenanceCount := missingCriticalProvenance(retrievedEvidence)
	enforceMode := reqCtx.TrustModeEffective == "enforce"
	if missingProvenance && enforceMode {
		failureModes = append(failureModes, "critical_provenance_missing")
	}

	factualViolations := 0
	for _, rec := range enforcement.Records {
		if rec.ClaimType == claims.TypeFactual && rec.VerificationStatus != claims.StatusSupported {
			factualViolations++
		}
	}
	streamBlocked := !reqCtx.StreamRequested

	var redactionEvents []redact.Event
	redactedAnswer, answerRedactions := redact.Text(enforcement.SanitizedText)
	redactionEvents = append(redactionEvents, answerRedactions...)

	redactedSources := make([]evidence.Source, 0, len(sources))
	for _, src := range sources {
		snippet, snippetRedactions := redact.Text(src.Snippet)
		redactionEvents = append(redactionEvents, snippetRedactions...)
		src.Snippet = snippet
		redactedSources = append(redactedSources, src)
	}
	sources = redactedSources

	policyChecks := policy.EvaluateChecks(policy.CheckInput{
		EvidenceCount:         len(sources),
		UnsupportedClaimCount: enforcement.Metrics.NumClaimsUnsupported,
		FactualTrustViolation: factualViolations,
		StreamBlocked:         streamBlocked,
		JurisdictionViolation: jurisdictionViolation,
		RedactionApplied:      len(redactionEvents) > 0,
	}, now)

	citations := make([]Citation, 0, len(sources))
	for i, src := range sources {
		citations = append(citations, Citation{CitationNumber: i + 1, SourceID: src.ID})
	}

	var refusals []string
	if jurisdictionViolation {
		refusals = append(refusals, "REFUSE: jurisdiction_violation_disallowed_evidence")
		failureModes = append(failureModes, "jurisdiction_violation")
	}
	if halted {
		refusals = append(refusals, fmt.Sprintf("REFUSE: kill_switch_active (%s)", haltReason))
		failureModes = append(failureModes, "kill_switch_active")
	}
	if missingProvenance && enforceMode {
		refusals = append(refusals, "REFUSE: critical_provenance_missing")
	}

	finalAnswer := redactedAnswer
	if len(refusals) > 0 {
		finalAnswer = strings.Join(refusals, "\n")
	} else if len(sources) == 0 && enforcement.Metrics.NumClaimsUnsupported > 0 && !startsWithUnknown(finalAnswer) {
		finalAnswer = "UNKNOWN: no supporting evidence found."
	}

	retention := retentionFromContext(reqCtx, now)
	replayInputs := replay.BuildInputs(draftAnswer, retrievedEvidence, g.trustedTools)
	replayMetadata := ReplayMetadata{
		PolicyVersions:    policy.Versions(),
		PolicyChangeLog:   policy.VersionChangeLog(),
		TrustLayerVersion: replay.TrustLayerVersion,
		ReplayStatus:      "available",
	}

	finalFailureModes := sortedUniqueStrings(failureModes)
	incidents := killswitch.ClassifyIncidents(g.sw, traceID, finalFailureModes,
		enforcement.Metrics.PctSuppressed, true, now)
	riskRefs := risk.BindApplicable(len(threatSignals), failureModes)

	response := &Response{
		AnswerText: finalAnswer,
		EvidenceBundle: EvidenceBundle{
			Sources:   sources,
			Citations: citations,
			RetrievalMetadata: RetrievalMetadata{
				ContractVersion:           "1.0",
				EvidenceCount:             len(sources),
				MissingCriticalProvenance: missingProvenance,
				MissingProvenanceCount:    missingProvenanceCount,
				JurisdictionCompliance: JurisdictionCompliance{
					AllowedJurisdictions: upperSorted(allowedJurisdictions),
					AcceptedEvidence:     acceptedMeta,
					RejectedEvidence:     rejectedMeta,
				},
				HostContext: HostContext{
					ChatSessionID:   reqCtx.ChatSessionID,
					MessageID:       reqCtx.MessageID,
					Origin:          reqCtx.Origin,
					StreamRequested: reqCtx.StreamRequested,
					RequestPath:     reqCtx.RequestPath,
					FailureModes:    contextualFailures,
					Domain:          domain,
				},
			},
		},
		DecisionRecord: DecisionRecord{
			Claims:                enforcement.Records,
			ClaimGraph:            enforcement.Graph,
			SystemClaimReferences: enforcement.SystemClaimRefs,
			EvidenceLinks:         enforcement.EvidenceLinks,
			PolicyChecks:          policyChecks,
			HallucinationEvents:   enforcement.HallucinationEvents,
			ThreatSignals:         threatSignals,
			Incidents:             incidents,
			RiskReferences:        riskRefs,
			RedactionEvents:       redactionEvents,
			ReplayMetadata:        replayMetadata,
			Metrics:               enforcement.Metrics,
			FailureModes:          finalFailureModes,
			Timestamps:            map[string]string{"gated_at": nowISO},
			Retention:             retention,
		},
		TraceID:      traceID,
		ReplayInputs: replayInputs,
	}

	payload := response.Contract()
	serialized, err := canonicalPayload(payload)
	if err != nil {
		return nil, err
	}
	if err := AssertContractShape(serialized); err != nil {
		return nil, err
	}

	if g.store != nil {
		rawContext := map[string]any{
			"request_metadata":         reqCtx,
			"retrieved_evidence_count": len(retrievedEvidence),
			"kill_switch_state":        g.sw.Snapshot(),
		}
		if _, err := g.store.Store(traceID, payload, rawContext, replayInputs); err != nil {
			return nil, fmt.Errorf("gate: store trace: %w", err)
		}
	}

	if retention.LegalHold && g.legalHold != nil {
		if _, err := g.legalHold.StoreUnredacted(traceID, enforcement.SanitizedText, retrievedEvidence, ""); err != nil {
			return nil, fmt.Errorf("gate: legal hold copy: %w", err)
		}
	}

	g.logger.Info("response gated",
		"trace_id", traceID,
		"decision", payload.Decision,
		"evidence_count", len(sources),
		"failure_modes", len(finalFailureModes),
		"incidents", len(incidents))

	return response, nil
}

func canonicalPayload(payload ContractPayload) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gate: serialize contract: %w", err)
	}
	return raw, nil
}

func missingCriticalProvenance(rawEvidence []map[string]any) (bool, int) {
	count := 0
	for _, item := range rawEvidence {
		prov, ok := item["provenance"].(map[string]any)
		if !ok {
			continue
		}
		if missing, ok := prov["missing_fields"].([]any); ok && len(missing) > 0 {
			count++
		} else if missing, ok := prov["missing_fields"].([]string); ok && len(missing) > 0 {
			count++
		}
	}
	return count > 0, count
}

func retentionFromContext(reqCtx RequestContext, now time.Time) Retention {
	policyName := reqCtx.RetentionPolicy
	if policyName == "" {
		policyName = "30_DAYS"
	}
	reason := reqCtx.RetentionReason
	if reason == "" {
		reason = "AUDIT"
	}
	var expiry *string
	switch policyName {
	case "30_DAYS":
		s := now.Add(30 * 24 * time.Hour).Format(time.RFC3339Nano)
		expiry = &s
	case "90_DAYS":
		s := now.Add(90 * 24 * time.Hour).Format(time.RFC3339Nano)
		expiry = &s
	}
	return Retention{
		RetentionPolicy: policyName,
		RetentionReason: reason,
		LegalHold:       reqCtx.LegalHold,
		ExpiryAt:        expiry,
	}
}

func uniqueClaimTypes(records []claims.Record) []string {
	set := make(map[string]bool, len(records))
	for _, rec := range records {
		set[rec.ClaimType] = true
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func sortedUniqueStrings(values []string) []string {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		if v != "" {
			set[v] = true
		}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func upperSorted(values []string) []string {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[strings.ToUpper(v)] = true
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func startsWithUnknown(answer string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "unknown:")
}
