package auditpack

import (
	"fmt"
	"sort"
	"strings"

	"github.com/trustgate/trustgate/pkg/canonical"
	"github.com/trustgate/trustgate/pkg/claims"
)

const summaryMaxLen = 220

func sanitizeSummary(text string) string {
	compact := strings.Join(strings.Fields(text), " ")
	runes := []rune(compact)
	if len(runes) > summaryMaxLen {
		runes = runes[:summaryMaxLen]
	}
	return string(runes)
}

// buildNarrative renders the chain-of-custody markdown from the stored
// response. Callers redact the result before it leaves the legal hold store.
func buildNarrative(response, context map[string]any, artifactHashes map[string]string) string {
	decision := objectAt(response, "decision_record")
	claimRecords := mapsOf(listAt(decision, "claims"))
	var suppressed []map[string]any
	for _, claim := range claimRecords {
		if status, _ := claim["verification_status"].(string); status == claims.StatusUnsupported {
			suppressed = append(suppressed, claim)
		}
	}

	answer, _ := response["answer_text"].(string)
	jc := objectAt(objectAt(objectAt(response, "evidence_bundle_user"), "retrieval_metadata"), "jurisdiction_compliance")

	lines := []string{
		"# Chain of Custody Narrative",
		"",
		"## User Request Summary (sanitized)",
		"- " + sanitizeSummary(answer),
		"",
		"## Claims asserted vs suppressed",
		fmt.Sprintf("- total_claims: %d", len(claimRecords)),
		fmt.Sprintf("- suppressed_claims: %d", len(suppressed)),
	}
	for _, claim := range suppressed {
		lines = append(lines, fmt.Sprintf("- suppressed: %v -> %v", claim["claim_id"], claim["claim_text"]))
	}

	lines = append(lines, "", "## Evidence flow (source -> claim)")
	for _, link := range mapsOf(listAt(decision, "evidence_links")) {
		lines = append(lines, fmt.Sprintf("- %v -> %v", link["source_id"], link["claim_id"]))
	}

	lines = append(lines, "", "## Policy decisions applied")
	for _, check := range mapsOf(listAt(decision, "policy_checks")) {
		lines = append(lines, fmt.Sprintf("- %v: passed=%v version=%v details=%v",
			check["policy_id"], check["passed"], check["version"], check["details"]))
	}

	lines = append(lines,
		"",
		"## Jurisdiction Compliance",
		"- allowed_jurisdictions: "+compactJSON(jc["allowed_jurisdictions"]),
		fmt.Sprintf("- accepted_evidence_count: %d", len(listAt(jc, "accepted_evidence"))),
		fmt.Sprintf("- rejected_evidence_count: %d", len(listAt(jc, "rejected_evidence"))),
	)

	lines = append(lines, "", "## Failure modes encountered")
	for _, mode := range listAt(decision, "failure_modes") {
		lines = append(lines, fmt.Sprintf("- %v", mode))
	}

	lines = append(lines, "", "## Artifact hash references")
	names := make([]string, 0, len(artifactHashes))
	for name := range artifactHashes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		lines = append(lines, fmt.Sprintf("- %s: %s", name, artifactHashes[name]))
	}

	lines = append(lines,
		"",
		"## Context summary",
		"- request_metadata: "+compactJSON(objectAt(context, "request_metadata")),
	)
	return strings.Join(lines, "\n") + "\n"
}

func compactJSON(v any) string {
	if v == nil {
		v = []any{}
	}
	raw, err := canonical.JCS(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
