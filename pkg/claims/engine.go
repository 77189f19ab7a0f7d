package claims

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/trustgate/trustgate/pkg/evidence"
)

// Claim types.
const (
	TypeFactual      = "FACTUAL"
	TypeDerived      = "DERIVED"
	TypeInterpretive = "INTERPRETIVE"
	TypeSystem       = "SYSTEM"
)

// Verification statuses.
const (
	StatusSupported   = "SUPPORTED"
	StatusPartial     = "PARTIAL"
	StatusUnsupported = "UNSUPPORTED"
)

// Hallucination modes.
const (
	ModeNoEvidence    = "NO_EVIDENCE"
	ModeContradicted  = "CONTRADICTED"
	ModeOutOfScope    = "OUT_OF_SCOPE"
	ModeToolUntrusted = "TOOL_UNTRUSTED"
)

var (
	wordRe      = regexp.MustCompile(`[a-zA-Z0-9]+`)
	paragraphRe = regexp.MustCompile(`\n+`)
)

var conversationalPrefixes = []string{
	"hi",
	"hello",
	"thanks",
	"thank you",
	"you're welcome",
	"how can i help",
}

var interpretiveMarkers = []string{
	"suggests",
	"likely",
	"recommend",
	"appears",
	"possibly",
	"probably",
	"seems",
}

var systemMarkers = []string{
	"system",
	"policy",
	"tool",
	"capability",
	"gate",
	"unknown",
	"response contract",
}

var derivedPrefixes = []string{
	"therefore",
	"thus",
	"hence",
	"as a result",
	"this means",
	"so ",
	"based on",
}

// Record captures one claim's classification and verdict.
type Record struct {
	ClaimID            string `json:"claim_id"`
	ClaimText          string `json:"claim_text"`
	ClaimType          string `json:"claim_type"`
	EvidenceRequired   bool   `json:"evidence_required"`
	VerificationStatus string `json:"verification_status"`
}

// EvidenceLink ties a claim to a source that lexically supports it.
type EvidenceLink struct {
	ClaimID  string `json:"claim_id"`
	SourceID string `json:"source_id"`
}

// GraphEdge records a derived claim's dependence on an earlier claim.
type GraphEdge struct {
	ClaimID     string `json:"claim_id"`
	DerivedFrom string `json:"derived_from"`
}

// HallucinationEvent is emitted whenever a claim is suppressed or degraded.
type HallucinationEvent struct {
	EventType string `json:"event_type"`
	Severity  string `json:"severity"`
	ClaimID   string `json:"claim_id"`
	Mode      string `json:"mode"`
}

// SystemClaimRef links an asserted SYSTEM claim to its registry entry.
type SystemClaimRef struct {
	ClaimID       string `json:"claim_id"`
	SystemClaimID string `json:"system_claim_id"`
}

// Metrics summarizes the enforcement pass.
type Metrics struct {
	NumClaimsTotal       int     `json:"num_claims_total"`
	NumClaimsUnsupported int     `json:"num_claims_unsupported"`
	PctSuppressed        float64 `json:"pct_suppressed"`
}

// EnforcementResult is the full output of a claim enforcement pass.
type EnforcementResult struct {
	SanitizedText       string
	Records             []Record
	EvidenceLinks       []EvidenceLink
	Graph               []GraphEdge
	FailureModes        []string
	HallucinationEvents []HallucinationEvent
	Metrics             Metrics
	SystemClaimRefs     []SystemClaimRef
}

// Split breaks answer text into claim candidates: paragraph breaks and
// whitespace after terminal punctuation both end a claim.
func Split(answerText string) []string {
	var claims []string
	for _, line := range paragraphRe.Split(answerText, -1) {
		claims = append(claims, splitSentences(line)...)
	}
	if len(claims) == 0 {
		if trimmed := strings.TrimSpace(answerText); trimmed != "" {
			return []string{trimmed}
		}
		return nil
	}
	return claims
}

func splitSentences(line string) []string {
	var out []string
	start := 0
	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
			if i+1 < len(runes) && isSpace(runes[i+1]) {
				if chunk := strings.TrimSpace(string(runes[start : i+1])); chunk != "" {
					out = append(out, chunk)
				}
				for i+1 < len(runes) && isSpace(runes[i+1]) {
					i++
				}
				start = i + 1
			}
		}
	}
	if chunk := strings.TrimSpace(string(runes[start:])); chunk != "" {
		out = append(out, chunk)
	}
	return out
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

// IsConversational reports whether a claim is a greeting or pleasantry that
// needs no evidence.
func IsConversational(claim string) bool {
	lowered := strings.ToLower(strings.TrimSpace(claim))
	for _, prefix := range conversationalPrefixes {
		if strings.HasPrefix(lowered, prefix) {
			return true
		}
	}
	return false
}

// Classify assigns a claim type from surface markers. Derived prefixes win
// over interpretive markers, which win over system markers.
func Classify(claimText string) string {
	lowered := strings.ToLower(strings.TrimSpace(claimText))
	for _, prefix := range derivedPrefixes {
		if strings.HasPrefix(lowered, prefix) {
			return TypeDerived
		}
	}
	for _, marker := range interpretiveMarkers {
		if strings.Contains(lowered, marker) {
			return TypeInterpretive
		}
	}
	for _, marker := range systemMarkers {
		if strings.Contains(lowered, marker) {
			return TypeSystem
		}
	}
	return TypeFactual
}

func keywords(text string) map[string]bool {
	set := make(map[string]bool)
	for _, token := range wordRe.FindAllString(text, -1) {
		if len(token) >= 4 {
			set[strings.ToLower(token)] = true
		}
	}
	return set
}

func checkContradiction(claimText, snippet string) bool {
	claimHasNot := strings.Contains(strings.ToLower(claimText), " not ")
	snippetHasNot := strings.Contains(strings.ToLower(snippet), " not ")
	return claimHasNot != snippetHasNot
}

func findLexicalMatches(claimText string, sources []evidence.Source) (matches []evidence.Source, contradicted bool) {
	claimL := strings.ToLower(claimText)
	claimKeywords := keywords(claimText)

	for _, src := range sources {
		snippetL := strings.ToLower(src.Snippet)
		if strings.Contains(snippetL, claimL) {
			matches = append(matches, src)
			contradicted = contradicted || checkContradiction(claimText, src.Snippet)
			continue
		}
		if len(claimKeywords) == 0 {
			continue
		}
		overlap := 0
		for kw := range keywords(snippetL) {
			if claimKeywords[kw] {
				overlap++
			}
		}
		if overlap >= 1 {
			matches = append(matches, src)
			contradicted = contradicted || checkContradiction(claimText, src.Snippet)
		}
	}
	return matches, contradicted
}

func verifyFactual(matches []evidence.Source) (string, string) {
	primary, secondary := 0, 0
	allUnverified := len(matches) > 0
	for _, m := range matches {
		switch m.TrustLevel {
		case evidence.TrustPrimary:
			primary++
			allUnverified = false
		case evidence.TrustSecondary:
			secondary++
			allUnverified = false
		}
	}
	switch {
	case primary > 0 || secondary >= 2:
		return StatusSupported, ""
	case allUnverified:
		return StatusUnsupported, ModeToolUntrusted
	case len(matches) > 0:
		return StatusUnsupported, ModeOutOfScope
	default:
		return StatusUnsupported, ModeNoEvidence
	}
}

func verifyInterpretive(matches []evidence.Source) (string, string) {
	if len(matches) == 0 {
		return StatusUnsupported, ModeNoEvidence
	}
	for _, m := range matches {
		if m.TrustLevel == evidence.TrustPrimary || m.TrustLevel == evidence.TrustSecondary {
			return StatusPartial, ""
		}
	}
	return StatusPartial, ModeToolUntrusted
}

func severity(claimType string) string {
	switch claimType {
	case TypeFactual, TypeSystem:
		return "HIGH"
	case TypeDerived:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// Enforce verifies every claim in the draft answer against the evidence set
// and the active system-claim registry, rewriting unsupported claims to
// UNKNOWN and partial ones to PARTIAL.
func Enforce(draftAnswerText string, sources []evidence.Source, systemClaims []SystemBehaviorClaim) EnforcementResult {
	claimTexts := Split(draftAnswerText)

	if len(claimTexts) == 0 {
		return EnforcementResult{
			SanitizedText: "UNKNOWN: no answer content generated.",
			FailureModes:  []string{"empty_draft_answer"},
		}
	}

	res := EnforcementResult{}
	var outputLines []string
	var supportedIDs []string

	for idx, claimText := range claimTexts {
		claimID := fmt.Sprintf("claim_%d", idx+1)
		claimType := Classify(claimText)
		evidenceRequired := !IsConversational(claimText)

		matches, contradicted := findLexicalMatches(claimText, sources)

		var status, mode string

		switch claimType {
		case TypeSystem:
			if matched := MatchSystemClaim(claimText, systemClaims); matched != nil {
				status = StatusSupported
				res.SystemClaimRefs = append(res.SystemClaimRefs, SystemClaimRef{
					ClaimID:       claimID,
					SystemClaimID: matched.SystemClaimID,
				})
			} else {
				status = StatusUnsupported
				mode = ModeOutOfScope
			}
		case TypeInterpretive:
			status, mode = verifyInterpretive(matches)
		case TypeDerived:
			parents := supportedIDs
			if len(parents) > 2 {
				parents = parents[len(parents)-2:]
			}
			for _, parent := range parents {
				res.Graph = append(res.Graph, GraphEdge{ClaimID: claimID, DerivedFrom: parent})
			}
			if len(parents) > 0 {
				status = StatusSupported
			} else {
				status = StatusUnsupported
				mode = ModeOutOfScope
			}
		default:
			status, mode = verifyFactual(matches)
		}

		if contradicted && status != StatusSupported {
			mode = ModeContradicted
		}

		if !evidenceRequired {
			status = StatusSupported
			mode = ""
		}

		if status == StatusSupported || status == StatusPartial {
			if status == StatusPartial {
				outputLines = append(outputLines, "PARTIAL: "+claimText)
			} else {
				outputLines = append(outputLines, claimText)
			}
			supportedIDs = append(supportedIDs, claimID)
		} else {
			outputLines = append(outputLines, "UNKNOWN: "+claimText)
			res.FailureModes = append(res.FailureModes, "unsupported_claim")
		}

		if mode != "" {
			res.FailureModes = append(res.FailureModes, mode)
			res.HallucinationEvents = append(res.HallucinationEvents, HallucinationEvent{
				EventType: "HALLUCINATION_SUPPRESSED",
				Severity:  severity(claimType),
				ClaimID:   claimID,
				Mode:      mode,
			})
		}

		res.Records = append(res.Records, Record{
			ClaimID:            claimID,
			ClaimText:          claimText,
			ClaimType:          claimType,
			EvidenceRequired:   evidenceRequired,
			VerificationStatus: status,
		})

		for _, m := range matches {
			res.EvidenceLinks = append(res.EvidenceLinks, EvidenceLink{ClaimID: claimID, SourceID: m.ID})
		}
	}

	if len(sources) == 0 {
		res.FailureModes = append(res.FailureModes, "no_supporting_evidence_found")
	}

	total := len(res.Records)
	unsupported := 0
	for _, rec := range res.Records {
		if rec.VerificationStatus == StatusUnsupported {
			unsupported++
		}
	}
	res.Metrics = Metrics{
		NumClaimsTotal:       total,
		NumClaimsUnsupported: unsupported,
	}
	if total > 0 {
		res.Metrics.PctSuppressed = math.Round(float64(unsupported)/float64(total)*10000) / 10000
	}

	res.SanitizedText = strings.Join(outputLines, "\n")
	res.FailureModes = sortedUnique(res.FailureModes)
	return res
}

func sortedUnique(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
