package evidence

import "strings"

// Threat types emitted by the classifier.
const (
	ThreatPromptInjection   = "PROMPT_INJECTION_ATTEMPT"
	ThreatEvidencePoisoning = "EVIDENCE_POISONING_SUSPECTED"
)

// ThreatSignal is a deterministic classification of a suspicious pattern in
// the draft answer or the evidence snippets.
type ThreatSignal struct {
	ThreatType string `json:"threat_type"`
	Confidence string `json:"confidence"`
}

var injectionMarkers = []string{
	"ignore previous instructions",
	"system prompt",
	"override policy",
}

var poisoningMarkers = []string{
	"jailbreak",
	"fabricated",
	"poison",
	"do not trust policy",
}

// ClassifyThreatSignals scans the draft answer for injection markers and the
// evidence snippets for poisoning markers. Two or more poisoning hits raise
// the confidence to HIGH.
func ClassifyThreatSignals(answerText string, sources []Source) []ThreatSignal {
	signals := make([]ThreatSignal, 0, 2)
	answerL := strings.ToLower(answerText)

	for _, marker := range injectionMarkers {
		if strings.Contains(answerL, marker) {
			signals = append(signals, ThreatSignal{ThreatType: ThreatPromptInjection, Confidence: "HIGH"})
			break
		}
	}

	poisoningHits := 0
	for _, src := range sources {
		snippetL := strings.ToLower(src.Snippet)
		for _, marker := range poisoningMarkers {
			if strings.Contains(snippetL, marker) {
				poisoningHits++
			}
		}
	}
	if poisoningHits > 0 {
		confidence := "MEDIUM"
		if poisoningHits >= 2 {
			confidence = "HIGH"
		}
		signals = append(signals, ThreatSignal{ThreatType: ThreatEvidencePoisoning, Confidence: confidence})
	}

	return signals
}

// ApplyThreatContainment downgrades surviving sources when threats are
// present: poisoning forces every trust level to UNVERIFIED, and any threat
// reduces confidence weight by 0.3 floored at zero.
func ApplyThreatContainment(sources []Source, signals []ThreatSignal) []Source {
	var hasPoisoning, hasInjection bool
	for _, s := range signals {
		switch s.ThreatType {
		case ThreatEvidencePoisoning:
			hasPoisoning = true
		case ThreatPromptInjection:
			hasInjection = true
		}
	}
	if !hasPoisoning && !hasInjection {
		return sources
	}

	downgraded := make([]Source, 0, len(sources))
	for _, src := range sources {
		contained := src
		if hasPoisoning {
			contained.TrustLevel = TrustUnverified
		}
		contained.ConfidenceWeight = src.ConfidenceWeight - 0.3
		if contained.ConfidenceWeight < 0 {
			contained.ConfidenceWeight = 0
		}
		downgraded = append(downgraded, contained)
	}
	return downgraded
}
