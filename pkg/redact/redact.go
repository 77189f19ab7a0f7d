// Package redact scrubs well-known PII shapes from outbound text before it
// crosses the response boundary or lands in an audit narrative.
package redact

import (
	"fmt"
	"regexp"
)

var (
	emailRe         = regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`)
	phoneRe         = regexp.MustCompile(`\b(?:\+?\d{1,2}[\s.-]?)?(?:\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4})\b`)
	nationalIDRe    = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	medicalRecordRe = regexp.MustCompile(`(?i)\bMRN[-:\s]?\d{6,10}\b`)
)

var detectors = []struct {
	label   string
	pattern *regexp.Regexp
}{
	{"EMAIL", emailRe},
	{"PHONE", phoneRe},
	{"NATIONAL_ID", nationalIDRe},
	{"MEDICAL_RECORD", medicalRecordRe},
}

// Event records one detector firing during a redaction pass.
type Event struct {
	PolicyID string `json:"policy_id"`
	Detector string `json:"detector"`
	Count    int    `json:"count"`
}

// Text replaces every detected PII span with a labeled placeholder and
// reports which detectors fired. Detectors run in a fixed order so earlier
// replacements are visible to later patterns.
func Text(text string) (string, []Event) {
	redacted := text
	var events []Event
	for _, d := range detectors {
		matches := d.pattern.FindAllString(redacted, -1)
		if len(matches) == 0 {
			continue
		}
		redacted = d.pattern.ReplaceAllString(redacted, fmt.Sprintf("[REDACTED_%s]", d.label))
		events = append(events, Event{
			PolicyID: "pii_redaction",
			Detector: d.label,
			Count:    len(matches),
		})
	}
	return redacted, events
}
