package killswitch

import (
	"strings"
	"time"
)

// Incident types.
const (
	IncidentEvidenceFailure     = "EVIDENCE_FAILURE"
	IncidentHallucinationSpike  = "HALLUCINATION_SPIKE"
	IncidentGateBypassAttempt   = "TRUST_GATE_BYPASS_ATTEMPT"
	IncidentReplayInconsistency = "REPLAY_INCONSISTENCY"
)

// Incident is one detected governance incident for a trace.
type Incident struct {
	TraceID      string `json:"trace_id"`
	IncidentType string `json:"incident_type"`
	Severity     string `json:"severity"`
	Timestamp    string `json:"timestamp"`
}

// ClassifyIncidents derives incidents from a response's failure modes and
// suppression metrics. A bypass attempt arms the system halt automatically.
func ClassifyIncidents(sw *Switch, traceID string, failureModes []string, pctSuppressed float64, replayConsistent bool, now time.Time) []Incident {
	ts := now.UTC().Format(time.RFC3339Nano)
	var incidents []Incident

	for _, mode := range failureModes {
		if mode == "no_supporting_evidence_found" {
			incidents = append(incidents, Incident{traceID, IncidentEvidenceFailure, "MEDIUM", ts})
			break
		}
	}

	if pctSuppressed >= 0.5 {
		incidents = append(incidents, Incident{traceID, IncidentHallucinationSpike, "HIGH", ts})
	}

	for _, mode := range failureModes {
		if strings.Contains(mode, IncidentGateBypassAttempt) {
			incidents = append(incidents, Incident{traceID, IncidentGateBypassAttempt, "CRITICAL", ts})
			break
		}
	}

	if !replayConsistent {
		incidents = append(incidents, Incident{traceID, IncidentReplayInconsistency, "HIGH", ts})
	}

	for _, incident := range incidents {
		if incident.IncidentType == IncidentGateBypassAttempt && sw != nil {
			sw.Activate(ModeSystemHalt, "auto halt due to bypass attempt", "", "")
		}
	}

	return incidents
}
