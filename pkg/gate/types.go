package gate

import (
	"github.com/trustgate/trustgate/pkg/claims"
	"github.com/trustgate/trustgate/pkg/evidence"
	"github.com/trustgate/trustgate/pkg/killswitch"
	"github.com/trustgate/trustgate/pkg/policy"
	"github.com/trustgate/trustgate/pkg/redact"
	"github.com/trustgate/trustgate/pkg/replay"
)

// RequestContext carries the host-supplied request metadata the gate
// evaluates alongside the draft answer.
type RequestContext struct {
	Domain               string   `json:"domain,omitempty"`
	AllowedJurisdictions []string `json:"allowed_jurisdictions,omitempty"`
	FailureModes         []string `json:"failure_modes,omitempty"`
	RetentionPolicy      string   `json:"retention_policy,omitempty"`
	RetentionReason      string   `json:"retention_reason,omitempty"`
	LegalHold            bool     `json:"legal_hold,omitempty"`
	TrustModeEffective   string   `json:"trust_mode_effective,omitempty"`
	StreamRequested      bool     `json:"stream_requested,omitempty"`
	ChatSessionID        string   `json:"chat_session_id,omitempty"`
	MessageID            string   `json:"message_id,omitempty"`
	Origin               string   `json:"origin,omitempty"`
	RequestPath          string   `json:"request_path,omitempty"`
}

// Citation numbers one evidence source in the final bundle.
type Citation struct {
	CitationNumber int    `json:"citation_number"`
	SourceID       string `json:"source_id"`
}

// AttributionItem is the user-facing provenance line for one source.
type AttributionItem struct {
	SourceID string  `json:"source_id"`
	Title    *string `json:"title"`
	URI      *string `json:"uri"`
}

// PolicyTraceEntry is the compact per-policy verdict in the outer contract.
type PolicyTraceEntry struct {
	PolicyID string `json:"policy_id"`
	Passed   bool   `json:"passed"`
	Version  string `json:"version"`
}

// HostContext echoes the request metadata into the retrieval metadata block.
type HostContext struct {
	ChatSessionID   string   `json:"chat_session_id"`
	MessageID       string   `json:"message_id"`
	Origin          string   `json:"origin"`
	StreamRequested bool     `json:"stream_requested"`
	RequestPath     string   `json:"request_path"`
	FailureModes    []string `json:"failure_modes"`
	Domain          string   `json:"domain"`
}

// JurisdictionCompliance records the sovereignty partition for one response.
type JurisdictionCompliance struct {
	AllowedJurisdictions []string                   `json:"allowed_jurisdictions"`
	AcceptedEvidence     []evidence.ComplianceEntry `json:"accepted_evidence"`
	RejectedEvidence     []evidence.ComplianceEntry `json:"rejected_evidence"`
}

// RetrievalMetadata summarizes the evidence set behind a response.
type RetrievalMetadata struct {
	ContractVersion           string                 `json:"contract_version"`
	EvidenceCount             int                    `json:"evidence_count"`
	MissingCriticalProvenance bool                   `json:"missing_critical_provenance"`
	MissingProvenanceCount    int                    `json:"missing_provenance_count"`
	JurisdictionCompliance    JurisdictionCompliance `json:"jurisdiction_compliance"`
	HostContext               HostContext            `json:"host_context"`
}

// EvidenceBundle is the user-visible evidence attached to a response.
type EvidenceBundle struct {
	Sources           []evidence.Source `json:"sources"`
	Citations         []Citation        `json:"citations"`
	RetrievalMetadata RetrievalMetadata `json:"retrieval_metadata"`
}

// ReplayMetadata pins the policy and engine versions a trace was gated under.
type ReplayMetadata struct {
	PolicyVersions    map[string]string      `json:"policy_versions"`
	PolicyChangeLog   []policy.VersionChange `json:"policy_change_log"`
	TrustLayerVersion string                 `json:"trust_layer_version"`
	ReplayStatus      string                 `json:"replay_status"`
}

// Retention is the storage policy recorded with a trace.
type Retention struct {
	RetentionPolicy string  `json:"retention_policy"`
	RetentionReason string  `json:"retention_reason"`
	LegalHold       bool    `json:"legal_hold"`
	ExpiryAt        *string `json:"expiry_at"`
}

// DecisionRecord is the full governance record for one gated response.
type DecisionRecord struct {
	Claims                []claims.Record             `json:"claims"`
	ClaimGraph            []claims.GraphEdge          `json:"claim_graph"`
	SystemClaimReferences []claims.SystemClaimRef     `json:"system_claim_references"`
	EvidenceLinks         []claims.EvidenceLink       `json:"evidence_links"`
	PolicyChecks          []policy.Result             `json:"policy_checks"`
	HallucinationEvents   []claims.HallucinationEvent `json:"hallucination_events"`
	ThreatSignals         []evidence.ThreatSignal     `json:"threat_signals"`
	Incidents             []killswitch.Incident       `json:"incidents"`
	RiskReferences        []string                    `json:"risk_references"`
	RedactionEvents       []redact.Event              `json:"redaction_events"`
	ReplayMetadata        ReplayMetadata              `json:"replay_metadata"`
	Metrics               claims.Metrics              `json:"metrics"`
	FailureModes          []string                    `json:"failure_modes"`
	Timestamps            map[string]string           `json:"timestamps"`
	Retention             Retention                   `json:"retention"`
}

// Response is a fully gated answer plus its governance record.
type Response struct {
	AnswerText     string
	EvidenceBundle EvidenceBundle
	DecisionRecord DecisionRecord
	TraceID        string
	ReplayInputs   replay.Inputs
}
