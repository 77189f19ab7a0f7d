package claims

import (
	"strings"
	"time"
)

// SystemBehaviorClaim is an attestable statement about runtime behavior,
// backed by enforcement points and executable evidence.
type SystemBehaviorClaim struct {
	SystemClaimID string   `json:"system_claim_id"`
	Description   string   `json:"description"`
	Scope         string   `json:"scope"`
	EnforcedBy    []string `json:"enforced_by"`
	Evidence      []string `json:"evidence"`
	ValidFrom     string   `json:"valid_from"`
	ValidTo       *string  `json:"valid_to"`
	Version       string   `json:"version"`
}

var systemBehaviorClaims = []SystemBehaviorClaim{
	{
		SystemClaimID: "SYS-RESP-001",
		Description:   "System enforces strict four-key response contract at boundary",
		Scope:         "enforcement",
		EnforcedBy:    []string{"pkg/gate", "pkg/gate/boundary"},
		Evidence:      []string{"TestResponseContractShape", "TestNoRawOutputAtBoundary"},
		ValidFrom:     "2026-01-01",
		Version:       "1.0.0",
	},
	{
		SystemClaimID: "SYS-EVID-001",
		Description:   "Unsupported claims are transformed to UNKNOWN fail-closed",
		Scope:         "response_generation",
		EnforcedBy:    []string{"pkg/claims", "pkg/gate"},
		Evidence:      []string{"TestFailClosedUnsupportedClaims", "TestHallucinationEventsAndMetrics"},
		ValidFrom:     "2026-01-01",
		Version:       "1.0.0",
	},
	{
		SystemClaimID: "SYS-AUD-001",
		Description:   "Audit pack integrity validates trace and payload hashes",
		Scope:         "audit",
		EnforcedBy:    []string{"pkg/auditpack"},
		Evidence:      []string{"TestExportRejectsHashMismatch", "TestExportRejectsTraceMismatch"},
		ValidFrom:     "2026-01-01",
		Version:       "1.0.0",
	},
}

// ActiveSystemClaims returns the claims whose validity window contains the
// given instant.
func ActiveSystemClaims(at time.Time) []SystemBehaviorClaim {
	day := at.Format("2006-01-02")
	active := make([]SystemBehaviorClaim, 0, len(systemBehaviorClaims))
	for _, claim := range systemBehaviorClaims {
		if day < claim.ValidFrom {
			continue
		}
		if claim.ValidTo != nil && day > *claim.ValidTo {
			continue
		}
		active = append(active, claim)
	}
	return active
}

// MatchSystemClaim resolves an asserted system-behavior statement against the
// active registry. A claim matches when one text contains the other, or when
// at least three distinctive description tokens appear in the statement.
func MatchSystemClaim(claimText string, active []SystemBehaviorClaim) *SystemBehaviorClaim {
	lowered := strings.ToLower(claimText)
	for i := range active {
		desc := strings.ToLower(active[i].Description)
		if strings.Contains(desc, lowered) || strings.Contains(lowered, desc) {
			return &active[i]
		}
		hits := 0
		for _, token := range strings.Fields(desc) {
			if len(token) > 4 && strings.Contains(lowered, token) {
				hits++
			}
		}
		if hits >= 3 {
			return &active[i]
		}
	}
	return nil
}
