// Package risk tracks accepted residual risks and binds them to the traces
// they materialize in.
package risk

import "sort"

// ResidualRisk is one accepted, periodically reviewed residual risk.
type ResidualRisk struct {
	RiskID      string `json:"risk_id"`
	Description string `json:"description"`
	Mitigation  string `json:"mitigation"`
	AcceptedBy  string `json:"accepted_by"`
	ReviewCycle string `json:"review_cycle"`
	Status      string `json:"status"`
}

var activeRisks = []ResidualRisk{
	{
		RiskID:      "RISK-001",
		Description: "Lexical heuristics may miss nuanced entailment.",
		Mitigation:  "Fail-closed suppression and periodic rule review.",
		AcceptedBy:  "Chief Risk Officer",
		ReviewCycle: "quarterly",
		Status:      "accepted",
	},
	{
		RiskID:      "RISK-002",
		Description: "Threat classification is deterministic and may under-detect advanced attacks.",
		Mitigation:  "Escalate suspicious traces and add model-based detector in roadmap.",
		AcceptedBy:  "Security Governance Board",
		ReviewCycle: "monthly",
		Status:      "accepted",
	},
}

// ActiveRisks returns a copy of the register.
func ActiveRisks() []ResidualRisk {
	out := make([]ResidualRisk, len(activeRisks))
	copy(out, activeRisks)
	return out
}

var suppressionModes = map[string]bool{
	"unsupported_claim": true,
	"OUT_OF_SCOPE":      true,
	"NO_EVIDENCE":       true,
}

// BindApplicable returns the sorted ids of risks that materialized for a
// response, given its failure modes and threat signal count.
func BindApplicable(threatSignalCount int, failureModes []string) []string {
	bound := make(map[string]bool, 2)
	for _, mode := range failureModes {
		if suppressionModes[mode] {
			bound["RISK-001"] = true
			break
		}
	}
	if threatSignalCount > 0 {
		bound["RISK-002"] = true
	}
	out := make([]string, 0, len(bound))
	for id := range bound {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
