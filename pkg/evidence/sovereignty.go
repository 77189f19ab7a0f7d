package evidence

import (
	"sort"
	"strings"
)

var jurisdictions = map[string]bool{
	"EU": true, "US": true, "UK": true, "CA": true, "UNKNOWN": true,
}

var dataClassifications = map[string]bool{
	"PUBLIC": true, "INTERNAL": true, "CONFIDENTIAL": true, "REGULATED": true,
}

// DefaultAllowedScopes applies when a raw item carries no scope list.
func DefaultAllowedScopes() []string {
	return []string{"response_generation", "retrieval", "enforcement"}
}

// NormalizeJurisdiction maps free-form input to the closed jurisdiction set,
// defaulting to UNKNOWN.
func NormalizeJurisdiction(raw any) string {
	if s, ok := raw.(string); ok {
		if upper := strings.ToUpper(s); jurisdictions[upper] {
			return upper
		}
	}
	return "UNKNOWN"
}

// NormalizeDataClassification maps free-form input to the closed
// classification set, defaulting to INTERNAL.
func NormalizeDataClassification(raw any) string {
	if s, ok := raw.(string); ok {
		if upper := strings.ToUpper(s); dataClassifications[upper] {
			return upper
		}
	}
	return "INTERNAL"
}

// NormalizeAllowedScopes deduplicates and sorts a raw scope list, falling
// back to the default scope set.
func NormalizeAllowedScopes(raw any) []string {
	list, ok := raw.([]any)
	if !ok {
		if strs, ok := raw.([]string); ok {
			list = make([]any, len(strs))
			for i, s := range strs {
				list[i] = s
			}
		} else {
			return DefaultAllowedScopes()
		}
	}
	set := make(map[string]bool, len(list))
	for _, v := range list {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			set[s] = true
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ComplianceEntry describes one source's jurisdiction decision.
type ComplianceEntry struct {
	SourceID           string `json:"source_id"`
	Jurisdiction       string `json:"jurisdiction"`
	DataClassification string `json:"data_classification"`
	RequiredScope      string `json:"required_scope"`
	Reason             string `json:"reason,omitempty"`
}

// EnforceJurisdiction partitions sources into accepted and rejected sets. A
// source is rejected when its jurisdiction is outside the allowed set or it
// does not grant the required scope. Violation is true whenever anything was
// rejected.
func EnforceJurisdiction(sources []Source, allowedJurisdictions []string, requiredScope string) (accepted []Source, acceptedMeta, rejectedMeta []ComplianceEntry, violation bool) {
	allowed := make(map[string]bool, len(allowedJurisdictions))
	for _, j := range allowedJurisdictions {
		allowed[strings.ToUpper(j)] = true
	}

	accepted = make([]Source, 0, len(sources))
	acceptedMeta = make([]ComplianceEntry, 0, len(sources))
	rejectedMeta = make([]ComplianceEntry, 0)

	for _, src := range sources {
		meta := ComplianceEntry{
			SourceID:           src.ID,
			Jurisdiction:       src.Jurisdiction,
			DataClassification: src.DataClassification,
			RequiredScope:      requiredScope,
		}
		if allowed[src.Jurisdiction] && src.HasScope(requiredScope) {
			accepted = append(accepted, src)
			acceptedMeta = append(acceptedMeta, meta)
			continue
		}
		if !allowed[src.Jurisdiction] {
			meta.Reason = "disallowed_jurisdiction"
		} else {
			meta.Reason = "scope_not_allowed"
		}
		rejectedMeta = append(rejectedMeta, meta)
	}
	return accepted, acceptedMeta, rejectedMeta, len(rejectedMeta) > 0
}
