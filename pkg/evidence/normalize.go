package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/trustgate/trustgate/pkg/canonical"
)

var trustLevels = map[string]bool{
	TrustPrimary:    true,
	TrustSecondary:  true,
	TrustUnverified: true,
}

var origins = map[string]bool{
	OriginInternal:   true,
	OriginCustomer:   true,
	OriginThirdParty: true,
	OriginTool:       true,
}

var defaultConfidence = map[string]float64{
	TrustPrimary:    0.9,
	TrustSecondary:  0.6,
	TrustUnverified: 0.2,
}

// SourceHash computes the content hash binding a source's identity to its
// snippet: SHA-256 of "id|title|snippet".
func SourceHash(sourceID, title, snippet string) string {
	payload := fmt.Sprintf("%s|%s|%s", sourceID, title, snippet)
	return canonical.HashBytes([]byte(payload))
}

// DeriveStableID builds a deterministic identifier for items that carry no
// document id of their own: "derived:" plus the first 16 hex characters of
// SHA-256(connector_id|source_identifier|uri).
func DeriveStableID(connectorID, sourceIdentifier, uri string) string {
	sum := sha256.Sum256([]byte(connectorID + "|" + sourceIdentifier + "|" + uri))
	return "derived:" + hex.EncodeToString(sum[:])[:16]
}

func stringField(item map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := item[k]; ok && v != nil {
			if s := fmt.Sprintf("%v", v); s != "" {
				return s
			}
		}
	}
	return ""
}

func normalizeTrustLevel(raw any, origin string, trustedTool bool) string {
	if s, ok := raw.(string); ok {
		if upper := strings.ToUpper(s); trustLevels[upper] {
			return upper
		}
	}
	if origin == OriginTool {
		if trustedTool {
			return TrustSecondary
		}
		return TrustUnverified
	}
	return TrustSecondary
}

func normalizeOrigin(raw any) string {
	if s, ok := raw.(string); ok {
		if upper := strings.ToUpper(s); origins[upper] {
			return upper
		}
	}
	return OriginThirdParty
}

func normalizeConfidence(raw any, trustLevel string) float64 {
	var val float64
	switch n := raw.(type) {
	case float64:
		val = n
	case float32:
		val = float64(n)
	case int:
		val = float64(n)
	case int64:
		val = float64(n)
	default:
		val = defaultConfidence[trustLevel]
	}
	if val < 0 {
		return 0
	}
	if val > 1 {
		return 1
	}
	return val
}

func normalizeOffsets(raw any) map[string]int {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		switch n := v.(type) {
		case float64:
			out[k] = int(n)
		case int:
			out[k] = n
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// NormalizeRaw converts an ordered sequence of free-form retrieved items into
// normalized sources. Items with empty snippets are dropped and later
// duplicates of the same (id, hash) pair are discarded.
func NormalizeRaw(rawItems []map[string]any, trustedTools map[string]bool) []Source {
	normalized := make([]Source, 0, len(rawItems))
	seen := make(map[string]bool, len(rawItems))

	lowerTools := make(map[string]bool, len(trustedTools))
	for name := range trustedTools {
		lowerTools[strings.ToLower(name)] = true
	}

	for idx, item := range rawItems {
		if item == nil {
			continue
		}
		snippet := strings.TrimSpace(stringField(item, "snippet", "blurb"))
		if snippet == "" {
			continue
		}

		sourceID := stringField(item, "id", "document_id", "uri")
		if sourceID == "" {
			connectorID := stringField(item, "connector_id")
			sourceIdentifier := stringField(item, "source_identifier")
			uri := stringField(item, "uri")
			if connectorID != "" || sourceIdentifier != "" || uri != "" {
				sourceID = DeriveStableID(connectorID, sourceIdentifier, uri)
			} else {
				sourceID = fmt.Sprintf("source_%d", idx)
			}
		}

		title := stringField(item, "title", "semantic_identifier")
		uriOrPath := stringField(item, "uri", "link")

		origin := normalizeOrigin(item["origin"])
		toolName := strings.ToLower(stringField(item, "tool_name"))
		trustedTool := toolName != "" && lowerTools[toolName]
		trustLevel := normalizeTrustLevel(item["trust_level"], origin, trustedTool)
		confidence := normalizeConfidence(item["confidence_weight"], trustLevel)

		hash := SourceHash(sourceID, title, snippet)
		dedupKey := sourceID + ":" + hash
		if seen[dedupKey] {
			continue
		}
		seen[dedupKey] = true

		normalized = append(normalized, Source{
			ID:                 sourceID,
			Title:              title,
			URIOrPath:          uriOrPath,
			Snippet:            snippet,
			Offsets:            normalizeOffsets(item["offsets"]),
			Hash:               hash,
			TrustLevel:         trustLevel,
			Origin:             origin,
			ConfidenceWeight:   confidence,
			Jurisdiction:       NormalizeJurisdiction(item["jurisdiction"]),
			DataClassification: NormalizeDataClassification(item["data_classification"]),
			AllowedScopes:      NormalizeAllowedScopes(item["allowed_scopes"]),
		})
	}
	return normalized
}
