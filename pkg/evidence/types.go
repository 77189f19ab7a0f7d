// Package evidence normalizes raw retrieved items into trust-classified
// sources and enforces jurisdiction and threat-containment rules over them.
package evidence

// Trust levels, in decreasing order of evidentiary weight.
const (
	TrustPrimary    = "PRIMARY"
	TrustSecondary  = "SECONDARY"
	TrustUnverified = "UNVERIFIED"
)

// Origins of a retrieved item.
const (
	OriginInternal   = "INTERNAL"
	OriginCustomer   = "CUSTOMER"
	OriginThirdParty = "THIRD_PARTY"
	OriginTool       = "TOOL"
)

// Source is an immutable, normalized evidence reference. The normalizer is
// the only constructor; the claim engine consumes nothing else.
type Source struct {
	ID                 string         `json:"id"`
	Title              string         `json:"title"`
	URIOrPath          string         `json:"uri_or_path"`
	Snippet            string         `json:"snippet"`
	Offsets            map[string]int `json:"offsets"`
	Hash               string         `json:"hash"`
	TrustLevel         string         `json:"trust_level"`
	Origin             string         `json:"origin"`
	ConfidenceWeight   float64        `json:"confidence_weight"`
	Jurisdiction       string         `json:"jurisdiction"`
	DataClassification string         `json:"data_classification"`
	AllowedScopes      []string       `json:"allowed_scopes"`
}

// HasScope reports whether the source grants the named scope.
func (s Source) HasScope(scope string) bool {
	for _, v := range s.AllowedScopes {
		if v == scope {
			return true
		}
	}
	return false
}
