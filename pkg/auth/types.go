package auth

// Scopes understood by the trust sidecar.
const (
	ScopeIngest = "trust:ingest"
	ScopeRead   = "trust:read"
	ScopeExport = "trust:export"
	ScopeAdmin  = "trust:admin"
)

// Principal is the authenticated caller of a sidecar endpoint.
type Principal struct {
	Subject string
	Scopes  []string
}

// HasScope reports whether the principal carries the given scope.
func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// HasAnyScope reports whether the principal carries at least one of the
// given scopes.
func (p *Principal) HasAnyScope(scopes ...string) bool {
	for _, s := range scopes {
		if p.HasScope(s) {
			return true
		}
	}
	return false
}
