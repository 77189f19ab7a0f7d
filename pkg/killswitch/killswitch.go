// Package killswitch provides an operator-controlled halt mechanism that the
// gate consults before releasing any response.
package killswitch

import "sync"

// Halt modes.
const (
	ModeSystemHalt    = "SYSTEM_HALT"
	ModeDomainHalt    = "DOMAIN_HALT"
	ModeClaimTypeHalt = "CLAIM_TYPE_HALT"
)

// State is a snapshot of the switch.
type State struct {
	Mode      string `json:"mode"`
	Domain    string `json:"domain"`
	ClaimType string `json:"claim_type"`
	Reason    string `json:"reason"`
}

// Switch holds the current halt state. The zero value is inactive and safe
// for concurrent use.
type Switch struct {
	mu    sync.Mutex
	state State
}

// New returns an inactive switch.
func New() *Switch {
	return &Switch{}
}

// Activate arms the switch. Domain and claimType are only consulted for
// their matching modes.
func (s *Switch) Activate(mode, reason, domain, claimType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = State{Mode: mode, Reason: reason, Domain: domain, ClaimType: claimType}
}

// Clear disarms the switch.
func (s *Switch) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = State{}
}

// Snapshot returns the current state.
func (s *Switch) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ShouldHalt decides whether a response in the given domain asserting the
// given claim types must be refused.
func (s *Switch) ShouldHalt(domain string, claimTypes []string) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state.Mode {
	case ModeSystemHalt:
		return true, reasonOr(s.state.Reason, "system halt active")
	case ModeDomainHalt:
		if s.state.Domain != "" && domain == s.state.Domain {
			return true, reasonOr(s.state.Reason, "domain halt active")
		}
	case ModeClaimTypeHalt:
		for _, ct := range claimTypes {
			if ct == s.state.ClaimType && ct != "" {
				return true, reasonOr(s.state.Reason, "claim type halt active")
			}
		}
	}
	return false, ""
}

func reasonOr(reason, fallback string) string {
	if reason != "" {
		return reason
	}
	return fallback
}
