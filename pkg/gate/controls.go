package gate

import (
	"os"
	"strings"
)

// Integration modes for host embedding.
const (
	ModeOff     = "off"
	ModeObserve = "observe"
	ModeEnforce = "enforce"
)

// FailureStreamingBypassed is recorded when a streaming response skips
// enforcement because streaming enforcement is disabled.
const FailureStreamingBypassed = "streaming_enforcement_bypassed"

// Controls decides whether and how the gate intercepts host responses.
type Controls struct {
	Enabled            bool
	Mode               string
	EnforceOnStreaming bool
}

// ControlsFromEnv reads the TRUST_EVIDENCE_* toggles.
func ControlsFromEnv() Controls {
	return Controls{
		Enabled:            envBool("TRUST_EVIDENCE_ENABLED", false),
		Mode:               normalizeMode(os.Getenv("TRUST_EVIDENCE_MODE")),
		EnforceOnStreaming: envBool("TRUST_EVIDENCE_ENFORCE_ON_STREAMING", false),
	}
}

func normalizeMode(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case ModeObserve:
		return ModeObserve
	case ModeEnforce:
		return ModeEnforce
	default:
		return ModeOff
	}
}

func envBool(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// Active reports whether the gate should run at all.
func (c Controls) Active() bool {
	return c.Enabled && c.Mode != ModeOff
}

// Enforcing reports whether the gated contract replaces the host response.
func (c Controls) Enforcing() bool {
	return c.Active() && c.Mode == ModeEnforce
}
