package gate

import "errors"

// ErrBypassAttempt flags any attempt to move ungated content across the
// response boundary.
var ErrBypassAttempt = errors.New("TRUST_GATE_BYPASS_ATTEMPT")

// AssertNoBypassInputs rejects host calls that try to smuggle raw model
// output past the gate or to stream partials around it.
func AssertNoBypassInputs(rawModelOutput any, streamRequested bool) error {
	if rawModelOutput != nil {
		return ErrBypassAttempt
	}
	if streamRequested {
		return ErrBypassAttempt
	}
	return nil
}

// AssertNoRawOutput verifies an outbound payload is a well-formed contract.
func AssertNoRawOutput(payload []byte) error {
	return AssertContractShape(payload)
}
