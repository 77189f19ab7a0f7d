package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Semantic convention attributes for the trust gate.
var (
	AttrTraceID      = attribute.Key("trust.trace.id")
	AttrGateDecision = attribute.Key("trust.gate.decision")
	AttrGateMode     = attribute.Key("trust.gate.mode")

	AttrClaimsTotal      = attribute.Key("trust.claims.total")
	AttrClaimsSuppressed = attribute.Key("trust.claims.suppressed")

	AttrPolicyID     = attribute.Key("trust.policy.id")
	AttrPolicyPassed = attribute.Key("trust.policy.passed")

	AttrJurisdiction = attribute.Key("trust.compliance.jurisdiction")
	AttrPackID       = attribute.Key("trust.pack.id")
	AttrEvidenceN    = attribute.Key("trust.evidence.count")
)

// GateOperation builds attributes for one gate evaluation.
func GateOperation(traceID, mode, decision string, claimsTotal, claimsSuppressed int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTraceID.String(traceID),
		AttrGateMode.String(mode),
		AttrGateDecision.String(decision),
		AttrClaimsTotal.Int(claimsTotal),
		AttrClaimsSuppressed.Int(claimsSuppressed),
	}
}

// PolicyOperation builds attributes for one policy check.
func PolicyOperation(policyID string, passed bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrPolicyID.String(policyID),
		AttrPolicyPassed.Bool(passed),
	}
}

// ExportOperation builds attributes for one audit pack export.
func ExportOperation(traceID, packID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTraceID.String(traceID),
		AttrPackID.String(packID),
	}
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records err on the current span when non-nil.
func SetSpanStatus(ctx context.Context, err error) {
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
	}
}
