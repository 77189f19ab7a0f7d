package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledProviderIsNoop(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()
	p.RecordDecision(ctx, "SERVED", "enforce")
	p.RecordSuppressedClaims(ctx, 3)
	p.RecordPackExport(ctx, "tr_x")
	p.RecordError(ctx, errors.New("boom"))

	spanCtx, done := p.TrackOperation(ctx, "gate.evaluate", GateOperation("tr_x", "enforce", "SERVED", 4, 1)...)
	assert.NotNil(t, spanCtx)
	done(nil)
	done2 := func() {
		_, finish := p.TrackOperation(ctx, "gate.evaluate")
		finish(errors.New("late failure"))
	}
	assert.NotPanics(t, done2)

	require.NoError(t, p.Shutdown(ctx))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "trust-gate", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.True(t, cfg.Enabled)
	assert.False(t, cfg.Insecure)
}

func TestGateOperationAttributes(t *testing.T) {
	attrs := GateOperation("tr_1", "observe", "SERVED", 5, 2)
	require.Len(t, attrs, 5)
	assert.Equal(t, AttrTraceID, attrs[0].Key)
	assert.Equal(t, "tr_1", attrs[0].Value.AsString())
	assert.Equal(t, int64(2), attrs[4].Value.AsInt64())
}

func TestSetSpanStatusTolerates(t *testing.T) {
	ctx := context.Background()
	assert.NotPanics(t, func() {
		SetSpanStatus(ctx, nil)
		SetSpanStatus(ctx, errors.New("x"))
		AddSpanEvent(ctx, "suppressed_claims")
	})
}
