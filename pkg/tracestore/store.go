// Package tracestore persists gated responses as immutable trace records
// with content hashes and a hash-chained event log.
package tracestore

import (
	"errors"
	"time"

	"github.com/trustgate/trustgate/pkg/canonical"
)

var (
	// ErrNotFound is returned when no record exists for a trace id.
	ErrNotFound = errors.New("tracestore: trace not found")
	// ErrLegalHold blocks deletion of held records.
	ErrLegalHold = errors.New("tracestore: deletion blocked by legal hold")
)

// Record is one stored trace.
type Record struct {
	TraceID                string            `json:"trace_id"`
	CreatedAt              string            `json:"created_at"`
	Retention              map[string]any    `json:"retention"`
	Response               map[string]any    `json:"response"`
	Context                map[string]any    `json:"context"`
	ReplayInputs           map[string]any    `json:"replay_inputs"`
	ResponseHash           string            `json:"response_hash"`
	ContextHash            string            `json:"context_hash"`
	ReplayInputsHash       string            `json:"replay_inputs_hash"`
	EventsCount            int               `json:"events_count"`
	EventsHashChainVersion string            `json:"events_hash_chain_version"`
	Events                 []canonical.Event `json:"-"`
}

// Store is the persistence contract for trace records.
type Store interface {
	// Store persists a gated response payload together with its minimal
	// context and replay inputs. Events are derived from the payload's
	// incidents and chained before writing.
	Store(traceID string, responsePayload, rawContext, replayInputs any) (*Record, error)
	// Load returns a record and its event chain.
	Load(traceID string) (*Record, error)
	// Delete removes a record unless it is under legal hold.
	Delete(traceID string) error
}

// toObject round-trips any value through canonical JSON into a generic map
// so hashing and field extraction see the exact persisted shape.
func toObject(v any) (map[string]any, error) {
	if v == nil {
		return map[string]any{}, nil
	}
	raw, err := canonical.JCS(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := canonical.DecodeStrict(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func defaultRetention(now time.Time) map[string]any {
	return map[string]any{
		"retention_policy": "30_DAYS",
		"retention_reason": "AUDIT",
		"legal_hold":       false,
		"expiry_at":        now.Add(30 * 24 * time.Hour).Format(time.RFC3339Nano),
	}
}

// retentionOf extracts the retention block recorded in a response payload,
// falling back to the default policy.
func retentionOf(response map[string]any, now time.Time) map[string]any {
	if dr, ok := response["decision_record"].(map[string]any); ok {
		if ret, ok := dr["retention"].(map[string]any); ok {
			return ret
		}
	}
	return defaultRetention(now)
}

// buildEvents derives the chained event log for a stored response: one event
// per incident, or a single trace_created event when the trace is clean.
func buildEvents(traceID string, response map[string]any, now time.Time) ([]canonical.Event, error) {
	ts := now.UTC().Format(time.RFC3339Nano)
	var raw []canonical.RawEvent

	if dr, ok := response["decision_record"].(map[string]any); ok {
		if incidents, ok := dr["incidents"].([]any); ok {
			for _, item := range incidents {
				payload, ok := item.(map[string]any)
				if !ok {
					payload = map[string]any{"value": item}
				}
				raw = append(raw, canonical.RawEvent{TS: ts, EventType: "incident", Payload: payload})
			}
		}
	}
	if len(raw) == 0 {
		raw = append(raw, canonical.RawEvent{
			TS:        ts,
			EventType: "trace_created",
			Payload:   map[string]any{"trace_id": traceID},
		})
	}
	return canonical.BuildChain(raw)
}

func legalHoldActive(retention map[string]any) bool {
	held, _ := retention["legal_hold"].(bool)
	return held
}
