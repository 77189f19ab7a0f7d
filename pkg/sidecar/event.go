// Package sidecar is the standalone evidence collection service: it ingests
// host events over HTTP, stores them with canonical payload hashes, and
// exports verifiable audit packs.
package sidecar

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/trustgate/trustgate/pkg/canonical"
)

// SchemaVersion is the current event envelope version.
const SchemaVersion = "1.0.0"

// Event is one ingested evidence event.
type Event struct {
	TraceID       string         `json:"trace_id"`
	SpanID        string         `json:"span_id"`
	ParentSpanID  *string        `json:"parent_span_id"`
	TS            string         `json:"ts"`
	Host          string         `json:"host"`
	HostVersion   string         `json:"host_version"`
	SessionID     string         `json:"session_id"`
	UserID        string         `json:"user_id"`
	EventType     string         `json:"event_type"`
	Payload       map[string]any `json:"payload"`
	PayloadHash   string         `json:"payload_hash"`
	SchemaVersion string         `json:"schema_version"`
}

// StoredEvent is an Event with its database row id.
type StoredEvent struct {
	ID int64 `json:"id"`
	Event
}

// ValidationError is returned for malformed events; handlers map it to 422.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string { return e.Detail }

var requiredEventFields = []string{
	"trace_id",
	"span_id",
	"parent_span_id",
	"ts",
	"host",
	"host_version",
	"session_id",
	"user_id",
	"payload",
	"payload_hash",
	"schema_version",
	"event_type",
}

const eventSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "trace_id": {"type": "string", "minLength": 1},
    "span_id": {"type": "string", "minLength": 1},
    "parent_span_id": {"type": ["string", "null"]},
    "ts": {"type": "string", "minLength": 1},
    "host": {"type": "string", "minLength": 1},
    "host_version": {"type": "string"},
    "session_id": {"type": "string", "minLength": 1},
    "user_id": {"type": "string", "minLength": 1},
    "event_type": {"type": "string", "minLength": 1},
    "payload": {"type": "object"},
    "payload_hash": {"type": "string"},
    "schema_version": {"type": "string", "minLength": 1}
  }
}`

var eventSchema = jsonschema.MustCompileString("event.json", eventSchemaJSON)

// currentSchema constrains accepted envelope versions to the 1.x line.
var schemaConstraint = func() *semver.Constraints {
	c, err := semver.NewConstraint("^1.0.0")
	if err != nil {
		panic(err)
	}
	return c
}()

// ParseEvent validates a raw event object and returns the typed event with
// its canonical payload hash verified and filled in.
func ParseEvent(raw json.RawMessage) (*Event, error) {
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, &ValidationError{Detail: "event must be a JSON object"}
	}

	var missing []string
	for _, field := range requiredEventFields {
		if _, ok := generic[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &ValidationError{
			Detail: fmt.Sprintf("Event missing required fields: %s", strings.Join(missing, ", ")),
		}
	}

	if err := eventSchema.Validate(generic); err != nil {
		return nil, &ValidationError{Detail: fmt.Sprintf("event failed schema validation: %v", err)}
	}

	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, &ValidationError{Detail: fmt.Sprintf("event is malformed: %v", err)}
	}
	if event.SchemaVersion == "" {
		return nil, &ValidationError{Detail: "schema_version is required"}
	}
	version, err := semver.NewVersion(event.SchemaVersion)
	if err != nil {
		return nil, &ValidationError{Detail: fmt.Sprintf("schema_version %q is not a valid version", event.SchemaVersion)}
	}
	if !schemaConstraint.Check(version) {
		return nil, &ValidationError{Detail: fmt.Sprintf("schema_version %q is not supported", event.SchemaVersion)}
	}

	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	computed := canonical.MustHash(event.Payload)
	if event.PayloadHash != "" && event.PayloadHash != computed {
		return nil, &ValidationError{Detail: "payload_hash does not match canonical payload hash"}
	}
	event.PayloadHash = computed
	return &event, nil
}
