package canonical

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
	"time"
)

const (
	// GenesisHash seeds every per-trace event chain.
	GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"
	// ChainAlgo names the hash-chain construction for manifests and records.
	ChainAlgo = "prev_hash_plus_canonical_event_v1"
)

// Event is a single hash-chained event-log line.
type Event struct {
	Seq       int            `json:"seq"`
	TS        string         `json:"ts"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	PrevHash  string         `json:"prev_hash"`
	Hash      string         `json:"hash"`
}

// RawEvent is chain input before sequencing and hashing.
type RawEvent struct {
	TS        string
	EventType string
	Payload   map[string]any
}

// eventHash computes the digest binding an event to its predecessor:
// SHA-256 over prev_hash concatenated with the canonical JSON of the
// materialized event without its own hash field.
func eventHash(prevHash string, ev Event) (string, error) {
	materialized := map[string]any{
		"seq":        ev.Seq,
		"ts":         ev.TS,
		"event_type": ev.EventType,
		"payload":    ev.Payload,
		"prev_hash":  ev.PrevHash,
	}
	body, err := JCS(materialized)
	if err != nil {
		return "", err
	}
	return HashBytes(append([]byte(prevHash), body...)), nil
}

// BuildChain assigns dense 1-based sequence numbers, links each event to its
// predecessor and computes every hash. The input order is preserved.
func BuildChain(raw []RawEvent) ([]Event, error) {
	chain := make([]Event, 0, len(raw))
	prev := GenesisHash
	for i, r := range raw {
		ts := r.TS
		if ts == "" {
			ts = time.Now().UTC().Format(time.RFC3339Nano)
		}
		eventType := r.EventType
		if eventType == "" {
			eventType = "unknown"
		}
		payload := r.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		ev := Event{
			Seq:       i + 1,
			TS:        ts,
			EventType: eventType,
			Payload:   payload,
			PrevHash:  prev,
		}
		digest, err := eventHash(prev, ev)
		if err != nil {
			return nil, fmt.Errorf("canonical: hash event %d: %w", i+1, err)
		}
		ev.Hash = digest
		chain = append(chain, ev)
		prev = digest
	}
	return chain, nil
}

// ValidateChain verifies dense monotonic sequence numbers, prev_hash linkage
// from genesis, and that every stored hash matches its recomputed value.
func ValidateChain(events []Event) bool {
	prev := GenesisHash
	for i, ev := range events {
		if ev.Seq != i+1 {
			return false
		}
		if ev.PrevHash != prev {
			return false
		}
		expected, err := eventHash(prev, ev)
		if err != nil || ev.Hash != expected {
			return false
		}
		prev = expected
	}
	return true
}

// EncodeEventsJSONL renders events one canonical JSON object per line, with a
// trailing newline when the set is non-empty.
func EncodeEventsJSONL(events []Event) (string, error) {
	if len(events) == 0 {
		return "", nil
	}
	var sb strings.Builder
	for _, ev := range events {
		line, err := JCS(ev)
		if err != nil {
			return "", err
		}
		sb.Write(line)
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// DecodeEventsJSONL parses a JSONL event log, skipping blank lines.
func DecodeEventsJSONL(text string) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := DecodeStrict(line, &ev); err != nil {
			return nil, fmt.Errorf("canonical: decode event line: %w", err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
