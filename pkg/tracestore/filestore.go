package tracestore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/trustgate/trustgate/pkg/canonical"
)

// FileStore persists one <trace_id>.json record and one
// <trace_id>.events.jsonl chain per trace under a base directory.
type FileStore struct {
	baseDir string
	now     func() time.Time
}

// NewFileStore creates the base directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		baseDir = ".trust_evidence"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("tracestore: create base dir: %w", err)
	}
	return &FileStore{baseDir: baseDir, now: time.Now}, nil
}

// BaseDir returns the store's root directory.
func (s *FileStore) BaseDir() string { return s.baseDir }

func (s *FileStore) recordPath(traceID string) string {
	return filepath.Join(s.baseDir, traceID+".json")
}

func (s *FileStore) eventsPath(traceID string) string {
	return filepath.Join(s.baseDir, traceID+".events.jsonl")
}

// Store implements Store.
func (s *FileStore) Store(traceID string, responsePayload, rawContext, replayInputs any) (*Record, error) {
	response, err := toObject(responsePayload)
	if err != nil {
		return nil, fmt.Errorf("tracestore: encode response: %w", err)
	}
	context, err := toObject(rawContext)
	if err != nil {
		return nil, fmt.Errorf("tracestore: encode context: %w", err)
	}
	replay, err := toObject(replayInputs)
	if err != nil {
		return nil, fmt.Errorf("tracestore: encode replay inputs: %w", err)
	}

	now := s.now().UTC()
	events, err := buildEvents(traceID, response, now)
	if err != nil {
		return nil, err
	}

	record := &Record{
		TraceID:                traceID,
		CreatedAt:              now.Format(time.RFC3339Nano),
		Retention:              retentionOf(response, now),
		Response:               response,
		Context:                context,
		ReplayInputs:           replay,
		ResponseHash:           canonical.MustHash(response),
		ContextHash:            canonical.MustHash(context),
		ReplayInputsHash:       canonical.MustHash(replay),
		EventsCount:            len(events),
		EventsHashChainVersion: canonical.ChainAlgo,
		Events:                 events,
	}

	body, err := marshalSortedIndented(record)
	if err != nil {
		return nil, fmt.Errorf("tracestore: encode record: %w", err)
	}
	if err := os.WriteFile(s.recordPath(traceID), body, 0o644); err != nil {
		return nil, fmt.Errorf("tracestore: write record: %w", err)
	}

	jsonl, err := canonical.EncodeEventsJSONL(events)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(s.eventsPath(traceID), []byte(jsonl), 0o644); err != nil {
		return nil, fmt.Errorf("tracestore: write events: %w", err)
	}
	return record, nil
}

// Load implements Store.
func (s *FileStore) Load(traceID string) (*Record, error) {
	body, err := os.ReadFile(s.recordPath(traceID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("tracestore: read record: %w", err)
	}
	var record Record
	if err := canonical.DecodeStrict(body, &record); err != nil {
		return nil, fmt.Errorf("tracestore: decode record: %w", err)
	}

	if eventsBody, err := os.ReadFile(s.eventsPath(traceID)); err == nil {
		events, err := canonical.DecodeEventsJSONL(string(eventsBody))
		if err != nil {
			return nil, err
		}
		record.Events = events
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("tracestore: read events: %w", err)
	}
	return &record, nil
}

// Delete implements Store. Held records refuse deletion.
func (s *FileStore) Delete(traceID string) error {
	record, err := s.Load(traceID)
	if err != nil {
		if err == ErrNotFound {
			return nil
		}
		return err
	}
	if legalHoldActive(record.Retention) {
		return ErrLegalHold
	}
	if err := os.Remove(s.recordPath(traceID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("tracestore: delete record: %w", err)
	}
	if err := os.Remove(s.eventsPath(traceID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("tracestore: delete events: %w", err)
	}
	return nil
}

// List returns the ids of every stored trace.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("tracestore: list records: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// SweepExpired deletes records whose retention expiry has passed. Records
// under legal hold or without a parseable expiry are left alone. Returns
// the ids that were deleted.
func (s *FileStore) SweepExpired(now time.Time) ([]string, error) {
	ids, err := s.List()
	if err != nil {
		return nil, err
	}
	var deleted []string
	for _, id := range ids {
		record, err := s.Load(id)
		if err != nil {
			continue
		}
		raw, _ := record.Retention["expiry_at"].(string)
		expiry, err := time.Parse(time.RFC3339, raw)
		if err != nil || !expiry.Before(now) {
			continue
		}
		if err := s.Delete(id); err != nil {
			if err == ErrLegalHold {
				continue
			}
			return deleted, err
		}
		deleted = append(deleted, id)
	}
	return deleted, nil
}

// marshalSortedIndented renders a value with sorted keys and two-space
// indentation, the shape the record files are written in.
func marshalSortedIndented(v any) ([]byte, error) {
	compact, err := canonical.JCS(v)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact, "", "  "); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
