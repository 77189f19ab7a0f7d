package tracestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/trustgate/trustgate/pkg/canonical"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS trace_records (
    trace_id                  TEXT PRIMARY KEY,
    created_at                TEXT NOT NULL,
    retention                 JSONB NOT NULL,
    response                  JSONB NOT NULL,
    context                   JSONB NOT NULL,
    replay_inputs             JSONB NOT NULL,
    response_hash             TEXT NOT NULL,
    context_hash              TEXT NOT NULL,
    replay_inputs_hash        TEXT NOT NULL,
    events_count              INTEGER NOT NULL,
    events_hash_chain_version TEXT NOT NULL,
    events_jsonl              TEXT NOT NULL
)`

// PostgresStore keeps trace records in a single relational table, with the
// event chain serialized as JSONL alongside the record.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenPostgres connects with a lib/pq DSN and ensures the schema exists.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("tracestore: open postgres: %w", err)
	}
	return NewPostgresStore(db)
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if _, err := db.Exec(postgresSchema); err != nil {
		return nil, fmt.Errorf("tracestore: migrate: %w", err)
	}
	return &PostgresStore{db: db, now: time.Now}, nil
}

// Store implements Store.
func (s *PostgresStore) Store(traceID string, responsePayload, rawContext, replayInputs any) (*Record, error) {
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
	jsonl, err := canonical.EncodeEventsJSONL(events)
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

	_, err = s.db.Exec(`
		INSERT INTO trace_records (
			trace_id, created_at, retention, response, context, replay_inputs,
			response_hash, context_hash, replay_inputs_hash,
			events_count, events_hash_chain_version, events_jsonl
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (trace_id) DO UPDATE SET
			created_at = EXCLUDED.created_at,
			retention = EXCLUDED.retention,
			response = EXCLUDED.response,
			context = EXCLUDED.context,
			replay_inputs = EXCLUDED.replay_inputs,
			response_hash = EXCLUDED.response_hash,
			context_hash = EXCLUDED.context_hash,
			replay_inputs_hash = EXCLUDED.replay_inputs_hash,
			events_count = EXCLUDED.events_count,
			events_hash_chain_version = EXCLUDED.events_hash_chain_version,
			events_jsonl = EXCLUDED.events_jsonl`,
		record.TraceID, record.CreatedAt,
		mustJSON(record.Retention), mustJSON(record.Response),
		mustJSON(record.Context), mustJSON(record.ReplayInputs),
		record.ResponseHash, record.ContextHash, record.ReplayInputsHash,
		record.EventsCount, record.EventsHashChainVersion, jsonl,
	)
	if err != nil {
		return nil, fmt.Errorf("tracestore: insert record: %w", err)
	}
	return record, nil
}

// Load implements Store.
func (s *PostgresStore) Load(traceID string) (*Record, error) {
	row := s.db.QueryRow(`
		SELECT trace_id, created_at, retention, response, context, replay_inputs,
		       response_hash, context_hash, replay_inputs_hash,
		       events_count, events_hash_chain_version, events_jsonl
		FROM trace_records WHERE trace_id = $1`, traceID)

	var record Record
	var retention, response, context, replay []byte
	var jsonl string
	err := row.Scan(
		&record.TraceID, &record.CreatedAt, &retention, &response, &context, &replay,
		&record.ResponseHash, &record.ContextHash, &record.ReplayInputsHash,
		&record.EventsCount, &record.EventsHashChainVersion, &jsonl,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tracestore: load record: %w", err)
	}

	for _, col := range []struct {
		raw  []byte
		dest *map[string]any
	}{
		{retention, &record.Retention},
		{response, &record.Response},
		{context, &record.Context},
		{replay, &record.ReplayInputs},
	} {
		if err := canonical.DecodeStrict(col.raw, col.dest); err != nil {
			return nil, fmt.Errorf("tracestore: decode column: %w", err)
		}
	}

	events, err := canonical.DecodeEventsJSONL(jsonl)
	if err != nil {
		return nil, err
	}
	record.Events = events
	return &record, nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(traceID string) error {
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
	if _, err := s.db.Exec(`DELETE FROM trace_records WHERE trace_id = $1`, traceID); err != nil {
		return fmt.Errorf("tracestore: delete record: %w", err)
	}
	return nil
}

// List returns the ids of every stored trace.
func (s *PostgresStore) List() ([]string, error) {
	rows, err := s.db.Query(`SELECT trace_id FROM trace_records ORDER BY trace_id`)
	if err != nil {
		return nil, fmt.Errorf("tracestore: list records: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("tracestore: scan trace id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
