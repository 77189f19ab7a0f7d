package sidecar

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL flavor the store speaks.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

var (
	// ErrTraceNotFound is returned when a trace id has no row.
	ErrTraceNotFound = errors.New("sidecar: trace not found")
	// ErrPackNotFound is returned when a pack id has no row.
	ErrPackNotFound = errors.New("sidecar: audit pack not found")
)

// Store persists traces, spans, events, and audit pack records.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// OpenSQLite opens (and migrates) a SQLite-backed store.
func OpenSQLite(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sidecar: open sqlite: %w", err)
	}
	return NewStore(db, DialectSQLite)
}

// OpenPostgres opens (and migrates) a Postgres-backed store.
func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sidecar: open postgres: %w", err)
	}
	return NewStore(db, DialectPostgres)
}

// NewStore wraps an existing database handle and applies migrations.
func NewStore(db *sql.DB, dialect Dialect) (*Store, error) {
	s := &Store{db: db, dialect: dialect, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	idColumn := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect == DialectPostgres {
		idColumn = "BIGSERIAL PRIMARY KEY"
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS traces (
			trace_id TEXT PRIMARY KEY,
			host TEXT NOT NULL,
			host_version TEXT NOT NULL,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			retention_until TEXT,
			legal_hold INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS spans (
			trace_id TEXT NOT NULL,
			span_id TEXT NOT NULL,
			parent_span_id TEXT,
			ts TEXT NOT NULL,
			PRIMARY KEY (trace_id, span_id)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS events (
			id %s,
			trace_id TEXT NOT NULL,
			span_id TEXT NOT NULL,
			parent_span_id TEXT,
			ts TEXT NOT NULL,
			type TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			payload_hash TEXT NOT NULL,
			schema_version TEXT NOT NULL
		)`, idColumn),
		`CREATE INDEX IF NOT EXISTS idx_events_trace ON events(trace_id, ts, id)`,
		`CREATE TABLE IF NOT EXISTS audit_packs (
			pack_id TEXT PRIMARY KEY,
			trace_id TEXT NOT NULL,
			status TEXT NOT NULL,
			storage_path TEXT,
			created_at TEXT NOT NULL,
			ready_at TEXT,
			retention_until TEXT,
			legal_hold INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("sidecar: migrate: %w", err)
		}
	}
	return nil
}

// rebind converts ? placeholders to $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) nowISO() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// IngestBatch validates and stores a batch of events atomically. Either the
// whole batch lands or none of it does.
func (s *Store) IngestBatch(rawEvents []json.RawMessage) (int, error) {
	events := make([]*Event, 0, len(rawEvents))
	for _, raw := range rawEvents {
		event, err := ParseEvent(raw)
		if err != nil {
			return 0, err
		}
		events = append(events, event)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("sidecar: begin ingest: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	createdAt := s.nowISO()
	for _, event := range events {
		if _, err := tx.Exec(s.rebind(
			`INSERT INTO traces(trace_id, host, host_version, session_id, user_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(trace_id) DO NOTHING`),
			event.TraceID, event.Host, event.HostVersion, event.SessionID, event.UserID, createdAt,
		); err != nil {
			return 0, fmt.Errorf("sidecar: insert trace: %w", err)
		}

		if _, err := tx.Exec(s.rebind(
			`INSERT INTO spans(trace_id, span_id, parent_span_id, ts)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(trace_id, span_id) DO NOTHING`),
			event.TraceID, event.SpanID, event.ParentSpanID, event.TS,
		); err != nil {
			return 0, fmt.Errorf("sidecar: insert span: %w", err)
		}

		payloadJSON, err := json.Marshal(event.Payload)
		if err != nil {
			return 0, fmt.Errorf("sidecar: encode payload: %w", err)
		}
		if _, err := tx.Exec(s.rebind(
			`INSERT INTO events(trace_id, span_id, parent_span_id, ts, type, payload_json, payload_hash, schema_version)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			event.TraceID, event.SpanID, event.ParentSpanID, event.TS, event.EventType,
			string(payloadJSON), event.PayloadHash, event.SchemaVersion,
		); err != nil {
			return 0, fmt.Errorf("sidecar: insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sidecar: commit ingest: %w", err)
	}
	return len(events), nil
}

// TraceSummary aggregates a trace's event counts and evidence status.
type TraceSummary struct {
	TraceID        string         `json:"trace_id"`
	EventCounts    map[string]int `json:"event_counts"`
	TotalEvents    int            `json:"total_events"`
	EvidenceStatus string         `json:"evidence_status"`
	RetentionUntil *string        `json:"retention_until"`
	LegalHold      bool           `json:"legal_hold"`
}

// GetTraceSummary returns the summary for one trace.
func (s *Store) GetTraceSummary(traceID string) (*TraceSummary, error) {
	var retentionUntil sql.NullString
	var legalHold int
	err := s.db.QueryRow(s.rebind(
		`SELECT retention_until, legal_hold FROM traces WHERE trace_id = ?`), traceID,
	).Scan(&retentionUntil, &legalHold)
	if err == sql.ErrNoRows {
		return nil, ErrTraceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sidecar: load trace: %w", err)
	}

	rows, err := s.db.Query(s.rebind(`SELECT type FROM events WHERE trace_id = ?`), traceID)
	if err != nil {
		return nil, fmt.Errorf("sidecar: load event types: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	total := 0
	for rows.Next() {
		var eventType string
		if err := rows.Scan(&eventType); err != nil {
			return nil, fmt.Errorf("sidecar: scan event type: %w", err)
		}
		counts[eventType]++
		total++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sidecar: iterate event types: %w", err)
	}

	status := "none"
	if total > 0 {
		status = "partial"
	}
	if counts["retrieval_batch"] > 0 && counts["citations_resolved"] > 0 {
		status = "complete"
	}

	summary := &TraceSummary{
		TraceID:        traceID,
		EventCounts:    counts,
		TotalEvents:    total,
		EvidenceStatus: status,
		LegalHold:      legalHold != 0,
	}
	if retentionUntil.Valid {
		summary.RetentionUntil = &retentionUntil.String
	}
	return summary, nil
}

// GetEventsForTrace returns a trace's events in chronological order.
func (s *Store) GetEventsForTrace(traceID string) ([]StoredEvent, error) {
	rows, err := s.db.Query(s.rebind(
		`SELECT id, trace_id, span_id, parent_span_id, ts, type, payload_json, payload_hash, schema_version
		 FROM events
		 WHERE trace_id = ?
		 ORDER BY ts ASC, id ASC`), traceID)
	if err != nil {
		return nil, fmt.Errorf("sidecar: load events: %w", err)
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var (
			ev          StoredEvent
			parent      sql.NullString
			payloadJSON string
		)
		if err := rows.Scan(&ev.ID, &ev.TraceID, &ev.SpanID, &parent, &ev.TS, &ev.EventType,
			&payloadJSON, &ev.PayloadHash, &ev.SchemaVersion); err != nil {
			return nil, fmt.Errorf("sidecar: scan event: %w", err)
		}
		if parent.Valid {
			ev.ParentSpanID = &parent.String
		}
		if err := json.Unmarshal([]byte(payloadJSON), &ev.Payload); err != nil {
			return nil, fmt.Errorf("sidecar: decode payload: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// PackRecord is the lifecycle row of one audit pack.
type PackRecord struct {
	PackID         string  `json:"pack_id"`
	TraceID        string  `json:"trace_id"`
	Status         string  `json:"status"`
	StoragePath    *string `json:"storage_path"`
	CreatedAt      string  `json:"created_at"`
	ReadyAt        *string `json:"ready_at"`
	RetentionUntil *string `json:"retention_until"`
	LegalHold      bool    `json:"legal_hold"`
}

// CreateAuditPackRecord inserts a queued pack row.
func (s *Store) CreateAuditPackRecord(traceID, packID, status string) error {
	_, err := s.db.Exec(s.rebind(
		`INSERT INTO audit_packs(pack_id, trace_id, status, storage_path, created_at, retention_until, legal_hold)
		 VALUES (?, ?, ?, NULL, ?, NULL, 0)`),
		packID, traceID, status, s.nowISO())
	if err != nil {
		return fmt.Errorf("sidecar: create pack record: %w", err)
	}
	return nil
}

// MarkAuditPackReady records the built pack's storage path.
func (s *Store) MarkAuditPackReady(packID, storagePath string) error {
	res, err := s.db.Exec(s.rebind(
		`UPDATE audit_packs SET status = ?, storage_path = ?, ready_at = ? WHERE pack_id = ?`),
		"ready", storagePath, s.nowISO(), packID)
	if err != nil {
		return fmt.Errorf("sidecar: mark pack ready: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPackNotFound
	}
	return nil
}

// GetAuditPackRecord returns one pack row.
func (s *Store) GetAuditPackRecord(packID string) (*PackRecord, error) {
	var (
		record         PackRecord
		storagePath    sql.NullString
		readyAt        sql.NullString
		retentionUntil sql.NullString
		legalHold      int
	)
	err := s.db.QueryRow(s.rebind(
		`SELECT pack_id, trace_id, status, storage_path, created_at, ready_at, retention_until, legal_hold
		 FROM audit_packs WHERE pack_id = ?`), packID,
	).Scan(&record.PackID, &record.TraceID, &record.Status, &storagePath,
		&record.CreatedAt, &readyAt, &retentionUntil, &legalHold)
	if err == sql.ErrNoRows {
		return nil, ErrPackNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sidecar: load pack record: %w", err)
	}
	if storagePath.Valid {
		record.StoragePath = &storagePath.String
	}
	if readyAt.Valid {
		record.ReadyAt = &readyAt.String
	}
	if retentionUntil.Valid {
		record.RetentionUntil = &retentionUntil.String
	}
	record.LegalHold = legalHold != 0
	return &record, nil
}

// SetLegalHold flips the hold flag on a trace and cascades to its packs.
func (s *Store) SetLegalHold(traceID string, enabled bool) error {
	hold := 0
	if enabled {
		hold = 1
	}
	res, err := s.db.Exec(s.rebind(
		`UPDATE traces SET legal_hold = ? WHERE trace_id = ?`), hold, traceID)
	if err != nil {
		return fmt.Errorf("sidecar: set trace hold: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTraceNotFound
	}
	if _, err := s.db.Exec(s.rebind(
		`UPDATE audit_packs SET legal_hold = ? WHERE trace_id = ?`), hold, traceID); err != nil {
		return fmt.Errorf("sidecar: set pack hold: %w", err)
	}
	return nil
}

// RetentionResult reports what a retention sweep removed.
type RetentionResult struct {
	DeletedTraces    int `json:"deleted_traces"`
	DeletedPacks     int `json:"deleted_packs"`
	DeletedPackFiles int `json:"deleted_pack_files"`
	RetentionDays    int `json:"retention_days"`
}

// RunRetention deletes expired packs and traces that are not under legal
// hold. Stored timestamps are uniformly server-generated RFC 3339 Nano UTC
// strings, so the lexical comparisons in SQL match chronological order.
func (s *Store) RunRetention(retentionDays int, now time.Time) (*RetentionResult, error) {
	nowISO := now.UTC().Format(time.RFC3339Nano)
	cutoffISO := now.UTC().Add(-time.Duration(retentionDays) * 24 * time.Hour).Format(time.RFC3339Nano)
	result := &RetentionResult{RetentionDays: retentionDays}

	expiredPacks := `legal_hold = 0
		  AND (
		    (retention_until IS NOT NULL AND retention_until <= ?)
		    OR (retention_until IS NULL AND created_at <= ?)
		  )`

	rows, err := s.db.Query(s.rebind(
		`SELECT pack_id, storage_path FROM audit_packs WHERE `+expiredPacks), nowISO, cutoffISO)
	if err != nil {
		return nil, fmt.Errorf("sidecar: select expired packs: %w", err)
	}
	var packPaths []string
	for rows.Next() {
		var packID string
		var storagePath sql.NullString
		if err := rows.Scan(&packID, &storagePath); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sidecar: scan expired pack: %w", err)
		}
		if storagePath.Valid && storagePath.String != "" {
			packPaths = append(packPaths, storagePath.String)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sidecar: iterate expired packs: %w", err)
	}

	for _, path := range packPaths {
		if err := os.Remove(path); err == nil {
			result.DeletedPackFiles++
		}
	}

	res, err := s.db.Exec(s.rebind(
		`DELETE FROM audit_packs WHERE `+expiredPacks), nowISO, cutoffISO)
	if err != nil {
		return nil, fmt.Errorf("sidecar: delete expired packs: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		result.DeletedPacks = int(n)
	}

	traceRows, err := s.db.Query(s.rebind(
		`SELECT trace_id
		 FROM traces t
		 WHERE t.legal_hold = 0
		   AND NOT EXISTS (
		     SELECT 1 FROM audit_packs ap WHERE ap.trace_id = t.trace_id AND ap.legal_hold = 1
		   )
		   AND (
		     (t.retention_until IS NOT NULL AND t.retention_until <= ?)
		     OR (
		       t.retention_until IS NULL
		       AND COALESCE(
		         (SELECT MIN(e.ts) FROM events e WHERE e.trace_id = t.trace_id),
		         t.created_at
		       ) <= ?
		     )
		   )`), nowISO, cutoffISO)
	if err != nil {
		return nil, fmt.Errorf("sidecar: select expired traces: %w", err)
	}
	var traceIDs []string
	for traceRows.Next() {
		var traceID string
		if err := traceRows.Scan(&traceID); err != nil {
			traceRows.Close()
			return nil, fmt.Errorf("sidecar: scan expired trace: %w", err)
		}
		traceIDs = append(traceIDs, traceID)
	}
	traceRows.Close()
	if err := traceRows.Err(); err != nil {
		return nil, fmt.Errorf("sidecar: iterate expired traces: %w", err)
	}

	for _, traceID := range traceIDs {
		for _, stmt := range []string{
			`DELETE FROM events WHERE trace_id = ?`,
			`DELETE FROM spans WHERE trace_id = ?`,
			`DELETE FROM audit_packs WHERE trace_id = ? AND legal_hold = 0`,
		} {
			if _, err := s.db.Exec(s.rebind(stmt), traceID); err != nil {
				return nil, fmt.Errorf("sidecar: sweep trace %s: %w", traceID, err)
			}
		}
		res, err := s.db.Exec(s.rebind(`DELETE FROM traces WHERE trace_id = ?`), traceID)
		if err != nil {
			return nil, fmt.Errorf("sidecar: delete trace %s: %w", traceID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			result.DeletedTraces += int(n)
		}
	}
	return result, nil
}
