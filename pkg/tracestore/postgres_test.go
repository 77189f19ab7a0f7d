package tracestore

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustgate/trustgate/pkg/canonical"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS trace_records").
		WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	return store, mock
}

func TestPostgresStoreInsert(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO trace_records").
		WillReturnResult(sqlmock.NewResult(0, 1))

	record, err := store.Store("tr-pg-1", samplePayload("tr-pg-1", nil, false), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "tr-pg-1", record.TraceID)
	assert.Equal(t, 1, record.EventsCount)
	assert.NotEmpty(t, record.ResponseHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreLoad(t *testing.T) {
	store, mock := newMockStore(t)

	jsonl, err := canonical.EncodeEventsJSONL(mustChain(t))
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{
		"trace_id", "created_at", "retention", "response", "context", "replay_inputs",
		"response_hash", "context_hash", "replay_inputs_hash",
		"events_count", "events_hash_chain_version", "events_jsonl",
	}).AddRow(
		"tr-pg-2", "2026-03-01T00:00:00Z",
		[]byte(`{"legal_hold":false,"retention_policy":"30_DAYS"}`),
		[]byte(`{"answer":"x"}`), []byte(`{}`), []byte(`{}`),
		"rh", "ch", "rih", 1, canonical.ChainAlgo, jsonl,
	)
	mock.ExpectQuery("SELECT .* FROM trace_records WHERE trace_id").
		WithArgs("tr-pg-2").
		WillReturnRows(rows)

	record, err := store.Load("tr-pg-2")
	require.NoError(t, err)
	assert.Equal(t, "tr-pg-2", record.TraceID)
	assert.Equal(t, "x", record.Response["answer"])
	require.Len(t, record.Events, 1)
	assert.True(t, canonical.ValidateChain(record.Events))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreLoadMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .* FROM trace_records WHERE trace_id").
		WithArgs("absent").
		WillReturnRows(sqlmock.NewRows([]string{"trace_id"}))

	_, err := store.Load("absent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStoreDeleteBlockedByLegalHold(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{
		"trace_id", "created_at", "retention", "response", "context", "replay_inputs",
		"response_hash", "context_hash", "replay_inputs_hash",
		"events_count", "events_hash_chain_version", "events_jsonl",
	}).AddRow(
		"tr-pg-3", "2026-03-01T00:00:00Z",
		[]byte(`{"legal_hold":true,"retention_policy":"LEGAL_HOLD"}`),
		[]byte(`{}`), []byte(`{}`), []byte(`{}`),
		"rh", "ch", "rih", 0, canonical.ChainAlgo, "",
	)
	mock.ExpectQuery("SELECT .* FROM trace_records WHERE trace_id").
		WithArgs("tr-pg-3").
		WillReturnRows(rows)

	err := store.Delete("tr-pg-3")
	assert.ErrorIs(t, err, ErrLegalHold)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func mustChain(t *testing.T) []canonical.Event {
	t.Helper()
	events, err := canonical.BuildChain([]canonical.RawEvent{
		{TS: "2026-03-01T00:00:00Z", EventType: "trace_created", Payload: map[string]any{"trace_id": "tr-pg-2"}},
	})
	require.NoError(t, err)
	return events
}
