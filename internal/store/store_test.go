package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/callpilot/internal/domain"
	"github.com/soyeahso/callpilot/internal/ledger"
	"github.com/soyeahso/callpilot/internal/ledger/ledgertest"
	"github.com/soyeahso/callpilot/internal/logging"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	log := logging.New(nil, "silent")
	db, err := Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// --- DB/Migration tests ---

func TestOpen_InMemory(t *testing.T) {
	db := testDB(t)
	assert.NotNil(t, db.SQL())
}

func TestMigrations_Applied(t *testing.T) {
	db := testDB(t)

	var count int
	err := db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

func TestMigrations_Idempotent(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.migrate())

	var count int
	require.NoError(t, db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(migrations), count)
}

func TestSchema_TablesExist(t *testing.T) {
	db := testDB(t)

	for _, table := range []string{"chat_session", "chat_message", "appointment"} {
		var name string
		err := db.sql.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestOpen_FileReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "callpilot.db")
	log := logging.New(nil, "silent")
	ctx := context.Background()

	db, err := Open(path, log)
	require.NoError(t, err)
	convs := NewConversations(db)
	_, err = convs.Ensure(ctx, "c-1")
	require.NoError(t, err)
	require.NoError(t, convs.Append(ctx, "c-1", domain.Turn{Role: domain.RoleUser, Content: "hi"}))
	require.NoError(t, db.Close())

	db, err = Open(path, log)
	require.NoError(t, err)
	defer db.Close()

	turns, err := NewConversations(db).Turns(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "hi", turns[0].Content)
}

// --- Conversation tests ---

func TestConversations_EnsureIsIdempotent(t *testing.T) {
	convs := NewConversations(testDB(t))
	ctx := context.Background()

	created, err := convs.Ensure(ctx, "c-1")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = convs.Ensure(ctx, "c-1")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestConversations_TurnOrder(t *testing.T) {
	convs := NewConversations(testDB(t))
	ctx := context.Background()
	_, err := convs.Ensure(ctx, "c-1")
	require.NoError(t, err)

	same := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	msgs := []domain.Turn{
		{Role: domain.RoleUser, Content: "My name is Alex", CreatedAt: same},
		{Role: domain.RoleAssistant, Content: "Hi Alex", CreatedAt: same},
		{Role: domain.RoleUser, Content: "tomorrow", CreatedAt: same.Add(time.Second)},
	}
	for _, m := range msgs {
		require.NoError(t, convs.Append(ctx, "c-1", m))
	}

	turns, err := convs.Turns(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "My name is Alex", turns[0].Content)
	assert.Equal(t, domain.RoleAssistant, turns[1].Role)
	assert.Equal(t, "tomorrow", turns[2].Content)
	assert.Equal(t, same, turns[0].CreatedAt)
}

func TestConversations_AudioNotPersisted(t *testing.T) {
	convs := NewConversations(testDB(t))
	ctx := context.Background()
	_, err := convs.Ensure(ctx, "c-1")
	require.NoError(t, err)

	require.NoError(t, convs.Append(ctx, "c-1", domain.Turn{Role: domain.RoleAssistant, Content: "Hello", Audio: []byte{1, 2, 3}}))
	turns, err := convs.Turns(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Nil(t, turns[0].Audio)
}

func TestConversations_RejectsBadRole(t *testing.T) {
	convs := NewConversations(testDB(t))
	ctx := context.Background()
	_, err := convs.Ensure(ctx, "c-1")
	require.NoError(t, err)

	err = convs.Append(ctx, "c-1", domain.Turn{Role: "system", Content: "x"})
	assert.Error(t, err)
}

func TestConversations_UnknownSessionFailsForeignKey(t *testing.T) {
	convs := NewConversations(testDB(t))
	err := convs.Append(context.Background(), "missing", domain.Turn{Role: domain.RoleUser, Content: "x"})
	assert.Error(t, err)
}

// --- Ledger tests ---

func TestLedgerContract(t *testing.T) {
	ledgertest.Run(t, NewLedger(testDB(t)))
}

func TestLedgerContract_File(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "ledger.db"), logging.New(nil, "silent"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ledgertest.Run(t, NewLedger(db))
}

func TestLedger_UniqueIndexBacksConflict(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	l := NewLedger(db)

	_, err := l.Create(ctx, domain.NewBooking{ConversationID: "c-1", Name: "A", Date: "d", Time: "t"})
	require.NoError(t, err)

	// bypass the check-before-insert to hit the index directly
	_, err = db.sql.Exec(
		`INSERT INTO appointment (session_id, name, appt_date, appt_time, status, created_at)
		 VALUES ('c-1', 'B', 'd', 't', 'booked', '2026-01-01 00:00:00.000000')`,
	)
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err))
}

func TestLedger_CancelledAtRoundTrip(t *testing.T) {
	l := NewLedger(testDB(t))
	ctx := context.Background()

	_, err := l.Create(ctx, domain.NewBooking{ConversationID: "c-1", Name: "A", Date: "d", Time: "t"})
	require.NoError(t, err)
	_, err = l.Cancel(ctx, "c-1")
	require.NoError(t, err)

	all, err := l.List(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.NotNil(t, all[0].CancelledAt)
	assert.WithinDuration(t, time.Now(), *all[0].CancelledAt, time.Minute)

	_, err = l.Reschedule(ctx, "c-1", "x", "y")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}
