package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/soyeahso/bizagent/internal/domain"
	"github.com/soyeahso/bizagent/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	log := logging.New(nil, "silent")
	db, err := Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func migrationCount(t *testing.T, db *DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n))
	return n
}

func TestOpen_InMemory(t *testing.T) {
	db := testDB(t)
	assert.NoError(t, db.Ping(context.Background()))
	assert.Equal(t, len(migrations), migrationCount(t, db))

	// a second pass finds nothing to do
	require.NoError(t, db.migrate())
	assert.Equal(t, len(migrations), migrationCount(t, db))
}

func TestOpen_FileSurvivesReopen(t *testing.T) {
	path := t.TempDir() + "/nested/bizagent.db"
	db, err := Open(path, logging.New(nil, "silent"))
	require.NoError(t, err)
	_, err = db.SQL().Exec(`INSERT INTO sessions (user_id, created_at, last_activity) VALUES ('u1', 'now', 'now')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path, logging.New(nil, "silent"))
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, len(migrations), migrationCount(t, db))

	var n int
	require.NoError(t, db.sql.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&n))
	assert.Equal(t, 1, n)

	var mode string
	require.NoError(t, db.sql.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestSchema_TablesExist(t *testing.T) {
	db := testDB(t)

	tables := []string{"sessions", "history", "transactions", "contact_books"}
	for _, table := range tables {
		var name string
		err := db.sql.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

// --- Session Store tests ---

func newSessionStore(t *testing.T, max int) (*SQLiteSessionStore, *time.Time) {
	t.Helper()
	now := time.Date(2025, 9, 21, 12, 0, 0, 0, time.UTC)
	ss := NewSQLiteSessionStore(testDB(t), max)
	ss.now = func() time.Time { return now }
	return ss, &now
}

func TestSessionStore_CreateAndGet(t *testing.T) {
	ss, _ := newSessionStore(t, 20)
	ctx := context.Background()

	got, err := ss.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, got)

	sess, err := ss.Create(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "alice", sess.UserID)
	assert.Empty(t, sess.History)
	assert.NotNil(t, sess.Metadata)

	again, err := ss.Create(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, sess.CreatedAt, again.CreatedAt)
}

func TestSessionStore_AppendExchange(t *testing.T) {
	ss, _ := newSessionStore(t, 20)
	ctx := context.Background()

	require.NoError(t, ss.AppendExchange(ctx, "alice", "Hola", "¡Hola! ¿En qué te ayudo?"))

	h, err := ss.History(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, h, 2)
	assert.Equal(t, domain.RoleUser, h[0].Role)
	assert.Equal(t, "Hola", h[0].Content)
	assert.Equal(t, domain.RoleAssistant, h[1].Role)
}

func TestSessionStore_HistoryCapIsFIFO(t *testing.T) {
	ss, _ := newSessionStore(t, 20)
	ctx := context.Background()

	for i := 1; i <= 11; i++ {
		require.NoError(t, ss.AppendExchange(ctx, "alice", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i)))
	}

	h, err := ss.History(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, h, 20)
	assert.Equal(t, "q2", h[0].Content)
	assert.Equal(t, "a11", h[19].Content)
}

func TestSessionStore_ClearAndDelete(t *testing.T) {
	ss, _ := newSessionStore(t, 20)
	ctx := context.Background()

	require.NoError(t, ss.AppendExchange(ctx, "alice", "q", "a"))
	require.NoError(t, ss.Clear(ctx, "alice"))

	sess, err := ss.Get(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Empty(t, sess.History)

	require.NoError(t, ss.AppendExchange(ctx, "alice", "q", "a"))
	ok, err := ss.Delete(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	h, err := ss.History(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, h, "history cascades with the session")

	ok, err = ss.Delete(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionStore_ListAndActive(t *testing.T) {
	ss, now := newSessionStore(t, 20)
	ctx := context.Background()

	require.NoError(t, ss.AppendExchange(ctx, "old", "q", "a"))
	*now = now.Add(2 * time.Hour)
	require.NoError(t, ss.AppendExchange(ctx, "new", "q", "a"))

	since := now.Add(-time.Hour)
	all, err := ss.List(ctx, since)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "new", all[0].UserID)
	assert.Equal(t, "active", all[0].Status)
	assert.Equal(t, "inactive", all[1].Status)
	assert.Equal(t, 2, all[0].MessageCount)

	active, err := ss.ListActive(ctx, since)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "new", active[0].UserID)
}

func TestSessionStore_Metadata(t *testing.T) {
	ss, _ := newSessionStore(t, 20)
	ctx := context.Background()

	meta, err := ss.Metadata(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, meta)

	require.NoError(t, ss.SetMetadata(ctx, "alice", "lang", "es"))
	require.NoError(t, ss.SetMetadata(ctx, "alice", "visits", 3))

	meta, err = ss.Metadata(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "es", meta["lang"])
	assert.Equal(t, 3.0, meta["visits"])
}

func TestSessionStore_Prune(t *testing.T) {
	ss, now := newSessionStore(t, 20)
	ctx := context.Background()

	require.NoError(t, ss.AppendExchange(ctx, "stale", "q", "a"))
	*now = now.Add(48 * time.Hour)
	require.NoError(t, ss.AppendExchange(ctx, "fresh", "q", "a"))

	n, err := ss.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sess, err := ss.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Nil(t, sess)
}

// --- Transaction Store tests ---

func TestTransactionStore_AppendAndRecent(t *testing.T) {
	ts := NewSQLiteTransactionStore(testDB(t))
	ctx := context.Background()
	base := time.Date(2025, 9, 21, 12, 0, 0, 0, time.UTC)

	for i := 1; i <= 12; i++ {
		confirmed := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, ts.AppendTransaction(ctx, domain.Transaction{
			ID:             fmt.Sprintf("BZ%02d", i),
			UserID:         "u1",
			Type:           domain.TxSend,
			Amount:         float64(i),
			Recipient:      "María García",
			RecipientPhone: "+34678123456",
			FromContact:    true,
			Concept:        "Cena",
			Status:         domain.TxCompleted,
			Signature:      "sig",
			CreatedAt:      base,
			ConfirmedAt:    &confirmed,
		}, 10))
	}

	all, err := ts.RecentTransactions(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, all, 10)
	assert.Equal(t, "BZ12", all[0].ID)
	assert.Equal(t, "BZ03", all[9].ID)
	assert.True(t, all[0].FromContact)
	require.NotNil(t, all[0].ConfirmedAt)
	assert.True(t, all[0].ConfirmedAt.Equal(base.Add(12*time.Minute)))

	top, err := ts.RecentTransactions(ctx, "u1", 3)
	require.NoError(t, err)
	assert.Len(t, top, 3)

	none, err := ts.RecentTransactions(ctx, "u2", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTransactionStore_TruncationIsPerUser(t *testing.T) {
	ts := NewSQLiteTransactionStore(testDB(t))
	ctx := context.Background()

	require.NoError(t, ts.AppendTransaction(ctx, domain.Transaction{ID: "A1", UserID: "a", Status: domain.TxCompleted}, 1))
	require.NoError(t, ts.AppendTransaction(ctx, domain.Transaction{ID: "B1", UserID: "b", Status: domain.TxCompleted}, 1))
	require.NoError(t, ts.AppendTransaction(ctx, domain.Transaction{ID: "A2", UserID: "a", Status: domain.TxCompleted}, 1))

	a, _ := ts.RecentTransactions(ctx, "a", 0)
	b, _ := ts.RecentTransactions(ctx, "b", 0)
	require.Len(t, a, 1)
	assert.Equal(t, "A2", a[0].ID)
	assert.Len(t, b, 1)
}

// --- Contact Store tests ---

func TestContactStore_LoadSave(t *testing.T) {
	cs := NewSQLiteContactStore(testDB(t))
	ctx := context.Background()

	_, ok, err := cs.LoadContacts(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	seed := domain.DefaultContacts(time.Now().UTC())
	require.NoError(t, cs.SaveContacts(ctx, "u1", seed))

	got, ok, err := cs.LoadContacts(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, got, len(seed))
	assert.Equal(t, "María García", got[0].Name)

	require.NoError(t, cs.SaveContacts(ctx, "u1", nil))
	got, ok, err = cs.LoadContacts(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok, "an emptied book is not re-seeded")
	assert.Empty(t, got)
}
