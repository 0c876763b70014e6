package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create sessions and history",
		SQL: `
			CREATE TABLE sessions (
				user_id       TEXT PRIMARY KEY,
				metadata      TEXT NOT NULL DEFAULT '{}',
				created_at    TEXT NOT NULL,
				last_activity TEXT NOT NULL
			);

			CREATE INDEX idx_sessions_activity ON sessions (last_activity);

			CREATE TABLE history (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id    TEXT NOT NULL REFERENCES sessions(user_id) ON DELETE CASCADE,
				role       TEXT NOT NULL,
				content    TEXT NOT NULL,
				timestamp  TEXT NOT NULL
			);

			CREATE INDEX idx_history_user ON history (user_id, id);
		`,
	},
	{
		Version: 2,
		Name:    "create bizum transactions",
		SQL: `
			CREATE TABLE transactions (
				seq             INTEGER PRIMARY KEY AUTOINCREMENT,
				id              TEXT NOT NULL UNIQUE,
				user_id         TEXT NOT NULL,
				type            TEXT NOT NULL,
				amount          REAL NOT NULL,
				recipient       TEXT NOT NULL,
				recipient_phone TEXT NOT NULL,
				from_contact    INTEGER NOT NULL DEFAULT 0,
				concept         TEXT NOT NULL DEFAULT '',
				status          TEXT NOT NULL,
				signature       TEXT NOT NULL DEFAULT '',
				created_at      TEXT NOT NULL,
				confirmed_at    TEXT
			);

			CREATE INDEX idx_transactions_user ON transactions (user_id, seq);
		`,
	},
	{
		Version: 3,
		Name:    "create contact books",
		SQL: `
			CREATE TABLE contact_books (
				user_id    TEXT PRIMARY KEY,
				contacts   TEXT NOT NULL,
				updated_at TEXT NOT NULL
			);
		`,
	},
}
