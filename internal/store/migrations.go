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
		Name:    "create chat sessions and messages",
		SQL: `
			CREATE TABLE chat_session (
				id          TEXT PRIMARY KEY,
				created_at  TEXT NOT NULL
			);

			CREATE TABLE chat_message (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id  TEXT NOT NULL REFERENCES chat_session(id),
				role        TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
				content     TEXT NOT NULL,
				created_at  TEXT NOT NULL
			);

			CREATE INDEX idx_chat_message_session ON chat_message (session_id, created_at, id);
		`,
	},
	{
		Version: 2,
		Name:    "create appointments",
		SQL: `
			CREATE TABLE appointment (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id    TEXT NOT NULL REFERENCES chat_session(id),
				name          TEXT NOT NULL,
				appt_date     TEXT NOT NULL,
				appt_time     TEXT NOT NULL,
				status        TEXT NOT NULL CHECK (status IN ('booked', 'cancelled')),
				created_at    TEXT NOT NULL,
				cancelled_at  TEXT
			);

			CREATE INDEX idx_appointment_session ON appointment (session_id, created_at, id);
			CREATE UNIQUE INDEX idx_appointment_one_booked
				ON appointment (session_id) WHERE status = 'booked';
		`,
	},
}
