package store

import (
	"context"
	"fmt"
	"time"

	"github.com/soyeahso/callpilot/internal/domain"
)

// Conversations persists chat sessions and their turns in SQLite.
type Conversations struct {
	db *DB
}

// NewConversations creates a conversation store using the given database.
func NewConversations(db *DB) *Conversations {
	return &Conversations{db: db}
}

// Ensure creates the session row if it does not exist. It reports whether
// a new row was created.
func (c *Conversations) Ensure(ctx context.Context, id string) (bool, error) {
	res, err := c.db.sql.ExecContext(ctx,
		`INSERT INTO chat_session (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		id, formatTime(time.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("ensuring conversation %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Append stores one turn. Audio is dropped.
func (c *Conversations) Append(ctx context.Context, id string, turn domain.Turn) error {
	if !turn.Role.Valid() {
		return fmt.Errorf("invalid role %q", turn.Role)
	}
	ts := turn.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := c.db.sql.ExecContext(ctx,
		`INSERT INTO chat_message (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		id, string(turn.Role), turn.Content, formatTime(ts),
	)
	if err != nil {
		return fmt.Errorf("appending turn to %s: %w", id, err)
	}
	return nil
}

// Turns returns the conversation's turns in creation order.
func (c *Conversations) Turns(ctx context.Context, id string) ([]domain.Turn, error) {
	rows, err := c.db.sql.QueryContext(ctx,
		`SELECT role, content, created_at FROM chat_message
		 WHERE session_id = ? ORDER BY created_at ASC, id ASC`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("loading turns of %s: %w", id, err)
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var t domain.Turn
		var role, ts string
		if err := rows.Scan(&role, &t.Content, &ts); err != nil {
			return nil, err
		}
		t.Role = domain.Role(role)
		t.CreatedAt = parseTime(ts)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.DateTime, s)
	}
	return t
}
