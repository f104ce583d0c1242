package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/soyeahso/callpilot/internal/domain"
)

// Conversations persists chat sessions and their turns.
type Conversations struct {
	db *DB
}

// NewConversations creates a conversation store on db.
func NewConversations(db *DB) *Conversations {
	return &Conversations{db: db}
}

// Ensure creates the session row if missing and reports whether it did.
func (c *Conversations) Ensure(ctx context.Context, id string) (bool, error) {
	tag, err := c.db.pool.Exec(ctx,
		`INSERT INTO chat_session (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, id,
	)
	if err != nil {
		return false, fmt.Errorf("ensuring conversation %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
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
	if _, err := c.db.pool.Exec(ctx,
		`INSERT INTO chat_message (session_id, role, content, created_at) VALUES ($1, $2, $3, $4)`,
		id, string(turn.Role), turn.Content, ts.UTC(),
	); err != nil {
		return fmt.Errorf("appending turn to %s: %w", id, err)
	}
	return nil
}

// Turns returns the conversation's turns in creation order.
func (c *Conversations) Turns(ctx context.Context, id string) ([]domain.Turn, error) {
	rows, err := c.db.pool.Query(ctx,
		`SELECT role, content, created_at FROM chat_message
		 WHERE session_id = $1 ORDER BY created_at ASC, id ASC`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("loading turns of %s: %w", id, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Turn, error) {
		var t domain.Turn
		var role string
		err := row.Scan(&role, &t.Content, &t.CreatedAt)
		t.Role = domain.Role(role)
		return t, err
	})
}
