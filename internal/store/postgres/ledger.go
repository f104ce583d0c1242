package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/soyeahso/callpilot/internal/domain"
	"github.com/soyeahso/callpilot/internal/ledger"
)

// Ledger implements ledger.Ledger on PostgreSQL. The partial unique index
// on booked rows turns a lost check-then-insert race into ErrConflict.
type Ledger struct {
	db *DB
}

var _ ledger.Ledger = (*Ledger)(nil)

// NewLedger creates a ledger on db.
func NewLedger(db *DB) *Ledger {
	return &Ledger{db: db}
}

const appointmentColumns = `id, session_id, name, appt_date, appt_time, status, created_at, cancelled_at`

const selectLatestBooked = `SELECT ` + appointmentColumns + ` FROM appointment
	WHERE session_id = $1 AND status = 'booked'
	ORDER BY created_at DESC, id DESC LIMIT 1`

func (l *Ledger) Create(ctx context.Context, b domain.NewBooking) (domain.Appointment, error) {
	if err := b.Validate(); err != nil {
		return domain.Appointment{}, err
	}

	var out domain.Appointment
	err := pgx.BeginFunc(ctx, l.db.pool, func(tx pgx.Tx) error {
		if _, found, err := latestBooked(ctx, tx, b.ConversationID); err != nil {
			return err
		} else if found {
			return ledger.ErrConflict
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO chat_session (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, b.ConversationID,
		); err != nil {
			return err
		}
		row := tx.QueryRow(ctx,
			`INSERT INTO appointment (session_id, name, appt_date, appt_time, status)
			 VALUES ($1, $2, $3, $4, 'booked')
			 RETURNING `+appointmentColumns,
			b.ConversationID, b.Name, b.Date, b.Time,
		)
		a, err := scanAppointment(row)
		if err != nil {
			return err
		}
		out = a
		return nil
	})
	if isUniqueViolation(err) {
		return domain.Appointment{}, ledger.ErrConflict
	}
	return out, err
}

func (l *Ledger) LatestBooked(ctx context.Context, conversationID string) (domain.Appointment, bool, error) {
	return latestBooked(ctx, l.db.pool, conversationID)
}

func (l *Ledger) Reschedule(ctx context.Context, conversationID, date, tm string) (domain.Appointment, error) {
	var out domain.Appointment
	err := pgx.BeginFunc(ctx, l.db.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`UPDATE appointment SET appt_date = $2, appt_time = $3
			 WHERE id = (`+lockLatestBooked+`)
			 RETURNING `+appointmentColumns,
			conversationID, date, tm,
		)
		a, err := scanAppointment(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.ErrNotFound
		}
		out = a
		return err
	})
	return out, err
}

func (l *Ledger) Cancel(ctx context.Context, conversationID string) (domain.Appointment, error) {
	var out domain.Appointment
	err := pgx.BeginFunc(ctx, l.db.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, selectLatestBooked+` FOR UPDATE`, conversationID)
		a, err := scanAppointment(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.ErrNotFound
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE appointment SET status = 'cancelled', cancelled_at = now() WHERE id = $1`, a.ID,
		); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

func (l *Ledger) List(ctx context.Context, conversationID string) ([]domain.Appointment, error) {
	rows, err := l.db.pool.Query(ctx,
		`SELECT `+appointmentColumns+` FROM appointment
		 WHERE session_id = $1 ORDER BY created_at ASC, id ASC`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing appointments: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Appointment, error) {
		return scanAppointment(row)
	})
}

const lockLatestBooked = `SELECT id FROM appointment
	WHERE session_id = $1 AND status = 'booked'
	ORDER BY created_at DESC, id DESC LIMIT 1 FOR UPDATE`

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func latestBooked(ctx context.Context, q querier, conversationID string) (domain.Appointment, bool, error) {
	a, err := scanAppointment(q.QueryRow(ctx, selectLatestBooked, conversationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Appointment{}, false, nil
	}
	if err != nil {
		return domain.Appointment{}, false, fmt.Errorf("reading booked appointment: %w", err)
	}
	return a, true, nil
}

func scanAppointment(row pgx.Row) (domain.Appointment, error) {
	var a domain.Appointment
	var status string
	err := row.Scan(&a.ID, &a.ConversationID, &a.Name, &a.Date, &a.Time, &status, &a.CreatedAt, &a.CancelledAt)
	a.Status = domain.Status(status)
	return a, err
}
