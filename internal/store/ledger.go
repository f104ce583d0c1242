package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/callpilot/internal/domain"
	"github.com/soyeahso/callpilot/internal/ledger"
)

// Ledger implements ledger.Ledger on the appointment table. Each operation
// runs in its own transaction.
type Ledger struct {
	db *DB
}

var _ ledger.Ledger = (*Ledger)(nil)

// NewLedger creates a ledger using the given database.
func NewLedger(db *DB) *Ledger {
	return &Ledger{db: db}
}

const appointmentColumns = `id, session_id, name, appt_date, appt_time, status, created_at, cancelled_at`

func (l *Ledger) Create(ctx context.Context, b domain.NewBooking) (domain.Appointment, error) {
	if err := b.Validate(); err != nil {
		return domain.Appointment{}, err
	}

	var out domain.Appointment
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		if _, found, err := latestBooked(ctx, tx, b.ConversationID); err != nil {
			return err
		} else if found {
			return ledger.ErrConflict
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_session (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
			b.ConversationID, formatTime(time.Now()),
		); err != nil {
			return err
		}

		now := time.Now()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO appointment (session_id, name, appt_date, appt_time, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			b.ConversationID, b.Name, b.Date, b.Time, string(domain.StatusBooked), formatTime(now),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ledger.ErrConflict
			}
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		out = domain.Appointment{
			ID:             id,
			ConversationID: b.ConversationID,
			Name:           b.Name,
			Date:           b.Date,
			Time:           b.Time,
			Status:         domain.StatusBooked,
			CreatedAt:      parseTime(formatTime(now)),
		}
		return nil
	})
	return out, err
}

func (l *Ledger) LatestBooked(ctx context.Context, conversationID string) (domain.Appointment, bool, error) {
	return latestBooked(ctx, l.db.sql, conversationID)
}

func (l *Ledger) Reschedule(ctx context.Context, conversationID, date, tm string) (domain.Appointment, error) {
	var out domain.Appointment
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		a, found, err := latestBooked(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		if !found {
			return ledger.ErrNotFound
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE appointment SET appt_date = ?, appt_time = ? WHERE id = ?`, date, tm, a.ID,
		); err != nil {
			return err
		}
		a.Date, a.Time = date, tm
		out = a
		return nil
	})
	return out, err
}

func (l *Ledger) Cancel(ctx context.Context, conversationID string) (domain.Appointment, error) {
	var out domain.Appointment
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		a, found, err := latestBooked(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		if !found {
			return ledger.ErrNotFound
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE appointment SET status = ?, cancelled_at = ? WHERE id = ?`,
			string(domain.StatusCancelled), formatTime(time.Now()), a.ID,
		); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

func (l *Ledger) List(ctx context.Context, conversationID string) ([]domain.Appointment, error) {
	rows, err := l.db.sql.QueryContext(ctx,
		`SELECT `+appointmentColumns+` FROM appointment
		 WHERE session_id = ? ORDER BY created_at ASC, id ASC`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing appointments: %w", err)
	}
	defer rows.Close()

	var out []domain.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// inTx runs fn in a transaction, rolling back on any non-commit exit.
func (l *Ledger) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := l.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func latestBooked(ctx context.Context, q queryer, conversationID string) (domain.Appointment, bool, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+appointmentColumns+` FROM appointment
		 WHERE session_id = ? AND status = 'booked'
		 ORDER BY created_at DESC, id DESC LIMIT 1`, conversationID,
	)
	a, err := scanAppointment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Appointment{}, false, nil
	}
	if err != nil {
		return domain.Appointment{}, false, fmt.Errorf("reading booked appointment: %w", err)
	}
	return a, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAppointment(s scanner) (domain.Appointment, error) {
	var a domain.Appointment
	var status, created string
	var cancelled sql.NullString
	if err := s.Scan(&a.ID, &a.ConversationID, &a.Name, &a.Date, &a.Time, &status, &created, &cancelled); err != nil {
		return domain.Appointment{}, err
	}
	a.Status = domain.Status(status)
	a.CreatedAt = parseTime(created)
	if cancelled.Valid {
		t := parseTime(cancelled.String)
		a.CancelledAt = &t
	}
	return a, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
