// Package ledger defines the appointment record store and an in-memory
// implementation of it.
package ledger

import (
	"context"
	"errors"

	"github.com/soyeahso/callpilot/internal/domain"
)

var (
	// ErrConflict is returned by Create when the conversation already has a
	// booked appointment.
	ErrConflict = errors.New("ledger: conversation already has a booked appointment")

	// ErrNotFound is returned by Reschedule and Cancel when there is no
	// booked appointment to act on.
	ErrNotFound = errors.New("ledger: no booked appointment")
)

// Ledger is the source of truth for appointment existence. Every
// implementation keeps at most one booked record per conversation.
type Ledger interface {
	// Create books a new appointment. Returns ErrConflict if one is
	// already booked for the conversation.
	Create(ctx context.Context, b domain.NewBooking) (domain.Appointment, error)

	// LatestBooked returns the most recently created booked appointment.
	LatestBooked(ctx context.Context, conversationID string) (domain.Appointment, bool, error)

	// Reschedule moves the booked appointment in place.
	Reschedule(ctx context.Context, conversationID, date, time string) (domain.Appointment, error)

	// Cancel marks the booked appointment cancelled and returns its
	// snapshot from before the transition.
	Cancel(ctx context.Context, conversationID string) (domain.Appointment, error)

	// List returns every appointment of the conversation, oldest first.
	List(ctx context.Context, conversationID string) ([]domain.Appointment, error)
}
