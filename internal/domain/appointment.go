package domain

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusBooked    Status = "booked"
	StatusCancelled Status = "cancelled"
)

// Appointment is a durable booking record. Cancellation is a status
// transition; records are never removed.
type Appointment struct {
	ID             int64      `json:"id"`
	ConversationID string     `json:"conversationId"`
	Name           string     `json:"name"`
	Date           string     `json:"date"`
	Time           string     `json:"time"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`
	CancelledAt    *time.Time `json:"cancelledAt,omitempty"`
}

// Booked reports whether the appointment is active.
func (a Appointment) Booked() bool {
	return a.Status == StatusBooked
}

// NewBooking describes the fields needed to create an appointment.
type NewBooking struct {
	ConversationID string `json:"conversationId"`
	Name           string `json:"name"`
	Date           string `json:"date"`
	Time           string `json:"time"`
}

// Validate checks that every field of the booking is present and sane.
func (b NewBooking) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.ConversationID, validation.Required, validation.Length(1, 128)),
		validation.Field(&b.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&b.Date, validation.Required, validation.Length(1, 100)),
		validation.Field(&b.Time, validation.Required, validation.Length(1, 100)),
	)
}

// BookingFromSlots builds a NewBooking from a complete slot state.
func BookingFromSlots(conversationID string, s SlotState) NewBooking {
	return NewBooking{ConversationID: conversationID, Name: s.Name, Date: s.Date, Time: s.Time}
}
