package dialogue

import (
	"context"
	"errors"
	"fmt"

	"github.com/soyeahso/callpilot/internal/domain"
	"github.com/soyeahso/callpilot/internal/intent"
	"github.com/soyeahso/callpilot/internal/ledger"
	"github.com/soyeahso/callpilot/internal/logging"
)

// Fixed replies.
const (
	ReplyNothingToCancel     = "I couldn't find any active appointment to cancel in this session."
	ReplyNothingToReschedule = "I couldn't find an active appointment in this session to reschedule."
	ReplyRescheduleDeclined  = "No problem, tell me the new date/time you prefer."
)

// Action names the side effect a turn produced.
type Action string

const (
	ActionReply              Action = "reply"
	ActionConfirmRequested   Action = "confirm_requested"
	ActionRescheduled        Action = "rescheduled"
	ActionRescheduleMissing  Action = "reschedule_not_found"
	ActionRescheduleDeclined Action = "reschedule_declined"
	ActionCancelled          Action = "cancelled"
	ActionCancelMissing      Action = "cancel_not_found"
	ActionBooked             Action = "booked"
)

// ExtractResult is what the model proposed for one turn.
type ExtractResult struct {
	Reply  string
	Slots  domain.Extraction
	Failed bool
}

// Extractor asks the model for a reply and slot values. It never fails;
// provider errors come back as an apology reply with Failed set.
type Extractor interface {
	Extract(ctx context.Context, text string, history []domain.Turn, slots domain.SlotState) ExtractResult
}

// Outcome describes what one Step did.
type Outcome struct {
	Reply   string
	Action  Action
	Intents intent.Set

	// Appointment is the record the action touched: the new booking, the
	// rescheduled record, or the pre-cancellation snapshot.
	Appointment *domain.Appointment

	ExtractFailed bool

	// Err is a ledger failure the caller should surface to the user.
	Err error
}

// Machine applies user turns to conversations.
type Machine struct {
	ledger    ledger.Ledger
	extractor Extractor
	log       *logging.Logger
}

// NewMachine creates a Machine backed by l and x.
func NewMachine(l ledger.Ledger, x Extractor, log *logging.Logger) *Machine {
	return &Machine{ledger: l, extractor: x, log: log.Sub("dialogue")}
}

// Step applies one user turn. Callers must serialise Steps per
// conversation.
func (m *Machine) Step(ctx context.Context, conv *Conversation, text string) Outcome {
	if conv.State == nil {
		conv.State = Idle{}
	}
	intents := intent.Classify(text)
	out := m.transition(ctx, conv, text, intents)
	out.Intents = intents

	m.log.Debug().
		Str("conversationId", conv.ID).
		Str("action", string(out.Action)).
		Str("state", conv.State.Name()).
		Bool("cancelIntent", intents.Cancel).
		Bool("rescheduleIntent", intents.Reschedule).
		Msg("turn applied")
	return out
}

func (m *Machine) transition(ctx context.Context, conv *Conversation, text string, intents intent.Set) Outcome {
	if intents.Cancel {
		return m.cancel(ctx, conv)
	}

	if pending, ok := conv.awaiting(); ok && pending.Captured() {
		switch {
		case intent.IsAffirmative(text):
			out := m.reschedule(ctx, conv, pending)
			if out.Action != ActionRescheduled || out.Err != nil {
				return out
			}
			return m.bookIfNeeded(ctx, conv, out)
		case intent.IsNegative(text):
			conv.State = Idle{}
			return m.bookIfNeeded(ctx, conv, Outcome{Reply: ReplyRescheduleDeclined, Action: ActionRescheduleDeclined})
		}
	}

	if intents.Reschedule {
		conv.State = AwaitingRescheduleConfirm{}
	}

	res := m.extractor.Extract(ctx, text, conv.History, conv.Slots)
	conv.Slots = conv.Slots.Merge(res.Slots)
	out := Outcome{Reply: res.Reply, Action: ActionReply, ExtractFailed: res.Failed}

	if _, ok := conv.awaiting(); ok && conv.Slots.HasDateTime() {
		conv.State = AwaitingRescheduleConfirm{Date: conv.Slots.Date, Time: conv.Slots.Time}
		out.Reply = fmt.Sprintf("Just to confirm, do you want to reschedule your appointment to **%s** at **%s**? Reply **yes** or **no**.",
			conv.Slots.Date, conv.Slots.Time)
		out.Action = ActionConfirmRequested
	}
	return m.bookIfNeeded(ctx, conv, out)
}

func (m *Machine) cancel(ctx context.Context, conv *Conversation) Outcome {
	appt, err := m.ledger.Cancel(ctx, conv.ID)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		conv.State = Idle{}
		return Outcome{Reply: ReplyNothingToCancel, Action: ActionCancelMissing}
	case err != nil:
		m.log.Error().Err(err).Str("conversationId", conv.ID).Msg("cancel failed")
		return Outcome{Action: ActionCancelled, Err: fmt.Errorf("cancel appointment: %w", err)}
	}

	conv.State = Idle{}
	m.log.Info().Str("conversationId", conv.ID).Int64("appointmentId", appt.ID).Msg("appointment cancelled")
	return Outcome{
		Reply: fmt.Sprintf("Done, I cancelled your appointment on **%s** at **%s** under **%s**.",
			appt.Date, appt.Time, appt.Name),
		Action:      ActionCancelled,
		Appointment: &appt,
	}
}

func (m *Machine) reschedule(ctx context.Context, conv *Conversation, pending AwaitingRescheduleConfirm) Outcome {
	appt, err := m.ledger.Reschedule(ctx, conv.ID, pending.Date, pending.Time)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		conv.State = Idle{}
		return Outcome{Reply: ReplyNothingToReschedule, Action: ActionRescheduleMissing}
	case err != nil:
		m.log.Error().Err(err).Str("conversationId", conv.ID).Msg("reschedule failed")
		return Outcome{Action: ActionRescheduled, Err: fmt.Errorf("reschedule appointment: %w", err)}
	}

	conv.State = Idle{}
	m.log.Info().
		Str("conversationId", conv.ID).
		Int64("appointmentId", appt.ID).
		Str("date", appt.Date).
		Str("time", appt.Time).
		Msg("appointment rescheduled")
	return Outcome{
		Reply:       fmt.Sprintf("Done, I rescheduled it to **%s** at **%s**.", appt.Date, appt.Time),
		Action:      ActionRescheduled,
		Appointment: &appt,
	}
}

// bookIfNeeded creates the appointment once the slots are complete and the
// ledger holds no booked record for the conversation.
func (m *Machine) bookIfNeeded(ctx context.Context, conv *Conversation, out Outcome) Outcome {
	if !conv.Slots.Complete() {
		return out
	}
	if _, ok := conv.awaiting(); ok {
		return out
	}

	_, booked, err := m.ledger.LatestBooked(ctx, conv.ID)
	if err != nil {
		out.Err = fmt.Errorf("check booking: %w", err)
		return out
	}
	if booked {
		return out
	}

	appt, err := m.ledger.Create(ctx, domain.BookingFromSlots(conv.ID, conv.Slots))
	switch {
	case errors.Is(err, ledger.ErrConflict):
		return out
	case err != nil:
		m.log.Error().Err(err).Str("conversationId", conv.ID).Msg("booking failed")
		out.Err = fmt.Errorf("create appointment: %w", err)
		return out
	}

	m.log.Info().
		Str("conversationId", conv.ID).
		Int64("appointmentId", appt.ID).
		Str("name", appt.Name).
		Str("date", appt.Date).
		Str("time", appt.Time).
		Msg("appointment booked")
	out.Action = ActionBooked
	out.Appointment = &appt
	return out
}
