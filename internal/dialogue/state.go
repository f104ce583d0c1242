// Package dialogue reconciles rule-based intents with model extraction and
// drives the appointment ledger, one user turn at a time.
package dialogue

import "github.com/soyeahso/callpilot/internal/domain"

// State is the dialogue state of one conversation between turns. It is
// either Idle or AwaitingRescheduleConfirm.
type State interface {
	Name() string
	isState()
}

// Idle is the initial state and the resting state between turns.
type Idle struct{}

func (Idle) Name() string { return "idle" }
func (Idle) isState()     {}

// AwaitingRescheduleConfirm holds the candidate date and time of a
// reschedule. Both are empty until the candidate has been captured.
type AwaitingRescheduleConfirm struct {
	Date string `json:"date,omitempty"`
	Time string `json:"time,omitempty"`
}

func (AwaitingRescheduleConfirm) Name() string { return "awaiting_reschedule_confirm" }
func (AwaitingRescheduleConfirm) isState()     {}

// Captured reports whether a candidate is waiting for a yes/no answer.
func (a AwaitingRescheduleConfirm) Captured() bool {
	return a.Date != "" && a.Time != ""
}

// Conversation is the per-conversation state threaded through each turn.
type Conversation struct {
	ID    string
	Slots domain.SlotState
	State State

	// History is the persisted transcript, including the turn being
	// processed when the caller has already stored it.
	History []domain.Turn
}

// NewConversation returns an idle conversation with empty slots.
func NewConversation(id string) *Conversation {
	return &Conversation{ID: id, State: Idle{}}
}

// Reset clears slots and pending state. The id is kept.
func (c *Conversation) Reset() {
	c.Slots = domain.SlotState{}
	c.State = Idle{}
	c.History = nil
}

func (c *Conversation) awaiting() (AwaitingRescheduleConfirm, bool) {
	a, ok := c.State.(AwaitingRescheduleConfirm)
	return a, ok
}
