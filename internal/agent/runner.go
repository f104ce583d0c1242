package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/callpilot/internal/dialogue"
	"github.com/soyeahso/callpilot/internal/domain"
	"github.com/soyeahso/callpilot/internal/hooks"
	"github.com/soyeahso/callpilot/internal/ledger"
	"github.com/soyeahso/callpilot/internal/logging"
	"github.com/soyeahso/callpilot/internal/observe"
	"github.com/soyeahso/callpilot/internal/speech"
)

// NoticeBookingFailed is appended to the reply when a ledger write failed.
const NoticeBookingFailed = "I couldn't save your booking just now. Please try again."

// ErrEmptyMessage is returned for turns with no text.
var ErrEmptyMessage = errors.New("message is empty")

// RunnerConfig configures the turn runner.
type RunnerConfig struct {
	MaxInputChars int
}

// Deps are the collaborators of a Runner. Speaker, Hooks and Metrics are
// optional.
type Deps struct {
	Ledger        ledger.Ledger
	Conversations ConversationStore
	Extractor     dialogue.Extractor
	Speaker       *speech.Speaker
	Hooks         *hooks.Manager
	Metrics       *observe.Metrics
}

// Session is a conversation as seen by a client that (re)connects.
type Session struct {
	ConversationID string              `json:"conversationId"`
	Created        bool                `json:"created"`
	Turns          []domain.Turn       `json:"turns"`
	Slots          domain.SlotState    `json:"slots"`
	State          string              `json:"state"`
	Booking        *domain.Appointment `json:"booking,omitempty"`
}

// TurnResult is the outcome of one user turn.
type TurnResult struct {
	ConversationID string              `json:"conversationId"`
	Replies        []domain.Turn       `json:"replies"`
	Slots          domain.SlotState    `json:"slots"`
	State          string              `json:"state"`
	Action         dialogue.Action     `json:"action"`
	Appointment    *domain.Appointment `json:"appointment,omitempty"`
	Booking        *domain.Appointment `json:"booking,omitempty"`
	Duration       time.Duration       `json:"duration"`
}

// ReplyFunc receives each assistant reply as soon as it is produced.
type ReplyFunc func(turn domain.Turn)

// Runner processes user turns: it guards input, persists the transcript,
// drives the dialogue machine, and renders speech.
type Runner struct {
	cfg     RunnerConfig
	machine *dialogue.Machine
	ledger  ledger.Ledger
	convs   ConversationStore
	states  *StateStore
	locks   *convLocks
	speaker *speech.Speaker
	hooks   *hooks.Manager
	metrics *observe.Metrics
	log     *logging.Logger
}

// NewRunner creates a turn runner.
func NewRunner(cfg RunnerConfig, deps Deps, log *logging.Logger) *Runner {
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = 500
	}
	if deps.Hooks == nil {
		deps.Hooks = hooks.NewManager(log)
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.Noop()
	}
	return &Runner{
		cfg:     cfg,
		machine: dialogue.NewMachine(deps.Ledger, deps.Extractor, log),
		ledger:  deps.Ledger,
		convs:   deps.Conversations,
		states:  NewStateStore(),
		locks:   newConvLocks(),
		speaker: deps.Speaker,
		hooks:   deps.Hooks,
		metrics: deps.Metrics,
		log:     log.Sub("runner"),
	}
}

// Start opens a conversation. An empty id allocates a new one; a known id
// resumes it with its transcript and any booked appointment.
func (r *Runner) Start(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		id = domain.NewConversationID()
	}
	unlock := r.locks.lock(id)
	defer unlock()

	conv, created, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	booking, err := r.latestBooked(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Session{
		ConversationID: id,
		Created:        created,
		Turns:          append([]domain.Turn(nil), conv.History...),
		Slots:          conv.Slots,
		State:          conv.State.Name(),
		Booking:        booking,
	}, nil
}

// Reset drops the local state of id and allocates a fresh conversation.
// The old transcript and appointments stay in the stores.
func (r *Runner) Reset(ctx context.Context, id string) (string, error) {
	if id != "" {
		unlock := r.locks.lock(id)
		r.states.Delete(id)
		unlock()
	}

	newID := domain.NewConversationID()
	unlock := r.locks.lock(newID)
	defer unlock()
	if _, _, err := r.load(ctx, newID); err != nil {
		return "", err
	}

	r.hooks.EmitAsync(context.WithoutCancel(ctx), hooks.EventConversationReset, map[string]any{
		"previousConversationId": id,
		"conversationId":         newID,
	})
	r.log.Info().Str("previous", id).Str("conversationId", newID).Msg("conversation reset")
	return newID, nil
}

// Loaded returns the number of conversations with live state in this
// process.
func (r *Runner) Loaded() int {
	return r.states.Len()
}

// History returns the persisted transcript.
func (r *Runner) History(ctx context.Context, id string) ([]domain.Turn, error) {
	turns, err := r.convs.Turns(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading transcript: %w", err)
	}
	return turns, nil
}

// Appointments returns the booked appointment, if any, and the audit
// history of the conversation.
func (r *Runner) Appointments(ctx context.Context, id string) (*domain.Appointment, []domain.Appointment, error) {
	booking, err := r.latestBooked(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	all, err := r.ledger.List(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("listing appointments: %w", err)
	}
	return booking, all, nil
}

// HandleTurn applies one user message to the conversation. Turns of the
// same conversation run one at a time in arrival order.
func (r *Runner) HandleTurn(ctx context.Context, id, text string, onReply ReplyFunc) (*TurnResult, error) {
	start := time.Now()
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if id == "" {
		id = domain.NewConversationID()
	}

	unlock := r.locks.lock(id)
	defer unlock()

	conv, _, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}

	var warning string
	if runes := []rune(text); len(runes) > r.cfg.MaxInputChars {
		text = string(runes[:r.cfg.MaxInputChars])
		warning = fmt.Sprintf("Please keep messages under %d characters.", r.cfg.MaxInputChars)
		r.log.Warn().Str("conversationId", id).Int("chars", len(runes)).Msg("input truncated")
	}

	userTurn := domain.Turn{Role: domain.RoleUser, Content: text, CreatedAt: time.Now().UTC()}
	if err := r.convs.Append(ctx, id, userTurn); err != nil {
		return nil, fmt.Errorf("saving user turn: %w", err)
	}
	conv.History = append(conv.History, userTurn)
	r.hooks.EmitAsync(context.WithoutCancel(ctx), hooks.EventTurnReceived, map[string]any{
		"conversationId": id,
		"text":           text,
	})

	out := r.machine.Step(ctx, conv, text)

	reply := out.Reply
	if out.Err != nil {
		r.log.Error().Err(out.Err).Str("conversationId", id).Str("action", string(out.Action)).Msg("ledger write failed")
		if reply == "" {
			reply = NoticeBookingFailed
		} else {
			reply += "\n\n" + NoticeBookingFailed
		}
	}

	result := &TurnResult{
		ConversationID: id,
		Action:         out.Action,
		Appointment:    out.Appointment,
	}
	for _, content := range []string{warning, reply} {
		if content == "" {
			continue
		}
		result.Replies = append(result.Replies, r.emit(ctx, conv, content, onReply))
	}

	r.recordOutcome(ctx, id, out)

	result.Slots = conv.Slots
	result.State = conv.State.Name()
	if result.Booking, err = r.latestBooked(ctx, id); err != nil {
		r.log.Warn().Err(err).Str("conversationId", id).Msg("booking lookup failed")
	}
	result.Duration = time.Since(start)
	r.metrics.RecordTurn(ctx, string(out.Action), result.Duration)

	r.log.Info().
		Str("conversationId", id).
		Str("action", string(out.Action)).
		Str("state", result.State).
		Bool("complete", conv.Slots.Complete()).
		Dur("duration", result.Duration).
		Msg("turn processed")
	return result, nil
}

// emit renders, persists and delivers one assistant reply.
func (r *Runner) emit(ctx context.Context, conv *dialogue.Conversation, content string, onReply ReplyFunc) domain.Turn {
	turn := domain.Turn{Role: domain.RoleAssistant, Content: content, CreatedAt: time.Now().UTC()}

	if r.speaker.Enabled() {
		start := time.Now()
		turn.Audio = r.speaker.Speak(ctx, content)
		r.metrics.RecordSpeech(ctx, turn.Audio == nil, time.Since(start))
	}

	if err := r.convs.Append(ctx, conv.ID, turn); err != nil {
		r.log.Warn().Err(err).Str("conversationId", conv.ID).Msg("saving assistant turn failed")
	}
	stored := turn
	stored.Audio = nil
	conv.History = append(conv.History, stored)

	if onReply != nil {
		onReply(turn)
	}
	r.hooks.EmitAsync(context.WithoutCancel(ctx), hooks.EventReplySent, map[string]any{
		"conversationId": conv.ID,
		"text":           content,
	})
	return turn
}

func (r *Runner) recordOutcome(ctx context.Context, id string, out dialogue.Outcome) {
	var event, op string
	switch out.Action {
	case dialogue.ActionBooked:
		event, op = hooks.EventAppointmentBooked, "create"
	case dialogue.ActionRescheduled:
		event, op = hooks.EventAppointmentRescheduled, "reschedule"
	case dialogue.ActionCancelled:
		event, op = hooks.EventAppointmentCancelled, "cancel"
	}
	if out.Err != nil {
		if op == "" {
			op = "create"
		}
		r.metrics.RecordLedgerWrite(ctx, op, true)
		return
	}
	if op == "" || out.Appointment == nil {
		return
	}
	r.metrics.RecordLedgerWrite(ctx, op, false)

	a := out.Appointment
	r.hooks.EmitAsync(context.WithoutCancel(ctx), event, map[string]any{
		"conversationId": id,
		"appointmentId":  a.ID,
		"name":           a.Name,
		"date":           a.Date,
		"time":           a.Time,
	})
}

// load returns the live state of id, creating the conversation and
// rebuilding state from the stores when it is not in memory.
func (r *Runner) load(ctx context.Context, id string) (*dialogue.Conversation, bool, error) {
	if conv, ok := r.states.Get(id); ok {
		return conv, false, nil
	}

	created, err := r.convs.Ensure(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("opening conversation: %w", err)
	}
	conv := dialogue.NewConversation(id)
	if !created {
		if conv.History, err = r.convs.Turns(ctx, id); err != nil {
			return nil, false, fmt.Errorf("loading transcript: %w", err)
		}
		booking, err := r.latestBooked(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if booking != nil {
			conv.Slots = domain.SlotState{Name: booking.Name, Date: booking.Date, Time: booking.Time}
		}
	}
	r.states.Put(conv)

	if created {
		r.hooks.EmitAsync(context.WithoutCancel(ctx), hooks.EventConversationStart, map[string]any{
			"conversationId": id,
		})
		r.log.Info().Str("conversationId", id).Msg("conversation started")
	}
	return conv, created, nil
}

func (r *Runner) latestBooked(ctx context.Context, id string) (*domain.Appointment, error) {
	a, ok, err := r.ledger.LatestBooked(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reading booking: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &a, nil
}
