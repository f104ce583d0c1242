package dialogue

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/callpilot/internal/domain"
	"github.com/soyeahso/callpilot/internal/ledger"
	"github.com/soyeahso/callpilot/internal/logging"
)

func str(s string) *string { return &s }

// scriptedExtractor answers each call with the next queued result.
type scriptedExtractor struct {
	results []ExtractResult
	calls   []string
}

func (s *scriptedExtractor) Extract(_ context.Context, text string, _ []domain.Turn, _ domain.SlotState) ExtractResult {
	s.calls = append(s.calls, text)
	if len(s.results) == 0 {
		return ExtractResult{Reply: "ok"}
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r
}

func (s *scriptedExtractor) push(reply string, e domain.Extraction) {
	s.results = append(s.results, ExtractResult{Reply: reply, Slots: e})
}

// failingLedger wraps a ledger and fails selected writes.
type failingLedger struct {
	ledger.Ledger
	createErr error
	cancelErr error
}

func (f *failingLedger) Create(ctx context.Context, b domain.NewBooking) (domain.Appointment, error) {
	if f.createErr != nil {
		return domain.Appointment{}, f.createErr
	}
	return f.Ledger.Create(ctx, b)
}

func (f *failingLedger) Cancel(ctx context.Context, conv string) (domain.Appointment, error) {
	if f.cancelErr != nil {
		return domain.Appointment{}, f.cancelErr
	}
	return f.Ledger.Cancel(ctx, conv)
}

type fixture struct {
	ledger ledger.Ledger
	x      *scriptedExtractor
	m      *Machine
	conv   *Conversation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l := ledger.NewMemory()
	x := &scriptedExtractor{}
	return &fixture{
		ledger: l,
		x:      x,
		m:      NewMachine(l, x, logging.New(io.Discard, "silent")),
		conv:   NewConversation("conv-1"),
	}
}

func (f *fixture) step(text string) Outcome {
	return f.m.Step(context.Background(), f.conv, text)
}

func (f *fixture) booked(t *testing.T) []domain.Appointment {
	t.Helper()
	all, err := f.ledger.List(context.Background(), f.conv.ID)
	require.NoError(t, err)
	var out []domain.Appointment
	for _, a := range all {
		if a.Booked() {
			out = append(out, a)
		}
	}
	return out
}

// scenarioA books Alex for tomorrow at 3pm over three turns.
func (f *fixture) scenarioA(t *testing.T) {
	t.Helper()
	f.x.push("Nice to meet you, Alex. What day?", domain.Extraction{Name: str("Alex")})
	f.x.push("What time tomorrow?", domain.Extraction{Date: str("tomorrow")})
	f.x.push("You're all set.", domain.Extraction{Time: str("3pm")})

	out := f.step("My name is Alex")
	assert.Equal(t, ActionReply, out.Action)
	out = f.step("book for tomorrow")
	assert.Equal(t, ActionReply, out.Action)
	out = f.step("3pm")
	require.NoError(t, out.Err)
	require.Equal(t, ActionBooked, out.Action)
	assert.Equal(t, "You're all set.", out.Reply)
	require.NotNil(t, out.Appointment)
}

func TestScenarioABooksOnce(t *testing.T) {
	f := newFixture(t)
	f.scenarioA(t)

	booked := f.booked(t)
	require.Len(t, booked, 1)
	assert.Equal(t, "Alex", booked[0].Name)
	assert.Equal(t, "tomorrow", booked[0].Date)
	assert.Equal(t, "3pm", booked[0].Time)
	assert.Equal(t, Idle{}, f.conv.State)
}

func TestScenarioBRescheduleAsksConfirmation(t *testing.T) {
	f := newFixture(t)
	f.scenarioA(t)

	f.x.push("Sure.", domain.Extraction{Date: str("Friday"), Time: str("5pm")})
	out := f.step("please reschedule to Friday 5pm")

	assert.Equal(t, ActionConfirmRequested, out.Action)
	assert.Contains(t, out.Reply, "reschedule your appointment to **Friday** at **5pm**")
	assert.Equal(t, AwaitingRescheduleConfirm{Date: "Friday", Time: "5pm"}, f.conv.State)

	booked := f.booked(t)
	require.Len(t, booked, 1)
	assert.Equal(t, "tomorrow", booked[0].Date, "ledger must not change before confirmation")
}

func TestScenarioCConfirmReschedules(t *testing.T) {
	f := newFixture(t)
	f.scenarioA(t)
	f.x.push("Sure.", domain.Extraction{Date: str("Friday"), Time: str("5pm")})
	f.step("please reschedule to Friday 5pm")

	calls := len(f.x.calls)
	out := f.step("yes")

	assert.Equal(t, ActionRescheduled, out.Action)
	assert.Equal(t, "Done, I rescheduled it to **Friday** at **5pm**.", out.Reply)
	assert.Equal(t, Idle{}, f.conv.State)
	assert.Len(t, f.x.calls, calls, "confirmation must not call the model")

	booked := f.booked(t)
	require.Len(t, booked, 1)
	assert.Equal(t, "Friday", booked[0].Date)
	assert.Equal(t, "5pm", booked[0].Time)
}

func TestScenarioDCancel(t *testing.T) {
	f := newFixture(t)
	f.scenarioA(t)

	calls := len(f.x.calls)
	out := f.step("cancel my appointment")

	assert.Equal(t, ActionCancelled, out.Action)
	assert.Equal(t, "Done, I cancelled your appointment on **tomorrow** at **3pm** under **Alex**.", out.Reply)
	require.NotNil(t, out.Appointment)
	assert.Equal(t, domain.StatusBooked, out.Appointment.Status, "snapshot is pre-cancellation")
	assert.Len(t, f.x.calls, calls)

	_, ok, err := f.ledger.LatestBooked(context.Background(), f.conv.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := f.ledger.List(context.Background(), f.conv.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, domain.StatusCancelled, all[0].Status)
	assert.NotNil(t, all[0].CancelledAt)
}

func TestScenarioECancelWithoutBooking(t *testing.T) {
	f := newFixture(t)
	out := f.step("cancel")

	assert.Equal(t, ActionCancelMissing, out.Action)
	assert.Equal(t, ReplyNothingToCancel, out.Reply)
	assert.NoError(t, out.Err)
	assert.Empty(t, f.x.calls)

	all, err := f.ledger.List(context.Background(), f.conv.ID)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCancelTakesPrecedenceOverReschedule(t *testing.T) {
	f := newFixture(t)
	f.scenarioA(t)

	out := f.step("actually cancel, don't reschedule")
	assert.Equal(t, ActionCancelled, out.Action)
	assert.True(t, out.Intents.Cancel)
	assert.True(t, out.Intents.Reschedule)
	assert.Equal(t, Idle{}, f.conv.State)
	assert.Empty(t, f.booked(t))
}

func TestCancelClearsPendingReschedule(t *testing.T) {
	f := newFixture(t)
	f.scenarioA(t)
	f.x.push("Sure.", domain.Extraction{Date: str("Friday"), Time: str("5pm")})
	f.step("move it to Friday 5pm")
	require.IsType(t, AwaitingRescheduleConfirm{}, f.conv.State)

	out := f.step("cancel it")
	assert.Equal(t, ActionCancelled, out.Action)
	assert.Equal(t, Idle{}, f.conv.State)

	out = f.step("yes")
	assert.NotEqual(t, ActionRescheduled, out.Action)
}

func TestCancelDoesNotRebookSameTurn(t *testing.T) {
	f := newFixture(t)
	f.scenarioA(t)

	f.step("cancel")
	assert.Empty(t, f.booked(t))

	out := f.step("cancel")
	assert.Equal(t, ActionCancelMissing, out.Action)
	assert.Empty(t, f.booked(t))
}

func TestRescheduleDeclined(t *testing.T) {
	f := newFixture(t)
	f.scenarioA(t)
	f.x.push("Sure.", domain.Extraction{Date: str("Friday"), Time: str("5pm")})
	f.step("reschedule to Friday 5pm")

	out := f.step("No")
	assert.Equal(t, ActionRescheduleDeclined, out.Action)
	assert.Equal(t, ReplyRescheduleDeclined, out.Reply)
	assert.Equal(t, Idle{}, f.conv.State)

	booked := f.booked(t)
	require.Len(t, booked, 1)
	assert.Equal(t, "tomorrow", booked[0].Date)
}

func TestRescheduleWithoutBooking(t *testing.T) {
	f := newFixture(t)
	f.x.push("Sure.", domain.Extraction{Name: str("Sam"), Date: str("Friday"), Time: str("5pm")})
	out := f.step("reschedule to Friday 5pm, I'm Sam")
	assert.Equal(t, ActionConfirmRequested, out.Action)
	assert.Empty(t, f.booked(t), "no booking while awaiting confirmation")

	out = f.step("yes")
	assert.Equal(t, ActionRescheduleMissing, out.Action)
	assert.Equal(t, ReplyNothingToReschedule, out.Reply)
	assert.Equal(t, Idle{}, f.conv.State)
	assert.Empty(t, f.booked(t))
}

func TestAffirmativeWithoutCandidateGoesToModel(t *testing.T) {
	f := newFixture(t)
	f.x.push("Yes to what?", domain.Extraction{})
	out := f.step("yes")
	assert.Equal(t, ActionReply, out.Action)
	assert.Equal(t, "Yes to what?", out.Reply)
	assert.Equal(t, []string{"yes"}, f.x.calls)
}

func TestRescheduleIntentWithoutDateTimeWaits(t *testing.T) {
	f := newFixture(t)
	f.x.push("Sure, when would you like?", domain.Extraction{})
	out := f.step("I need to reschedule")

	assert.Equal(t, ActionReply, out.Action)
	assert.Equal(t, AwaitingRescheduleConfirm{}, f.conv.State)

	// A bare "yes" without a captured candidate is not a confirmation.
	f.x.push("Which date and time?", domain.Extraction{})
	out = f.step("yes")
	assert.Equal(t, ActionReply, out.Action)
}

func TestIdempotentBookingTrigger(t *testing.T) {
	f := newFixture(t)
	f.scenarioA(t)

	for i := 0; i < 3; i++ {
		out := f.step("thanks")
		assert.Equal(t, ActionReply, out.Action)
	}
	assert.Len(t, f.booked(t), 1)
}

func TestMonotonicMergeAcrossTurns(t *testing.T) {
	f := newFixture(t)
	f.x.push("", domain.Extraction{Name: str("Alex")})
	f.x.push("", domain.Extraction{Name: str("  "), Date: nil})
	f.x.push("", domain.Extraction{Name: str("Alexandra")})

	f.step("a")
	assert.Equal(t, "Alex", f.conv.Slots.Name)
	f.step("b")
	assert.Equal(t, "Alex", f.conv.Slots.Name)
	f.step("c")
	assert.Equal(t, "Alexandra", f.conv.Slots.Name)
}

func TestRebookAfterCancel(t *testing.T) {
	f := newFixture(t)
	f.scenarioA(t)
	f.step("cancel")

	out := f.step("actually book it again")
	assert.Equal(t, ActionBooked, out.Action)
	assert.Len(t, f.booked(t), 1)
}

func TestBookingWriteFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	fl := &failingLedger{Ledger: f.ledger, createErr: errors.New("disk full")}
	f.m = NewMachine(fl, f.x, logging.New(io.Discard, "silent"))

	f.x.push("Booked!", domain.Extraction{Name: str("Alex"), Date: str("tomorrow"), Time: str("3pm")})
	out := f.step("Alex tomorrow 3pm")
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "disk full")
	assert.Equal(t, "Booked!", out.Reply)
	assert.Nil(t, out.Appointment)
}

func TestCancelWriteFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	f.scenarioA(t)
	fl := &failingLedger{Ledger: f.ledger, cancelErr: errors.New("locked")}
	f.m = NewMachine(fl, f.x, logging.New(io.Discard, "silent"))

	out := f.step("cancel")
	require.Error(t, out.Err)
	assert.Len(t, f.booked(t), 1)
}

func TestExtractFailedFlag(t *testing.T) {
	f := newFixture(t)
	f.x.results = append(f.x.results, ExtractResult{Reply: "Sorry, I hit an AI error. Please try again.", Failed: true})
	out := f.step("hello")
	assert.True(t, out.ExtractFailed)
	assert.Equal(t, ActionReply, out.Action)
}

func TestConversationReset(t *testing.T) {
	c := NewConversation("x")
	c.Slots = domain.SlotState{Name: "A"}
	c.State = AwaitingRescheduleConfirm{Date: "d", Time: "t"}
	c.Reset()
	assert.Equal(t, "x", c.ID)
	assert.Equal(t, domain.SlotState{}, c.Slots)
	assert.Equal(t, Idle{}, c.State)
}
