package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/soyeahso/callpilot/internal/domain"
)

// Memory is a process-local Ledger. Safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	nextID int64
	byConv map[string][]*domain.Appointment
	now    func() time.Time
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		byConv: make(map[string][]*domain.Appointment),
		now:    time.Now,
	}
}

func (m *Memory) Create(_ context.Context, b domain.NewBooking) (domain.Appointment, error) {
	if err := b.Validate(); err != nil {
		return domain.Appointment{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.booked(b.ConversationID) != nil {
		return domain.Appointment{}, ErrConflict
	}

	m.nextID++
	a := &domain.Appointment{
		ID:             m.nextID,
		ConversationID: b.ConversationID,
		Name:           b.Name,
		Date:           b.Date,
		Time:           b.Time,
		Status:         domain.StatusBooked,
		CreatedAt:      m.now().UTC(),
	}
	m.byConv[b.ConversationID] = append(m.byConv[b.ConversationID], a)
	return *a, nil
}

func (m *Memory) LatestBooked(_ context.Context, conversationID string) (domain.Appointment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a := m.booked(conversationID); a != nil {
		return *a, true, nil
	}
	return domain.Appointment{}, false, nil
}

func (m *Memory) Reschedule(_ context.Context, conversationID, date, tm string) (domain.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.booked(conversationID)
	if a == nil {
		return domain.Appointment{}, ErrNotFound
	}
	a.Date = date
	a.Time = tm
	return *a, nil
}

func (m *Memory) Cancel(_ context.Context, conversationID string) (domain.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.booked(conversationID)
	if a == nil {
		return domain.Appointment{}, ErrNotFound
	}
	snapshot := *a
	at := m.now().UTC()
	a.Status = domain.StatusCancelled
	a.CancelledAt = &at
	return snapshot, nil
}

func (m *Memory) List(_ context.Context, conversationID string) ([]domain.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := m.byConv[conversationID]
	out := make([]domain.Appointment, 0, len(recs))
	for _, a := range recs {
		cp := *a
		if a.CancelledAt != nil {
			at := *a.CancelledAt
			cp.CancelledAt = &at
		}
		out = append(out, cp)
	}
	return out, nil
}

// booked returns the latest booked record. Callers hold mu.
func (m *Memory) booked(conversationID string) *domain.Appointment {
	recs := m.byConv[conversationID]
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].Booked() {
			return recs[i]
		}
	}
	return nil
}
