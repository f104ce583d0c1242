package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/soyeahso/callpilot/internal/domain"
)

// ConversationStore persists conversations and their transcripts.
type ConversationStore interface {
	// Ensure creates the conversation if it does not exist and reports
	// whether it was created.
	Ensure(ctx context.Context, id string) (bool, error)

	// Append stores one turn. Audio is never persisted.
	Append(ctx context.Context, id string, turn domain.Turn) error

	// Turns returns the transcript in creation order.
	Turns(ctx context.Context, id string) ([]domain.Turn, error)
}

// MemoryConversationStore is an in-memory ConversationStore.
type MemoryConversationStore struct {
	mu    sync.RWMutex
	turns map[string][]domain.Turn // conversation id → transcript
}

// NewMemoryConversationStore creates an in-memory conversation store.
func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{turns: make(map[string][]domain.Turn)}
}

func (s *MemoryConversationStore) Ensure(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.turns[id]; ok {
		return false, nil
	}
	s.turns[id] = nil
	return true, nil
}

func (s *MemoryConversationStore) Append(_ context.Context, id string, turn domain.Turn) error {
	if !turn.Role.Valid() {
		return fmt.Errorf("invalid role %q", turn.Role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.turns[id]; !ok {
		return fmt.Errorf("conversation %q not found", id)
	}
	turn.Audio = nil
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	s.turns[id] = append(s.turns[id], turn)
	return nil
}

func (s *MemoryConversationStore) Turns(_ context.Context, id string) ([]domain.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Turn(nil), s.turns[id]...), nil
}
