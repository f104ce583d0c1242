package agent

import (
	"sync"

	"github.com/soyeahso/callpilot/internal/dialogue"
)

// StateStore keeps the live dialogue state of each conversation in this
// process. The ledger stays the source of truth for bookings.
type StateStore struct {
	mu    sync.Mutex
	convs map[string]*dialogue.Conversation
}

// NewStateStore creates an empty StateStore.
func NewStateStore() *StateStore {
	return &StateStore{convs: make(map[string]*dialogue.Conversation)}
}

// Get returns the conversation state, if loaded.
func (s *StateStore) Get(id string) (*dialogue.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	return c, ok
}

// Put stores c under its id.
func (s *StateStore) Put(c *dialogue.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[c.ID] = c
}

// Delete forgets the conversation state.
func (s *StateStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, id)
}

// Len returns the number of loaded conversations.
func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convs)
}

// convLocks serialises work per conversation id. Entries are reference
// counted and dropped once nobody holds or waits on them.
type convLocks struct {
	mu    sync.Mutex
	locks map[string]*convLock
}

type convLock struct {
	mu   sync.Mutex
	refs int
}

func newConvLocks() *convLocks {
	return &convLocks{locks: make(map[string]*convLock)}
}

// lock blocks until id is free and returns the matching unlock.
func (l *convLocks) lock(id string) func() {
	l.mu.Lock()
	cl, ok := l.locks[id]
	if !ok {
		cl = &convLock{}
		l.locks[id] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.mu.Lock()
	return func() {
		cl.mu.Unlock()
		l.mu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (l *convLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
