// Package domain holds the booking vocabulary shared by every layer:
// conversations and their turns, the slot triple and appointments.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a role the store accepts.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is one message exchanged in a conversation. Audio is only ever set
// on assistant turns and is never persisted.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Audio     []byte    `json:"audio,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewConversationID allocates a fresh opaque conversation token.
func NewConversationID() string {
	return uuid.NewString()
}
