package session

import (
	"sync"
	"time"
)

// Role of a chat participant.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one chat message. Turns are never edited once appended.
type Turn struct {
	Role    Role
	Content string
	At      time.Time
}

// Transcript is an append-only ordered list of turns.
type Transcript struct {
	mu    sync.RWMutex
	turns []Turn
	clock func() time.Time
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{clock: time.Now}
}

// Append adds a turn at the end and returns it with its timestamp set.
func (t *Transcript) Append(role Role, content string) Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	turn := Turn{Role: role, Content: content, At: t.clock()}
	t.turns = append(t.turns, turn)
	return turn
}

// Turns returns a copy of every turn in order.
func (t *Transcript) Turns() []Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Len returns the number of turns.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns)
}
