package conversation

import "github.com/google/uuid"

// Session is the process-wide conversation: a fixed instruction and the
// turns exchanged under it.
type Session struct {
	ID          string
	Instruction string
	Store       *Store
}

// NewSession starts a session with a fresh ID and an empty store.
func NewSession(instruction string, opts ...Option) *Session {
	return &Session{
		ID:          uuid.NewString(),
		Instruction: instruction,
		Store:       NewStore(opts...),
	}
}
