package conversation

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrStaleWindow is returned by Commit when the store changed after the
// window was computed.
var ErrStaleWindow = errors.New("conversation: window is stale")

// Option configures a Store.
type Option func(*Store)

// WithMaxTurns caps the history length. Zero means unbounded.
func WithMaxTurns(n int) Option {
	return func(s *Store) { s.maxTurns = n }
}

// WithClock sets the time source for Turn.CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is the ordered turn history. It is safe for concurrent use, but
// TruncateToBudget and Commit are meant to run inside the caller's
// critical section so the window cannot go stale.
type Store struct {
	mu       sync.RWMutex
	turns    []Turn
	nextSeq  uint64
	version  uint64
	maxTurns int
	now      func() time.Time
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{nextSeq: 1, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append stores one turn and returns it with its sequence number.
func (s *Store) Append(role Role, content string) Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.appendLocked(Message{Role: role, Content: content})
	s.enforceCapLocked()
	s.version++
	return t
}

// Snapshot returns a copy of the history, oldest first.
func (s *Store) Snapshot() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the number of stored turns.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Commit applies a window and appends msgs in one step: the turns the
// window dropped are removed, then msgs are stored in order. It fails with
// ErrStaleWindow if anything else changed the store since the window was
// computed, in which case nothing is modified.
func (s *Store) Commit(w Window, msgs ...Message) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w.version != s.version {
		return nil, ErrStaleWindow
	}
	if w.Dropped < 0 || w.Dropped > len(s.turns) {
		return nil, fmt.Errorf("conversation: window drops %d of %d turns", w.Dropped, len(s.turns))
	}

	s.turns = append(s.turns[:0:0], s.turns[w.Dropped:]...)
	stored := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		stored = append(stored, s.appendLocked(m))
	}
	s.enforceCapLocked()
	s.version++
	return stored, nil
}

func (s *Store) appendLocked(m Message) Turn {
	t := Turn{Seq: s.nextSeq, Role: m.Role, Content: m.Content, CreatedAt: s.now()}
	s.nextSeq++
	s.turns = append(s.turns, t)
	return t
}

// enforceCapLocked drops the oldest turns beyond maxTurns, plus a leading
// assistant turn whose user turn was dropped.
func (s *Store) enforceCapLocked() {
	if s.maxTurns <= 0 || len(s.turns) <= s.maxTurns {
		return
	}
	drop := len(s.turns) - s.maxTurns
	for drop < len(s.turns) && s.turns[drop].Role == RoleAssistant {
		drop++
	}
	s.turns = append(s.turns[:0:0], s.turns[drop:]...)
}
