package chat

// State is a step of a chat request.
type State string

const (
	StateReceived      State = "RECEIVED"
	StateValidated     State = "VALIDATED"
	StatePromptBuilt   State = "PROMPT_BUILT"
	StateCacheResolved State = "CACHE_RESOLVED"
	StateInferred      State = "INFERRED"
	StatePersisted     State = "PERSISTED"
	StateResponded     State = "RESPONDED"
	StateErrored       State = "ERRORED"
)

// StateObserver is told about every transition of every request. It runs
// synchronously on the request path and must not block.
type StateObserver func(requestID string, from, to State)

// next lists the legal transitions. ERRORED is reachable from every
// non-terminal state.
var next = map[State]State{
	StateReceived:      StateValidated,
	StateValidated:     StatePromptBuilt,
	StatePromptBuilt:   StateCacheResolved,
	StateCacheResolved: StateInferred,
	StateInferred:      StatePersisted,
	StatePersisted:     StateResponded,
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateResponded || s == StateErrored
}

// CanTransition reports whether to may follow s.
func (s State) CanTransition(to State) bool {
	if s.Terminal() {
		return false
	}
	return to == StateErrored || next[s] == to
}
