package relay

// State is the relay lifecycle. The four terminal states are mutually
// exclusive: once any of them is reached no further transition is legal.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateCompleted
	StateTimedOut
	StateErrored
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed_out"
	case StateErrored:
		return "errored"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends the relay lifecycle.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateTimedOut, StateErrored, StateCancelled:
		return true
	}
	return false
}

// transition is the single place relay state changes. Legal moves are
// Starting->Running and {Starting,Running}->terminal. It returns false when
// the move is illegal, notably when a terminal state was already reached,
// which makes competing termination triggers idempotent.
func (r *Relay) transition(to State) bool {
	r.mx.Lock()
	defer r.mx.Unlock()

	if r.state.Terminal() {
		return false
	}
	switch {
	case r.state == StateStarting && to == StateRunning:
	case to.Terminal():
	default:
		return false
	}
	r.state = to
	return true
}

// State returns the current lifecycle state.
func (r *Relay) State() State {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.state
}
