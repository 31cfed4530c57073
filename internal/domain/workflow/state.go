package workflow

// State is a node in a state machine. Each machine declares its own set of
// valid states when the builder is created.
type State string

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// stateSet is the universe of states a builder accepts
type stateSet map[State]bool

func newStateSet(states []State) stateSet {
	set := make(stateSet, len(states))
	for _, s := range states {
		set[s] = true
	}
	return set
}

func (s stateSet) contains(state State) bool {
	return s[state]
}
