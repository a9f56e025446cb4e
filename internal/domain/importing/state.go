package importing

import "fmt"

type State int

const (
	StateUnspecified State = iota
	StateInProgress
	StateComplete
	StateFailed
	StateCancelled
)

var stateNames = map[State]string{
	StateUnspecified: "unspecified",
	StateInProgress:  "in_progress",
	StateComplete:    "complete",
	StateFailed:      "failed",
	StateCancelled:   "cancelled",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed || s == StateCancelled
}

func ParseState(raw string) (State, error) {
	for state, name := range stateNames {
		if name == raw {
			return state, nil
		}
	}
	return StateUnspecified, fmt.Errorf("unknown import state %q", raw)
}
