package extract

// State is the lifecycle position of a partition.
type State int

const (
	StateInit State = iota
	StateOpening
	StateReading
	StateWaiting
	StateDone
	StateFailed
	// StateCancelled marks a partition abandoned by job cancellation.
	StateCancelled
)

var stateNames = [...]string{
	StateInit:      "INIT",
	StateOpening:   "OPENING",
	StateReading:   "READING",
	StateWaiting:   "WAITING",
	StateDone:      "DONE",
	StateFailed:    "FAILED",
	StateCancelled: "CANCELLED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}
