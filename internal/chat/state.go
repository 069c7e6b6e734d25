package chat

// State is a step of one chat request.
type State int32

const (
	StateValidating State = iota
	StateRetrieving
	StateHistoryLoading
	StateGenerating
	StatePersisting
	StateDone
	StateErrored
)

var stateNames = [...]string{
	StateValidating:     "validating",
	StateRetrieving:     "retrieving",
	StateHistoryLoading: "history_loading",
	StateGenerating:     "generating",
	StatePersisting:     "persisting",
	StateDone:           "done",
	StateErrored:        "errored",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateErrored
}
