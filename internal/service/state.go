package service

// State is the lifecycle state of the runner process. There is exactly one
// per session, owned by the Manager; it changes only through explicit
// commands or an observed process exit.
type State int

const (
	StateNotStarted State = iota
	StateStarting
	StateReady
	StateModelLoading
	StateModelLoaded
	StateTranscribing
	StateError
	StateStopped
)

var stateNames = map[State]string{
	StateNotStarted:   "not_started",
	StateStarting:     "starting",
	StateReady:        "ready",
	StateModelLoading: "model_loading",
	StateModelLoaded:  "model_loaded",
	StateTranscribing: "transcribing",
	StateError:        "error",
	StateStopped:      "stopped",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}
