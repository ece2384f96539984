package auth

// State is where a profile stands in the sign-in lifecycle.
type State int

const (
	StateSignedOut State = iota
	StateFlowStarted
	StateAwaitingCallback
	StateSignedIn
)

func (s State) String() string {
	switch s {
	case StateSignedOut:
		return "signed_out"
	case StateFlowStarted:
		return "flow_started"
	case StateAwaitingCallback:
		return "awaiting_callback"
	case StateSignedIn:
		return "signed_in"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
