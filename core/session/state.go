package session

// State is the lifecycle state of the agent session as seen by the
// dispatcher, which is the only component that changes it.
type State int

const (
	StateStarting State = iota
	StateReady
	StateBusy
	StateDegraded
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateDegraded:
		return "degraded"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// AcceptsDelivery reports whether directives may be written to the session.
func (s State) AcceptsDelivery() bool {
	return s == StateReady || s == StateBusy
}
