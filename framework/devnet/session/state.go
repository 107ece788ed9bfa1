package session

// State is a step in a session's lifecycle. States only move forward; any
// failure before Ready goes straight to TearingDown.
type State int

const (
	NotStarted State = iota
	Spawning
	AwaitingReadiness
	Ready
	TearingDown
	Terminated
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Spawning:
		return "spawning"
	case AwaitingReadiness:
		return "awaiting-readiness"
	case Ready:
		return "ready"
	case TearingDown:
		return "tearing-down"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}
