package changefeed

// State is the lifecycle state of a Watcher.
type State int32

const (
	// StateStopped means no feed is open. A watcher that exhausted its retry
	// budget also ends here.
	StateStopped State = iota
	// StateStarting means the feed is being opened.
	StateStarting
	// StateWatching means the feed is open and events are dispatched.
	StateWatching
	// StateRecovering means the feed failed and is being reopened.
	StateRecovering
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateWatching:
		return "watching"
	case StateRecovering:
		return "recovering"
	default:
		return "unknown"
	}
}

// Transition records a state change.
type Transition struct {
	From State
	To   State
}
