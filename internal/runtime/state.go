package runtime

// State is a step of one execution.
type State string

const (
	StateIdle          State = "idle"
	StateBooting       State = "booting"
	StateMounting      State = "mounting"
	StateInstalling    State = "installing"
	StateStarting      State = "starting"
	StateAwaitingReady State = "awaiting_ready"
	StateReady         State = "ready"
	StateTimeout       State = "timeout"
	StateFailed        State = "failed"
)

// Terminal reports whether an execution ends in s.
func (s State) Terminal() bool {
	switch s {
	case StateReady, StateTimeout, StateFailed:
		return true
	}
	return false
}
