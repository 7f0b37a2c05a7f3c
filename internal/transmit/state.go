package transmit

import "time"

// State is the connection recovery state.
type State int

// Recovery states.
const (
	Disconnected State = iota
	Recovering
	FullyOK
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Recovering:
		return "recovering"
	case FullyOK:
		return "fully_ok"
	default:
		return "unknown"
	}
}

// recovery is the hysteresis guard against flapping connections.
type recovery struct {
	state           State
	recoveringSince time.Time
	delay           time.Duration
}

// observe feeds one connection reading taken at now. It reports whether
// this reading moved the state into FullyOK.
func (r *recovery) observe(ok bool, now time.Time) (entered bool) {
	if !ok {
		r.state = Disconnected
		return false
	}
	switch r.state {
	case Disconnected:
		r.state = Recovering
		r.recoveringSince = now
	case Recovering:
		if now.Sub(r.recoveringSince) >= r.delay {
			r.state = FullyOK
			return true
		}
	}
	return false
}
