package supervisor

import "fmt"

// State is mutated only by Supervisor goroutine.
type State int32

const (
	Uninitialized State = iota
	AwaitingRegistration
	RegistrationFailed // terminal
	Registered
	EstablishingSession
	SessionFailed // recoverable, next is EstablishingSession after retry sleep
	SessionActive
	Degraded // recoverable, session alive but replies missing
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case AwaitingRegistration:
		return "awaiting-registration"
	case RegistrationFailed:
		return "registration-failed"
	case Registered:
		return "registered"
	case EstablishingSession:
		return "establishing-session"
	case SessionFailed:
		return "session-failed"
	case SessionActive:
		return "session-active"
	case Degraded:
		return "degraded"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// StateFunc is called synchronously on every transition, must not block.
type StateFunc func(old, new State)
