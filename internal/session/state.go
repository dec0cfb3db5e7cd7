// Package session owns the lifecycle of one audio monitoring session.
//
// A [Controller] walks a participant through consent, opens the backend
// session, acquires the microphone and runs the extraction → classification →
// reporting pipeline until it is stopped:
//
//	Idle → ConsentPending → Declined
//	                      → Acquiring → Monitoring → Stopped
//	                                  → Stopped (capture failed)
//
// The live stream and the extraction task exist exactly while the state is
// Monitoring; both are installed and torn down under the controller's lock.
package session

import "errors"

// State is the lifecycle state of a [Controller].
type State int

const (
	StateIdle State = iota
	StateConsentPending
	StateDeclined
	StateAcquiring
	StateMonitoring
	StateStopped
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConsentPending:
		return "consent_pending"
	case StateDeclined:
		return "declined"
	case StateAcquiring:
		return "acquiring"
	case StateMonitoring:
		return "monitoring"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrInvalidState is returned when an operation is not allowed in the
// controller's current state.
var ErrInvalidState = errors.New("session: invalid state")

// ErrStoppedDuringAcquire is returned by [Controller.Accept] when a stop was
// requested while the microphone was being acquired.
var ErrStoppedDuringAcquire = errors.New("session: stopped during acquisition")
