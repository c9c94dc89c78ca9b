// Package health tracks the lifecycle state of long-running pipeline goroutines
// so the render loop or a supervisor can tell a stalled camera from an idle one.
package health

import (
	"fmt"
	"sync"
	"time"
)

// State is the coarse lifecycle state of a component.
type State int

const (
	// Starting means the goroutine exists but has not reached its main loop.
	Starting State = iota
	// WaitingForConsent means the component is blocked on the access prompt.
	WaitingForConsent
	// Running means the main loop is active.
	Running
	// Denied means access was refused; terminal, not an error.
	Denied
	// Stopped means the component shut down on request.
	Stopped
	// Failed means the main loop exited on an error; terminal.
	Failed
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case WaitingForConsent:
		return "waiting_for_consent"
	case Running:
		return "running"
	case Denied:
		return "denied"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state by name for JSON status payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether the state can no longer change.
func (s State) Terminal() bool {
	return s == Denied || s == Stopped || s == Failed
}

// Status is a point-in-time snapshot.
type Status struct {
	State  State     `json:"state"`
	Reason string    `json:"reason,omitempty"`
	Since  time.Time `json:"since"`
}

func (s Status) String() string {
	if s.Reason == "" {
		return s.State.String()
	}
	return s.State.String() + ": " + s.Reason
}

// Tracker holds the current status of one component.
// Once a terminal state is recorded later transitions are ignored.
type Tracker struct {
	mu     sync.RWMutex
	status Status
}

// NewTracker returns a tracker in the Starting state.
func NewTracker() *Tracker {
	return &Tracker{status: Status{State: Starting, Since: time.Now()}}
}

// Set records a transition. Returns false if the tracker was already terminal.
func (t *Tracker) Set(state State, reason string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.State.Terminal() {
		return false
	}
	t.status = Status{State: state, Reason: reason, Since: time.Now()}
	return true
}

// Fail records a Failed state with err as the reason.
func (t *Tracker) Fail(err error) bool {
	return t.Set(Failed, err.Error())
}

// Status returns the current snapshot.
func (t *Tracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}
