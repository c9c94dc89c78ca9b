// Package consent models the one-time camera access prompt as a
// single-assignment signal shared by every stream reader.
package consent

import (
	"context"
	"fmt"
	"sync"
)

// Result is the answer delivered by the access prompt.
type Result int

const (
	// Pending means no answer has arrived yet.
	Pending Result = iota
	Granted
	DeniedBySystem
	DeniedByUser
	NotDeclaredByApp
	UserPromptRequired
)

func (r Result) String() string {
	switch r {
	case Pending:
		return "pending"
	case Granted:
		return "granted"
	case DeniedBySystem:
		return "denied_by_system"
	case DeniedByUser:
		return "denied_by_user"
	case NotDeclaredByApp:
		return "not_declared"
	case UserPromptRequired:
		return "prompt_required"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// MarshalText renders the result by name.
func (r Result) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Message is the human-readable explanation logged for a result.
func (r Result) Message() string {
	switch r {
	case Granted:
		return "access is granted"
	case DeniedByUser:
		return "access is denied by the user"
	case NotDeclaredByApp:
		return "capability is not declared in the app manifest"
	case UserPromptRequired:
		return "capability user prompt required"
	case Pending:
		return "access has not been decided"
	default:
		return "access is denied by the system"
	}
}

// Allowed reports whether streams may be opened.
func (r Result) Allowed() bool {
	return r == Granted
}

// Parse maps a config string to a Result.
func Parse(s string) (Result, error) {
	for r := Granted; r <= UserPromptRequired; r++ {
		if r.String() == s {
			return r, nil
		}
	}
	return Pending, fmt.Errorf("unknown consent result %q", s)
}

// Signal is resolved exactly once; every waiter observes the same Result.
type Signal struct {
	once   sync.Once
	done   chan struct{}
	result Result
}

// NewSignal returns an unresolved signal.
func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Resolve records the result and wakes all waiters. Only the first call has
// any effect; it reports whether this call was the one that resolved it.
// Resolving with Pending is treated as DeniedBySystem.
func (s *Signal) Resolve(r Result) bool {
	if r == Pending {
		r = DeniedBySystem
	}
	resolved := false
	s.once.Do(func() {
		s.result = r
		close(s.done)
		resolved = true
	})
	return resolved
}

// Wait blocks until the signal is resolved or ctx is done.
func (s *Signal) Wait(ctx context.Context) (Result, error) {
	select {
	case <-s.done:
		return s.result, nil
	case <-ctx.Done():
		return Pending, ctx.Err()
	}
}

// Done is closed once the signal is resolved.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Result returns the resolved result, or Pending.
func (s *Signal) Result() Result {
	select {
	case <-s.done:
		return s.result
	default:
		return Pending
	}
}
