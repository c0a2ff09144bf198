package runtime

import (
	"context"
	"fmt"
	"sync"
)

// Session is the orchestrator's state: one lazily booted instance and the
// process currently tracked as running.
//
// The mutex only protects the fields. It does not serialize executions: two
// overlapping Execute calls still preempt each other.
type Session struct {
	host Host

	mu       sync.Mutex
	instance Instance
	current  Process
}

func NewSession(host Host) *Session {
	return &Session{host: host}
}

// Boot returns the session's instance, booting it on first use.
func (s *Session) Boot(ctx context.Context) (Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.instance != nil {
		return s.instance, nil
	}
	inst, err := s.host.Boot(ctx)
	if err != nil {
		return nil, fmt.Errorf("booting runtime: %w", err)
	}
	s.instance = inst
	return inst, nil
}

// Booted reports whether an instance exists.
func (s *Session) Booted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instance != nil
}

func (s *Session) CurrentProcess() Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// ReplaceProcess tracks p as current and returns the process it displaced.
func (s *Session) ReplaceProcess(p Process) Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.current
	s.current = p
	return prev
}

// TakeProcess clears and returns the current process.
func (s *Session) TakeProcess() Process {
	return s.ReplaceProcess(nil)
}

// Teardown kills the current process and destroys the instance. Both fields
// are cleared even when a step fails; the first error is returned.
func (s *Session) Teardown(ctx context.Context) error {
	s.mu.Lock()
	proc, inst := s.current, s.instance
	s.current, s.instance = nil, nil
	s.mu.Unlock()

	var firstErr error
	if proc != nil {
		if err := proc.Kill(ctx); err != nil {
			firstErr = fmt.Errorf("killing process: %w", err)
		}
	}
	if inst != nil {
		if err := inst.Close(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing instance: %w", err)
		}
	}
	return firstErr
}
