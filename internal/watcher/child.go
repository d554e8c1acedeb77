package watcher

import (
	"fmt"
	"syscall"

	"proglog/internal/sysmon"
)

// Child is the supervised process as the reactor sees it.
type Child interface {
	// ExitFD returns a descriptor that becomes readable when the process
	// terminates.
	ExitFD() int

	// Reap polls for termination without blocking. The bool is true once
	// the process has been reaped.
	Reap() (ExitStatus, bool, error)
}

// ExitStatus is how the child terminated.
type ExitStatus struct {
	Code     int
	Signaled bool
	Signal   syscall.Signal
}

// Err returns nil for a normal exit and a *ChildSignaledError otherwise.
func (s ExitStatus) Err() error {
	if s.Signaled {
		return &ChildSignaledError{Signal: s.Signal}
	}
	return nil
}

// ChildSignaledError reports a child killed by a signal.
type ChildSignaledError struct {
	Signal syscall.Signal
}

func (e *ChildSignaledError) Error() string {
	return fmt.Sprintf("terminated by signal %d (%s)", int(e.Signal), sysmon.SignalName(int(e.Signal)))
}
