package process

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Sentinel errors.
var (
	// ErrLaunch wraps every failure to start a child.
	ErrLaunch = errors.New("launch failed")

	// ErrUnknownEntry is returned when a descriptor names an entry that was
	// never registered.
	ErrUnknownEntry = errors.New("unknown entry")

	// ErrSupervisorShutdown is returned when launching on a supervisor that
	// has been shut down.
	ErrSupervisorShutdown = errors.New("supervisor is shutting down")
)

// ExitLaunchFailure is the exit code of a re-executed child that could not
// find its entry function.
const ExitLaunchFailure = 127

// WaitResult is the outcome of WaitWithTimeout.
type WaitResult int

const (
	// WaitExited means the child exited and has been reaped.
	WaitExited WaitResult = iota
	// WaitTimedOut means the deadline passed with the child still running.
	WaitTimedOut
	// WaitNoChild means there is no such child to wait for, usually because
	// something else reaped it already.
	WaitNoChild
)

func (r WaitResult) String() string {
	switch r {
	case WaitExited:
		return "exited"
	case WaitTimedOut:
		return "timed out"
	case WaitNoChild:
		return "no child"
	default:
		return fmt.Sprintf("WaitResult(%d)", int(r))
	}
}

// ExitStatus is the decoded wait status of a reaped child.
type ExitStatus struct {
	ws unix.WaitStatus
}

// Exited reports whether the child exited normally.
func (s ExitStatus) Exited() bool { return s.ws.Exited() }

// Signaled reports whether the child was killed by a signal.
func (s ExitStatus) Signaled() bool { return s.ws.Signaled() }

// Signal returns the terminating signal, if any.
func (s ExitStatus) Signal() unix.Signal { return s.ws.Signal() }

// Code returns the exit code. A child killed by a signal reports 128 plus
// the signal number, matching the shell convention.
func (s ExitStatus) Code() int {
	switch {
	case s.ws.Exited():
		return s.ws.ExitStatus()
	case s.ws.Signaled():
		return 128 + int(s.ws.Signal())
	default:
		return -1
	}
}

// Success reports whether the child exited with status zero.
func (s ExitStatus) Success() bool {
	return s.ws.Exited() && s.ws.ExitStatus() == 0
}

func (s ExitStatus) String() string {
	switch {
	case s.ws.Exited():
		return fmt.Sprintf("exit status %d", s.ws.ExitStatus())
	case s.ws.Signaled():
		return fmt.Sprintf("signal: %v", s.ws.Signal())
	default:
		return fmt.Sprintf("wait status %#x", uint32(s.ws))
	}
}
