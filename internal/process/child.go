package process

import (
	"errors"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Child is a launched process together with its reap record.
//
// Every wait on a Child goes through the record, so whichever goroutine
// reaps first stores the status and every later observer sees it instead of
// ECHILD.
type Child struct {
	// Name is the path or entry name the child was launched from.
	Name string

	// Parent ends of the pipes requested in the Descriptor. Nil for streams
	// that were not redirected to a pipe.
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File

	pid       int
	startTime time.Time
	sup       *Supervisor

	mu     sync.Mutex
	reaped bool
	status ExitStatus
	done   chan struct{}
	finish sync.Once
}

func newChild(sup *Supervisor, name string, pid int) *Child {
	return &Child{
		Name:      name,
		pid:       pid,
		startTime: time.Now(),
		sup:       sup,
		done:      make(chan struct{}),
	}
}

// Pid returns the operating system process id.
func (c *Child) Pid() int { return c.pid }

// StartTime returns when the child was launched.
func (c *Child) StartTime() time.Time { return c.startTime }

// Done returns a channel that is closed once the child has been reaped, or
// once it turned out to have been reaped by someone else.
func (c *Child) Done() <-chan struct{} { return c.done }

// Status returns the exit status and whether the child has been reaped.
func (c *Child) Status() (ExitStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.reaped
}

// TryReap reaps the child if it has exited, without blocking. It returns the
// status and true once the child is reaped, by this call or an earlier one.
func (c *Child) TryReap() (ExitStatus, bool) {
	c.poll()
	return c.Status()
}

// Wait waits up to timeout for the child to exit.
func (c *Child) Wait(timeout time.Duration) (WaitResult, error) {
	return waitWithTimeout(c, timeout)
}

// Terminate makes sure the child is gone and reaped, escalating from
// SIGTERM to SIGKILL. It is safe to call on a child that already exited.
func (c *Child) Terminate() {
	c.sup.ensureTerminated(c)
}

// Close closes the parent ends of the child's pipes.
func (c *Child) Close() error {
	var errs []error
	for _, f := range []*os.File{c.Stdin, c.Stdout, c.Stderr} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Child) ops() sysOps { return c.sup.ops }

func (c *Child) id() int { return c.pid }

// poll must not block. It reports whether waiting is over.
func (c *Child) poll() (WaitResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reaped {
		return WaitExited, true
	}
	for {
		var ws unix.WaitStatus
		pid, err := c.ops().wait4(c.pid, &ws, unix.WNOHANG)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case err != nil:
			// Usually ECHILD: reaped outside this record.
			c.lost()
			return WaitNoChild, true
		case pid == c.pid:
			c.record(ws)
			return WaitExited, true
		default:
			return WaitTimedOut, false
		}
	}
}

func (c *Child) reap() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reaped {
		return
	}
	for {
		var ws unix.WaitStatus
		pid, err := c.ops().wait4(c.pid, &ws, 0)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err == nil && pid == c.pid {
			c.record(ws)
		} else {
			c.lost()
		}
		return
	}
}

// record must be called with c.mu held.
func (c *Child) record(ws unix.WaitStatus) {
	c.reaped = true
	c.status = ExitStatus{ws: ws}
	c.lost()
}

// lost ends tracking without a status.
func (c *Child) lost() {
	c.finish.Do(func() {
		close(c.done)
		c.sup.forget(c)
	})
}
