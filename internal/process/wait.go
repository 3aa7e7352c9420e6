package process

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// TerminationGrace is how long EnsureTerminated waits after SIGTERM before
// sending SIGKILL.
const TerminationGrace = 500 * time.Millisecond

// reapPoll bounds how long a wait sleeps between WNOHANG probes when no
// SIGCHLD arrives.
const reapPoll = 50 * time.Millisecond

type reaper interface {
	id() int
	ops() sysOps
	poll() (WaitResult, bool)
	reap()
}

// pidReaper waits on a bare pid with no shared record.
type pidReaper struct {
	pid int
	sys sysOps
}

func (p pidReaper) id() int      { return p.pid }
func (p pidReaper) ops() sysOps { return p.sys }

func (p pidReaper) poll() (WaitResult, bool) {
	for {
		var ws unix.WaitStatus
		pid, err := p.sys.wait4(p.pid, &ws, unix.WNOHANG)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case err != nil:
			return WaitNoChild, true
		case pid == p.pid:
			return WaitExited, true
		default:
			return WaitTimedOut, false
		}
	}
}

func (p pidReaper) reap() {
	for {
		var ws unix.WaitStatus
		if _, err := p.sys.wait4(p.pid, &ws, 0); !errors.Is(err, unix.EINTR) {
			return
		}
	}
}

// realTimer is held by the wait that currently owns ITIMER_REAL.
var realTimer sync.Mutex

// WaitWithTimeout waits up to timeout for the child pid to exit and reaps it.
//
// The deadline is driven by ITIMER_REAL and SIGALRM. The previous timer is
// put back and the SIGALRM subscription dropped before returning. The
// previous timer does not advance while suspended, and a SIGALRM it raises
// between arming and returning is taken as this wait's timeout. Callers that
// run their own ITIMER_REAL must not rely on it across this call.
//
// Only one wait at a time owns the interval timer. A wait that starts while
// another one holds it is bounded by a runtime timer instead.
func WaitWithTimeout(pid int, timeout time.Duration) (WaitResult, error) {
	return waitWithTimeout(pidReaper{pid: pid, sys: defaultOps()}, timeout)
}

func waitWithTimeout(r reaper, timeout time.Duration) (WaitResult, error) {
	if res, done := r.poll(); done {
		return res, nil
	}

	chld := make(chan os.Signal, 1)
	signal.Notify(chld, unix.SIGCHLD)
	defer signal.Stop(chld)

	// Exactly one of alarm and expired is set.
	var alarm chan os.Signal
	var expired <-chan time.Time
	if realTimer.TryLock() {
		defer realTimer.Unlock()
		alarm = make(chan os.Signal, 1)
		signal.Notify(alarm, unix.SIGALRM)
		defer signal.Stop(alarm)

		prev, err := armRealTimer(timeout)
		if err != nil {
			return WaitTimedOut, fmt.Errorf("arm timer: %w", err)
		}
		defer restoreRealTimer(prev)
	} else {
		t := time.NewTimer(max(timeout, 0))
		defer t.Stop()
		expired = t.C
	}

	ticker := time.NewTicker(reapPoll)
	defer ticker.Stop()

	for {
		if res, done := r.poll(); done {
			return res, nil
		}
		select {
		case <-alarm:
		case <-expired:
		case <-chld:
			continue
		case <-ticker.C:
			continue
		}
		if res, done := r.poll(); done {
			return res, nil
		}
		return WaitTimedOut, nil
	}
}

// EnsureTerminated makes sure pid is no longer running and has been reaped.
//
// A child that already exited is reaped without being signalled. Otherwise
// it gets SIGTERM and TerminationGrace to exit, then SIGKILL and SIGCONT,
// and is reaped with a blocking wait.
func EnsureTerminated(pid int) {
	ensureTerminated(pidReaper{pid: pid, sys: defaultOps()})
}

func ensureTerminated(r reaper) {
	if _, done := r.poll(); done {
		return
	}

	_ = r.ops().kill(r.id(), unix.SIGTERM)
	if res, err := waitWithTimeout(r, TerminationGrace); err == nil && res != WaitTimedOut {
		return
	}

	_ = r.ops().kill(r.id(), unix.SIGKILL)
	// A stopped child only dies once it runs again.
	_ = r.ops().kill(r.id(), unix.SIGCONT)
	r.reap()
}
