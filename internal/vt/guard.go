package vt

import (
	"errors"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/dshills/vtlock/internal/logging"
	"github.com/dshills/vtlock/internal/process"
)

// Controller answers the kernel's console switch requests. *Console
// implements it.
type Controller interface {
	ReleaseDisplay(arg int) error
}

// Guard errors.
var (
	ErrAlreadyAcquired = errors.New("guard already acquired")
	ErrReleased        = errors.New("guard already released")
)

// guardedSignals are the signals a Guard takes over while acquired.
var guardedSignals = []os.Signal{
	unix.SIGUSR1, // release request
	unix.SIGUSR2, // acquire notify
	unix.SIGCHLD,
	unix.SIGTSTP,
	unix.SIGTTIN,
	unix.SIGTTOU,
	unix.SIGHUP,
}

// Guard handles the signals that reach a locked console.
//
// Guard is safe for concurrent use.
type Guard struct {
	ctl     Controller
	log     *logging.Logger
	lockAll atomic.Bool

	mu       sync.Mutex
	acquired bool
	released bool
	ignored  map[os.Signal]bool
	sigs     chan os.Signal
	stop     chan struct{}
	done     chan struct{}

	watched *process.Child
	onExit  func(process.ExitStatus)

	releaseOnce sync.Once
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the logger for handler faults.
func WithLogger(l *logging.Logger) Option {
	return func(g *Guard) {
		g.log = l
	}
}

// WithLockAll sets the initial lock-all setting.
func WithLockAll(all bool) Option {
	return func(g *Guard) {
		g.lockAll.Store(all)
	}
}

// NewGuard returns an unacquired guard answering switch requests through ctl.
func NewGuard(ctl Controller, opts ...Option) *Guard {
	g := &Guard{
		ctl: ctl,
		log: logging.Discard(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetLockAll changes whether release requests are refused. It takes effect
// on the next request.
func (g *Guard) SetLockAll(all bool) {
	g.lockAll.Store(all)
}

// LockAll reports the current lock-all setting.
func (g *Guard) LockAll() bool {
	return g.lockAll.Load()
}

// Acquire records the current disposition of the guarded signals and starts
// handling them. A guard can be acquired once.
func (g *Guard) Acquire() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case g.released:
		return ErrReleased
	case g.acquired:
		return ErrAlreadyAcquired
	}

	g.ignored = make(map[os.Signal]bool, len(guardedSignals))
	for _, sig := range guardedSignals {
		g.ignored[sig] = signal.Ignored(sig)
	}

	g.sigs = make(chan os.Signal, 16)
	g.stop = make(chan struct{})
	g.done = make(chan struct{})
	signal.Notify(g.sigs, guardedSignals...)
	g.acquired = true

	go g.loop(g.sigs, g.stop, g.done)
	return nil
}

// Release stops handling and restores the dispositions recorded by Acquire.
// Only the first call does anything.
func (g *Guard) Release() {
	g.releaseOnce.Do(func() {
		g.mu.Lock()
		g.released = true
		acquired := g.acquired
		g.watched, g.onExit = nil, nil
		g.mu.Unlock()
		if !acquired {
			return
		}

		signal.Stop(g.sigs)
		close(g.stop)
		<-g.done

		for _, sig := range guardedSignals {
			// SIG_IGN on SIGCHLD makes the kernel reap children itself.
			if g.ignored[sig] && sig != unix.SIGCHLD {
				signal.Ignore(sig)
			}
		}
	})
}

// WatchChild arms child-exit handling for c. When c is seen to have exited
// the watch disarms itself and onExit runs on its own goroutine with the
// exit status. Arming replaces any previous watch. Without a watch SIGCHLD
// is dropped.
func (g *Guard) WatchChild(c *process.Child, onExit func(process.ExitStatus)) {
	g.mu.Lock()
	g.watched, g.onExit = c, onExit
	g.mu.Unlock()

	// The child may have exited before the watch was armed.
	g.checkChild()
}

// Unwatch disarms child-exit handling.
func (g *Guard) Unwatch() {
	g.mu.Lock()
	g.watched, g.onExit = nil, nil
	g.mu.Unlock()
}

func (g *Guard) loop(sigs <-chan os.Signal, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case sig := <-sigs:
			g.handle(sig)
		case <-stop:
			return
		}
	}
}

func (g *Guard) handle(sig os.Signal) {
	switch sig {
	case unix.SIGUSR1:
		arg := AllowSwitch
		if g.lockAll.Load() {
			arg = DisallowSwitch
		}
		g.releaseDisplay(arg)
	case unix.SIGUSR2:
		g.releaseDisplay(AckAcquire)
	case unix.SIGCHLD:
		g.checkChild()
	default:
		// Job control and hangup must not stop or end the lock.
		g.log.Debug("ignored %v", sig)
	}
}

func (g *Guard) releaseDisplay(arg int) {
	if g.ctl == nil {
		return
	}
	if err := g.ctl.ReleaseDisplay(arg); err != nil {
		g.log.Debug("release display %d: %v", arg, err)
	}
}

func (g *Guard) checkChild() {
	g.mu.Lock()
	c := g.watched
	g.mu.Unlock()
	if c == nil {
		return
	}

	status, reaped := c.TryReap()
	if !reaped {
		return
	}

	g.mu.Lock()
	var fn func(process.ExitStatus)
	if g.watched == c {
		fn = g.onExit
		g.watched, g.onExit = nil, nil
	}
	g.mu.Unlock()

	if fn != nil {
		go fn(status)
	}
}
