package process

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/dshills/vtlock/internal/logging"
)

// Supervisor launches children and keeps track of the ones not yet reaped,
// so that Shutdown can terminate whatever is left.
//
// Supervisor is safe for concurrent use.
type Supervisor struct {
	mu       sync.Mutex
	children map[int]*Child

	// closed indicates the supervisor has been shut down
	closed atomic.Bool

	log *logging.Logger
	ops sysOps
}

// SupervisorOption configures a Supervisor instance.
type SupervisorOption func(*Supervisor)

// WithLogger sets the logger used for launch and termination events.
func WithLogger(l *logging.Logger) SupervisorOption {
	return func(s *Supervisor) {
		s.log = l
	}
}

// NewSupervisor creates a new process supervisor.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		children: make(map[int]*Child),
		log:      logging.Discard(),
		ops:      defaultOps(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Launch starts the child described by d.
//
// On success the parent ends of any requested pipes are set on the returned
// Child. On failure every descriptor opened for the launch has been closed
// again and the error wraps ErrLaunch.
func (s *Supervisor) Launch(d Descriptor) (*Child, error) {
	if s.closed.Load() {
		return nil, ErrSupervisorShutdown
	}
	if err := d.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLaunch, err)
	}

	argv0, argv, env, err := d.command()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLaunch, d.name(), err)
	}

	var files launchFiles
	for i, r := range []Redirect{d.Stdin, d.Stdout, d.Stderr} {
		if err := files.setup(i, r); err != nil {
			files.rollback()
			return nil, fmt.Errorf("%w: %s: %w", ErrLaunch, d.name(), err)
		}
	}

	attr := &syscall.ProcAttr{
		Dir:   d.Dir,
		Env:   env,
		Files: files.child[:],
		Sys:   &syscall.SysProcAttr{Credential: credential()},
	}
	pid, err := s.ops.forkExec(argv0, argv, attr)
	if err != nil {
		files.rollback()
		s.log.Warn("launch %s failed: %v", d.name(), err)
		return nil, fmt.Errorf("%w: %s: %w", ErrLaunch, d.name(), err)
	}
	files.closeChildEnds()

	c := newChild(s, d.name(), pid)
	c.Stdin, c.Stdout, c.Stderr = files.parent[0], files.parent[1], files.parent[2]

	s.mu.Lock()
	s.children[pid] = c
	s.mu.Unlock()

	s.log.WithField("pid", pid).Debug("launched %s", d.name())
	return c, nil
}

func (s *Supervisor) ensureTerminated(c *Child) {
	if _, reaped := c.Status(); !reaped {
		s.log.WithField("pid", c.pid).Debug("terminating %s", c.Name)
	}
	ensureTerminated(c)
}

func (s *Supervisor) forget(c *Child) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.children[c.pid] == c {
		delete(s.children, c.pid)
	}
}

// List returns the children that have not been reaped, ordered by pid.
func (s *Supervisor) List() []*Child {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*Child, 0, len(s.children))
	for _, c := range s.children {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].pid < result[j].pid })
	return result
}

// Count returns the number of children that have not been reaped.
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.children)
}

// Shutdown terminates and reaps every remaining child and closes their
// pipes. Later launches fail with ErrSupervisorShutdown.
func (s *Supervisor) Shutdown() {
	if s.closed.Swap(true) {
		return
	}
	for _, c := range s.List() {
		c.Terminate()
		_ = c.Close()
	}
}

// IsShuttingDown returns true once Shutdown has been called.
func (s *Supervisor) IsShuttingDown() bool {
	return s.closed.Load()
}

func (d Descriptor) command() (argv0 string, argv []string, env []string, err error) {
	env = d.Env
	if env == nil {
		env = os.Environ()
	}
	if d.Entry != "" {
		argv = append([]string{d.Entry}, d.Args...)
		env = append(env[:len(env):len(env)], entryEnv+"="+d.Entry)
		return selfExe, argv, env, nil
	}
	argv0, err = exec.LookPath(d.Path)
	if err != nil {
		return "", nil, nil, err
	}
	argv = append([]string{d.Path}, d.Args...)
	return argv0, argv, env, nil
}

// launchFiles tracks the descriptors opened for one launch.
type launchFiles struct {
	child     [3]uintptr
	parent    [3]*os.File
	childEnds []*os.File
}

func (f *launchFiles) setup(stream int, r Redirect) error {
	switch r.kind {
	case redirectInherit:
		f.child[stream] = uintptr(stream)
	case redirectFD:
		f.child[stream] = uintptr(r.fd)
	case redirectDevNull:
		null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		if err != nil {
			return err
		}
		f.childEnds = append(f.childEnds, null)
		f.child[stream] = null.Fd()
	case redirectPipe:
		rd, wr, err := os.Pipe()
		if err != nil {
			return fmt.Errorf("create pipe: %w", err)
		}
		childEnd, parentEnd := wr, rd
		if stream == 0 {
			childEnd, parentEnd = rd, wr
		}
		f.childEnds = append(f.childEnds, childEnd)
		f.parent[stream] = parentEnd
		f.child[stream] = childEnd.Fd()
	default:
		return fmt.Errorf("unknown redirect for stream %d", stream)
	}
	return nil
}

func (f *launchFiles) closeChildEnds() {
	for _, file := range f.childEnds {
		_ = file.Close()
	}
	f.childEnds = nil
}

func (f *launchFiles) rollback() {
	f.closeChildEnds()
	for i, file := range f.parent {
		if file != nil {
			_ = file.Close()
			f.parent[i] = nil
		}
	}
}
