package lock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/vtlock/internal/auth"
	"github.com/dshills/vtlock/internal/logging"
	"github.com/dshills/vtlock/internal/plugin"
	"github.com/dshills/vtlock/internal/process"
)

// ErrNoAuthenticator is returned when no loaded plugin can authenticate.
// Locking then would leave no way back.
var ErrNoAuthenticator = errors.New("no authentication plugin loaded")

// Watcher reacts to a helper process exiting while the session waits on
// it. *vt.Guard implements it.
type Watcher interface {
	WatchChild(c *process.Child, onExit func(process.ExitStatus))
	Unwatch()
}

// Options configure a Session.
type Options struct {
	// Manager owns the plugins. Required.
	Manager *plugin.Manager

	// Plugins are loaded in order.
	Plugins []string

	// User to authenticate.
	User string

	// Prompt is shown before each password prompt.
	Prompt string

	// AuthTimeout bounds each attempt. Zero means no deadline.
	AuthTimeout time.Duration

	// FailDelay is waited after a failed attempt.
	FailDelay time.Duration

	// Output receives the messages shown after failed attempts. Defaults
	// to os.Stderr.
	Output io.Writer

	// Watcher, if set, is armed for every authentication helper. A helper
	// that exits successfully then ends the session directly.
	Watcher Watcher

	// Exit ends the process from the watcher path. Defaults to os.Exit.
	Exit func(code int)

	Logger *logging.Logger
}

// Session is one lock of the console.
type Session struct {
	id   string
	opts Options
	mgr  *plugin.Manager
	log  *logging.Logger

	attempts int

	mu       sync.Mutex
	locked   bool
	soleAuth bool

	finishOnce sync.Once
	finishErr  error
}

// NewSession creates a session. Nothing happens until Run.
func NewSession(opts Options) *Session {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.Exit == nil {
		opts.Exit = os.Exit
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	id := uuid.NewString()
	return &Session{
		id:   id,
		opts: opts,
		mgr:  opts.Manager,
		log:  opts.Logger.WithField("session", id),
	}
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// Attempts returns the number of authentication attempts made so far.
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Locked reports whether the lock hook has run and the session has not
// finished.
func (s *Session) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

// Run locks and returns once the user has authenticated and the console is
// unlocked again. Errors before the lock hook completes leave nothing
// locked. Cancelling ctx only stops a session that has not locked yet; once
// locked, attempts continue until one succeeds.
func (s *Session) Run(ctx context.Context) error {
	if s.mgr == nil {
		return errors.New("lock session has no plugin manager")
	}

	err := s.prepare(ctx)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		if uerr := s.mgr.UnloadAll(ctx); uerr != nil {
			s.log.Warn("unload after failed start: %v", uerr)
		}
		return err
	}

	s.log.Info("locking, plugins %v", s.mgr.Order())
	if err := s.mgr.Lock(ctx); err != nil {
		// Plugins that did lock restore themselves on close.
		if uerr := s.mgr.UnloadAll(ctx); uerr != nil {
			s.log.Warn("unload after failed lock: %v", uerr)
		}
		return fmt.Errorf("lock: %w", err)
	}
	s.mu.Lock()
	s.locked = true
	s.mu.Unlock()

	// From here on only a successful attempt ends the session.
	ctx = context.WithoutCancel(ctx)
	s.authenticate(ctx)
	return s.finish(ctx)
}

func (s *Session) prepare(ctx context.Context) error {
	if err := s.mgr.LoadAll(ctx, s.opts.Plugins); err != nil {
		return err
	}
	if err := s.mgr.ResolveDependencies(); err != nil {
		return err
	}
	chain := s.mgr.HookPlugins(plugin.HookAuthenticate)
	if len(chain) == 0 {
		return ErrNoAuthenticator
	}
	s.mu.Lock()
	s.soleAuth = len(chain) == 1
	s.mu.Unlock()
	return nil
}

// authenticate asks until an attempt succeeds. Every failure re-prompts.
func (s *Session) authenticate(ctx context.Context) {
	for {
		req := auth.Request{User: s.opts.User, Prompt: s.opts.Prompt}
		if s.opts.AuthTimeout > 0 {
			req.Deadline = time.Now().Add(s.opts.AuthTimeout)
		}

		s.mu.Lock()
		s.attempts++
		n := s.attempts
		s.mu.Unlock()

		err := s.mgr.Authenticate(ctx, req)
		if err == nil {
			s.log.Info("authenticated %s after %d attempt(s)", s.opts.User, n)
			return
		}

		reason := auth.ReasonOf(err)
		s.log.WithField("attempt", n).Warn("authentication %s: %v", reason, err)
		fmt.Fprintln(s.opts.Output, auth.Message(err))

		if s.opts.FailDelay > 0 {
			time.Sleep(s.opts.FailDelay)
		}
	}
}

// finish unlocks and unloads. It runs once, from Run or from the watcher.
func (s *Session) finish(ctx context.Context) error {
	s.finishOnce.Do(func() {
		err := s.mgr.Unlock(ctx)
		if err != nil {
			s.log.Warn("unlock: %v", err)
		}
		s.finishErr = errors.Join(err, s.unload(ctx))
		s.log.Info("unlocked")
	})
	return s.finishErr
}

func (s *Session) unload(ctx context.Context) error {
	s.mu.Lock()
	s.locked = false
	s.mu.Unlock()
	err := s.mgr.UnloadAll(ctx)
	if err != nil {
		s.log.Warn("unload: %v", err)
	}
	return err
}

// WatchHelper arms the watcher for an authentication helper. It is meant
// for auth.Helper.OnStart. The watcher is only armed when the helper's
// plugin is the only authenticator, since its success then decides the
// whole chain.
func (s *Session) WatchHelper(c *process.Child) {
	s.mu.Lock()
	arm := s.opts.Watcher != nil && s.soleAuth && s.locked
	s.mu.Unlock()
	if !arm {
		return
	}
	s.opts.Watcher.WatchChild(c, func(status process.ExitStatus) {
		if !status.Success() {
			return
		}
		s.log.Debug("helper pid=%d accepted, finishing from watcher", c.Pid())
		code := 0
		if err := s.finish(context.Background()); err != nil {
			code = 1
		}
		s.opts.Exit(code)
	})
}

// UnwatchHelper disarms the watcher. It is meant for auth.Helper.OnFinish.
func (s *Session) UnwatchHelper(*process.Child) {
	if s.opts.Watcher != nil {
		s.opts.Watcher.Unwatch()
	}
}
