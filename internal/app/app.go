// Package app wires vtlock's components together and runs one lock
// session.
package app

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/vtlock/internal/auth"
	"github.com/dshills/vtlock/internal/config"
	"github.com/dshills/vtlock/internal/lock"
	"github.com/dshills/vtlock/internal/logging"
	"github.com/dshills/vtlock/internal/plugin"
	"github.com/dshills/vtlock/internal/process"
	"github.com/dshills/vtlock/internal/vt"
)

// DefaultFailDelay is the pause after a failed authentication attempt.
const DefaultFailDelay = time.Second

// Application holds the components of one vtlock run.
type Application struct {
	mu sync.Mutex

	config     config.Config
	log        *logging.Logger
	supervisor *process.Supervisor
	console    *vt.Console
	guard      *vt.Guard
	helper     *auth.Helper
	manager    *plugin.Manager
	session    *lock.Session

	boot *bootstrapper

	running  atomic.Bool
	shutdown sync.Once

	opts Options
}

// Options configures the application. Fields left zero fall back to the
// configuration file.
type Options struct {
	// ConfigPath is the configuration file. Empty searches the defaults.
	ConfigPath string

	// LogLevel overrides the configured level.
	LogLevel string

	// LockAll adds the "all" plugin.
	LockAll bool

	// Plugins replaces the configured plugin list.
	Plugins []string

	// Output receives the messages shown after failed attempts.
	Output io.Writer

	// LogOutput receives log lines. Defaults to os.Stderr.
	LogOutput io.Writer

	// FailDelay overrides DefaultFailDelay. Negative means no delay.
	FailDelay time.Duration

	// Exit ends the process when the console guard sees the helper accept
	// the password. Defaults to os.Exit.
	Exit func(code int)
}

// New loads the configuration and initializes every component. Nothing is
// locked until Run.
func New(opts Options) (*Application, error) {
	if opts.Exit == nil {
		opts.Exit = os.Exit
	}
	app := &Application{opts: opts}
	boot := newBootstrapper(app, opts)
	if err := boot.bootstrap(); err != nil {
		return nil, err
	}
	app.boot = boot
	return app, nil
}

// Run locks the console and returns once it is unlocked again. Cancelling
// ctx only stops a session that has not locked yet.
func (app *Application) Run(ctx context.Context) error {
	if !app.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	app.mu.Lock()
	session := app.session
	app.mu.Unlock()
	if session == nil {
		return ErrShutdown
	}
	return session.Run(ctx)
}

// Shutdown stops every remaining helper and restores the console. It is
// safe to call more than once and from any goroutine.
func (app *Application) Shutdown() {
	app.shutdown.Do(func() {
		app.mu.Lock()
		boot := app.boot
		app.mu.Unlock()
		if boot != nil {
			boot.cleanup()
		}
	})
}

// exit shuts down before leaving from the guard's child-exit path, which
// never returns to Run.
func (app *Application) exit(code int) {
	app.Shutdown()
	app.opts.Exit(code)
}

// Config returns the effective configuration.
func (app *Application) Config() config.Config {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.config
}

// Session returns the lock session.
func (app *Application) Session() *lock.Session {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.session
}

// Plugins returns the plugin manager.
func (app *Application) Plugins() *plugin.Manager {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.manager
}

// Logger returns the application logger.
func (app *Application) Logger() *logging.Logger {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.log
}
