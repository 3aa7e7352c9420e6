package app

import (
	"context"
	"errors"
	"fmt"
	"os/user"
	"slices"
	"time"

	"github.com/dshills/vtlock/internal/auth"
	"github.com/dshills/vtlock/internal/config"
	"github.com/dshills/vtlock/internal/lock"
	"github.com/dshills/vtlock/internal/logging"
	"github.com/dshills/vtlock/internal/plugin"
	"github.com/dshills/vtlock/internal/plugin/lua"
	"github.com/dshills/vtlock/internal/plugin/script"
	"github.com/dshills/vtlock/internal/plugins"
	"github.com/dshills/vtlock/internal/process"
	"github.com/dshills/vtlock/internal/vt"
)

// bootstrapper handles component initialization with proper cleanup on failure.
type bootstrapper struct {
	app       *Application
	opts      Options
	initOrder []string
}

// newBootstrapper creates a new bootstrapper for the application.
func newBootstrapper(app *Application, opts Options) *bootstrapper {
	return &bootstrapper{
		app:       app,
		opts:      opts,
		initOrder: make([]string, 0, 8),
	}
}

// bootstrap initializes all components in dependency order.
// On failure, it cleans up already-initialized components.
func (b *bootstrapper) bootstrap() error {
	steps := []func() error{
		b.initConfig,
		b.initLogging,
		b.initSupervisor,
		b.initConsole,
		b.initGuard,
		b.initPlugins,
		b.initSession,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			b.cleanup()
			return err
		}
	}
	return nil
}

func (b *bootstrapper) initConfig() error {
	cfg, err := config.Load(b.opts.ConfigPath)
	if err != nil {
		return NewComponentError("config", "load", err)
	}

	if b.opts.LogLevel != "" {
		cfg.LogLevel = b.opts.LogLevel
	}
	if len(b.opts.Plugins) > 0 {
		cfg.Plugins = slices.Clone(b.opts.Plugins)
	}
	cfg.LockAll = cfg.LockAll || b.opts.LockAll
	cfg.Plugins = pluginList(cfg.Plugins, cfg.LockAll)

	if err := cfg.Validate(); err != nil {
		return NewComponentError("config", "validate", err)
	}

	b.app.config = cfg
	b.initOrder = append(b.initOrder, "config")
	return nil
}

// pluginList adds "all" when every switch is to be refused, and "vt"
// ahead of "all" since the one needs the other.
func pluginList(names []string, lockAll bool) []string {
	out := slices.Clone(names)
	if lockAll && !slices.Contains(out, plugins.NameAll) {
		out = append(out, plugins.NameAll)
	}
	if i := slices.Index(out, plugins.NameAll); i >= 0 && !slices.Contains(out, plugins.NameVT) {
		out = slices.Insert(out, i, plugins.NameVT)
	}
	return out
}

func (b *bootstrapper) initLogging() error {
	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(b.app.config.LogLevel),
		Output: b.opts.LogOutput,
		Prefix: "vtlock",
	})
	logging.SetDefault(log)
	b.app.log = log
	b.initOrder = append(b.initOrder, "logging")
	return nil
}

func (b *bootstrapper) initSupervisor() error {
	b.app.supervisor = process.NewSupervisor(
		process.WithLogger(b.app.log.WithComponent("process")),
	)
	b.initOrder = append(b.initOrder, "supervisor")
	return nil
}

// needsConsole reports whether a configured plugin drives the console.
func (b *bootstrapper) needsConsole() bool {
	return b.app.config.HasPlugin(plugins.NameVT) || b.app.config.HasPlugin(plugins.NameAll)
}

func (b *bootstrapper) initConsole() error {
	if !b.needsConsole() {
		b.app.log.Debug("no console plugin configured")
		return nil
	}

	console, err := vt.OpenConsole(b.app.config.Console)
	if err != nil {
		return NewComponentError("console", "open", err)
	}
	if _, err := console.Mode(); err != nil {
		_ = console.Close()
		if errors.Is(err, vt.ErrNotConsole) {
			return NewComponentError("console", console.Name(), fmt.Errorf("%w: %v", ErrNoConsole, err))
		}
		return NewComponentError("console", console.Name(), err)
	}
	if err := console.SaveTerminal(); err != nil {
		b.app.log.Warn("console %s: %v", console.Name(), err)
	}

	b.app.console = console
	b.initOrder = append(b.initOrder, "console")
	return nil
}

func (b *bootstrapper) initGuard() error {
	if b.app.console == nil {
		return nil
	}
	b.app.guard = vt.NewGuard(b.app.console,
		vt.WithLogger(b.app.log.WithComponent("vt")),
		vt.WithLockAll(b.app.config.LockAll),
	)
	b.initOrder = append(b.initOrder, "guard")
	return nil
}

func (b *bootstrapper) initPlugins() error {
	cfg := b.app.config
	log := b.app.log

	b.app.helper = &auth.Helper{
		Supervisor: b.app.supervisor,
		Logger:     log.WithComponent("auth"),
		ShadowPath: cfg.ShadowPath,
	}

	deps := plugins.Deps{
		Authenticator: b.app.helper,
		SysrqPath:     cfg.SysrqPath,
		Logger:        log.WithComponent("plugins"),
	}
	// Left nil so the console plugins report ErrMissingDependency.
	if b.app.console != nil {
		deps.Console = b.app.console
	}
	if b.app.guard != nil {
		deps.Guard = b.app.guard
	}

	registry := plugin.NewRegistry()
	if err := plugins.Register(registry, deps); err != nil {
		return NewComponentError("plugins", "register built-ins", err)
	}

	paths := cfg.PluginDirs
	if len(paths) == 0 {
		paths = plugin.DefaultPluginPaths()
	}
	loader := plugin.NewLoader(
		plugin.WithPaths(paths...),
		plugin.WithOpeners(
			&lua.Opener{Logger: log.WithComponent("lua"), Timeout: cfg.PluginTimeout.Std()},
			&script.Opener{Supervisor: b.app.supervisor, Logger: log.WithComponent("script")},
		),
	)

	b.app.manager = plugin.NewManager(plugin.ManagerConfig{
		Registry: registry,
		Loader:   loader,
		Logger:   log.WithComponent("plugin"),
	})
	b.initOrder = append(b.initOrder, "plugins")
	return nil
}

func (b *bootstrapper) initSession() error {
	cfg := b.app.config

	name := cfg.User
	if name == "" {
		u, err := user.Current()
		if err != nil {
			return NewComponentError("session", "current user", err)
		}
		name = u.Username
	}

	delay := b.opts.FailDelay
	switch {
	case delay == 0:
		delay = DefaultFailDelay
	case delay < 0:
		delay = 0
	}

	opts := lock.Options{
		Manager:     b.app.manager,
		Plugins:     cfg.Plugins,
		User:        name,
		Prompt:      cfg.Prompt,
		AuthTimeout: cfg.AuthTimeout.Std(),
		FailDelay:   delay,
		Output:      b.opts.Output,
		Exit:        b.app.exit,
		Logger:      b.app.log,
	}
	if b.app.guard != nil {
		opts.Watcher = b.app.guard
	}
	session := lock.NewSession(opts)

	b.app.helper.OnStart = session.WatchHelper
	b.app.helper.OnFinish = session.UnwatchHelper

	b.app.session = session
	b.initOrder = append(b.initOrder, "session")
	return nil
}

// cleanup performs cleanup in reverse initialization order.
func (b *bootstrapper) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := len(b.initOrder) - 1; i >= 0; i-- {
		b.cleanupComponent(ctx, b.initOrder[i])
	}
	b.initOrder = b.initOrder[:0]
}

// cleanupComponent cleans up a single component.
func (b *bootstrapper) cleanupComponent(ctx context.Context, component string) {
	app := b.app
	switch component {
	case "plugins":
		if app.manager != nil {
			if err := app.manager.UnloadAll(ctx); err != nil {
				app.log.Warn("unload plugins: %v", err)
			}
		}
	case "guard":
		if app.guard != nil {
			app.guard.Release()
		}
	case "console":
		if app.console != nil {
			if err := app.console.Restore(); err != nil {
				app.log.Warn("restore console: %v", err)
			}
			if err := app.console.Close(); err != nil {
				app.log.Warn("close console: %v", err)
			}
		}
	case "supervisor":
		if app.supervisor != nil {
			app.supervisor.Shutdown()
		}
	}
}
