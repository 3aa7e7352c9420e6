package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dshills/vtlock/internal/auth"
	"github.com/dshills/vtlock/internal/logging"
	"github.com/dshills/vtlock/internal/tsort"
)

// Manager manages the lifecycle of all plugins: loading, dependency
// resolution, hook invocation, and unloading.
//
// Hooks are invoked without holding the manager lock, so a hook may call
// read-only Manager methods.
type Manager struct {
	mu sync.RWMutex

	registry *Registry
	loader   *Loader
	log      *logging.Logger

	// Loaded plugins by name
	plugins map[string]*Handle

	// Plugin load order (for deterministic iteration)
	loadOrder []string

	// Set by ResolveDependencies
	resolved bool
	order    []*Handle
	chains   map[string][]boundHook
}

// ManagerConfig configures the plugin manager.
type ManagerConfig struct {
	// Registry holds built-in plugins. Checked before the loader.
	Registry *Registry

	// Loader finds plugins on disk. Nil disables disk plugins.
	Loader *Loader

	Logger *logging.Logger
}

// NewManager creates a new plugin manager.
func NewManager(config ManagerConfig) *Manager {
	m := &Manager{
		registry: config.Registry,
		loader:   config.Loader,
		log:      config.Logger,
		plugins:  make(map[string]*Handle),
	}
	if m.registry == nil {
		m.registry = NewRegistry()
	}
	if m.log == nil {
		m.log = logging.Discard()
	}
	return m
}

// Load loads a plugin by name, from the registry if it has one by that name
// and from the loader's search paths otherwise. A plugin that cannot be found
// leaves the manager unchanged and reports ErrPluginNotFound.
func (m *Manager) Load(ctx context.Context, name string) (*Handle, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	m.mu.RLock()
	resolved := m.resolved
	_, exists := m.plugins[name]
	m.mu.RUnlock()
	switch {
	case resolved:
		return nil, fmt.Errorf("plugin %q: %w", name, ErrAlreadyResolved)
	case exists:
		return nil, fmt.Errorf("plugin %q: %w", name, ErrAlreadyLoaded)
	}

	// Instantiate (potentially long operation, no lock)
	p, source, err := m.instantiate(ctx, name)
	if err != nil {
		return nil, err
	}

	decl := p.Declaration()
	if decl.Name == "" {
		decl.Name = name
	}
	if decl.Name != name {
		err = fmt.Errorf("%w: %s declares name %q", ErrInvalidPlugin, name, decl.Name)
	} else {
		err = decl.Validate()
	}
	if err != nil {
		closePlugin(ctx, p)
		return nil, fmt.Errorf("failed to load plugin %q: %w", name, err)
	}

	// Register the plugin (brief lock)
	m.mu.Lock()
	// Double-check - another goroutine might have loaded it
	if _, exists := m.plugins[name]; exists || m.resolved {
		m.mu.Unlock()
		closePlugin(ctx, p)
		return nil, fmt.Errorf("plugin %q: %w", name, ErrAlreadyLoaded)
	}
	h := newHandle(p, decl, source)
	m.plugins[name] = h
	m.loadOrder = append(m.loadOrder, name)
	m.mu.Unlock()

	m.log.WithField("plugin", name).Debug("loaded from %s", source)
	return h, nil
}

func (m *Manager) instantiate(ctx context.Context, name string) (Plugin, string, error) {
	if m.registry.Has(name) {
		p, err := m.registry.New(ctx, name)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load plugin %q: %w", name, err)
		}
		return p, SourceBuiltin, nil
	}
	if m.loader == nil {
		return nil, "", fmt.Errorf("%w: %s", ErrPluginNotFound, name)
	}
	c, err := m.loader.Find(name)
	if err != nil {
		return nil, "", err
	}
	p, err := c.Open(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load %s plugin %q: %w", c.Kind, name, err)
	}
	return p, c.Path, nil
}

// LoadAll loads each named plugin in turn and stops at the first failure.
func (m *Manager) LoadAll(ctx context.Context, names []string) error {
	for _, name := range names {
		if _, err := m.Load(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// ResolveDependencies checks requirements and conflicts, orders the loaded
// plugins, and binds every hook to the plugins implementing it. It can be
// called once; later calls return ErrAlreadyResolved whether or not the
// first succeeded.
func (m *Manager) ResolveDependencies() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.resolved {
		return ErrAlreadyResolved
	}
	m.resolved = true

	handles := make([]*Handle, 0, len(m.loadOrder))
	for _, name := range m.loadOrder {
		handles = append(handles, m.plugins[name])
	}

	for _, h := range handles {
		for _, req := range h.decl.Requires {
			if _, ok := m.plugins[req]; !ok {
				return fmt.Errorf("%w: %s requires %s", ErrDependencyNotFound, h.Name(), req)
			}
		}
		for _, c := range h.decl.Conflicts {
			if _, ok := m.plugins[c]; ok {
				return fmt.Errorf("%w: %s conflicts with %s", ErrConflict, h.Name(), c)
			}
		}
	}

	g := tsort.New[string]()
	for _, h := range handles {
		g.AddNode(h.Name())
	}
	for _, h := range handles {
		for _, b := range h.decl.Before {
			g.AddEdge(h.Name(), b)
		}
		for _, a := range h.decl.After {
			g.AddEdge(a, h.Name())
		}
	}
	if err := g.Sort(); err != nil {
		return fmt.Errorf("%w: %w", ErrCyclicDependency, err)
	}

	order := make([]*Handle, 0, len(handles))
	for _, name := range g.Nodes() {
		order = append(order, m.plugins[name])
	}

	chains := make(map[string][]boundHook, len(hookTable))
	for hook, def := range hookTable {
		for _, h := range order {
			if hs, ok := h.plugin.(HookSet); ok && !hs.HasHook(hook) {
				continue
			}
			if fn := def.bind(h.plugin); fn != nil {
				chains[hook] = append(chains[hook], boundHook{handle: h, fn: fn})
			}
		}
	}

	m.order = order
	m.chains = chains
	for _, h := range order {
		h.setState(StateBound, nil)
	}
	return nil
}

// InvokeHook runs hook on every plugin implementing it, in resolved order.
// A gating hook stops at the first failure and returns it. A run-all hook
// runs every plugin and returns all failures joined. Every failure is a
// *HookError.
func (m *Manager) InvokeHook(ctx context.Context, hook string, req auth.Request) error {
	def, ok := hookTable[hook]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHook, hook)
	}

	m.mu.RLock()
	resolved := m.order != nil
	chain := m.chains[hook]
	m.mu.RUnlock()
	if !resolved {
		return ErrNotResolved
	}

	var errs []error
	for _, b := range chain {
		if def.gating {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		m.log.WithField("plugin", b.handle.Name()).Debug("hook %s", hook)
		if err := callHook(ctx, b.fn, req); err != nil {
			herr := &HookError{Plugin: b.handle.Name(), Hook: hook, Err: err}
			if def.gating {
				return herr
			}
			errs = append(errs, herr)
		}
	}
	return errors.Join(errs...)
}

// callHook runs fn and turns a panic into an error.
func callHook(ctx context.Context, fn hookFunc, req auth.Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, req)
}

// Lock invokes the lock hook.
func (m *Manager) Lock(ctx context.Context) error {
	return m.InvokeHook(ctx, HookLock, auth.Request{})
}

// Authenticate invokes the authenticate hook.
func (m *Manager) Authenticate(ctx context.Context, req auth.Request) error {
	return m.InvokeHook(ctx, HookAuthenticate, req)
}

// Unlock invokes the unlock hook.
func (m *Manager) Unlock(ctx context.Context) error {
	return m.InvokeHook(ctx, HookUnlock, auth.Request{})
}

// UnloadAll unloads every plugin in reverse resolved order, or reverse load
// order if resolution never succeeded. Every plugin gets its Close even if an
// earlier one failed; failures are joined. Afterwards the manager is empty
// and can load and resolve again.
func (m *Manager) UnloadAll(ctx context.Context) error {
	m.mu.Lock()
	order := m.order
	if order == nil {
		order = make([]*Handle, 0, len(m.loadOrder))
		for _, name := range m.loadOrder {
			order = append(order, m.plugins[name])
		}
	}
	m.plugins = make(map[string]*Handle)
	m.loadOrder = nil
	m.order = nil
	m.chains = nil
	m.resolved = false
	m.mu.Unlock()

	var unloadErrors []error
	for i := len(order) - 1; i >= 0; i-- {
		h := order[i]
		if err := closePlugin(ctx, h.plugin); err != nil {
			h.setState(StateFailed, err)
			unloadErrors = append(unloadErrors, fmt.Errorf("%s: %w", h.Name(), err))
			m.log.WithField("plugin", h.Name()).Warn("unload failed: %v", err)
			continue
		}
		h.setState(StateUnloaded, nil)
		m.log.WithField("plugin", h.Name()).Debug("unloaded")
	}

	if len(unloadErrors) > 0 {
		return fmt.Errorf("failed to unload %d plugins: %w", len(unloadErrors), errors.Join(unloadErrors...))
	}
	return nil
}

func closePlugin(ctx context.Context, p Plugin) (err error) {
	c, ok := p.(Closer)
	if !ok {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.Close(ctx)
}

// Get returns a plugin by name.
func (m *Manager) Get(name string) (*Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, exists := m.plugins[name]
	return h, exists
}

// List returns all loaded plugins in load order.
func (m *Manager) List() []*Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Handle, 0, len(m.loadOrder))
	for _, name := range m.loadOrder {
		result = append(result, m.plugins[name])
	}
	return result
}

// Order returns the resolved plugin order, or nil before resolution.
func (m *Manager) Order() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.order == nil {
		return nil
	}
	names := make([]string, len(m.order))
	for i, h := range m.order {
		names[i] = h.Name()
	}
	return names
}

// HookPlugins returns the plugins bound to hook, in invocation order.
func (m *Manager) HookPlugins(hook string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.chains[hook]
	names := make([]string, len(chain))
	for i, b := range chain {
		names[i] = b.handle.Name()
	}
	return names
}

// Resolved reports whether ResolveDependencies succeeded.
func (m *Manager) Resolved() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.order != nil
}

// Count returns the number of loaded plugins.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.plugins)
}

// Loader returns the underlying loader, which may be nil.
func (m *Manager) Loader() *Loader {
	return m.loader
}

// Registry returns the registry of built-in plugins.
func (m *Manager) Registry() *Registry {
	return m.registry
}
