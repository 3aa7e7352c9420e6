package plugin

import "sync"

// Source values for Handle.Source.
const (
	SourceBuiltin = "builtin"
)

// Handle is a loaded plugin as tracked by the Manager.
type Handle struct {
	plugin Plugin
	decl   Declaration
	source string

	mu    sync.RWMutex
	state State
	err   error
}

func newHandle(p Plugin, decl Declaration, source string) *Handle {
	return &Handle{plugin: p, decl: decl, source: source, state: StateLoaded}
}

// Name returns the plugin name.
func (h *Handle) Name() string { return h.decl.Name }

// Declaration returns the declaration captured at load time.
func (h *Handle) Declaration() Declaration { return h.decl }

// Plugin returns the plugin instance.
func (h *Handle) Plugin() Plugin { return h.plugin }

// Source is SourceBuiltin or the path the plugin was loaded from.
func (h *Handle) Source() string { return h.source }

// State returns the lifecycle state.
func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Error returns the unload error, if the handle is in StateFailed.
func (h *Handle) Error() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

func (h *Handle) setState(s State, err error) {
	h.mu.Lock()
	h.state = s
	h.err = err
	h.mu.Unlock()
}
