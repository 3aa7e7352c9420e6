package plugin

import (
	"errors"
	"fmt"
)

// Plugin system errors.
var (
	// ErrPluginNotFound is returned when a plugin is neither registered nor
	// found on disk.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrNoEntryPoint is returned when a plugin directory has nothing to run.
	ErrNoEntryPoint = errors.New("plugin has no entry point")

	// ErrAlreadyLoaded is returned when attempting to load an already loaded plugin.
	ErrAlreadyLoaded = errors.New("plugin is already loaded")

	// ErrAlreadyRegistered is returned when a factory name is taken.
	ErrAlreadyRegistered = errors.New("plugin is already registered")

	// ErrAlreadyResolved is returned by a second ResolveDependencies, and by
	// Load after resolution.
	ErrAlreadyResolved = errors.New("plugin dependencies already resolved")

	// ErrNotResolved is returned when hooks are invoked before
	// ResolveDependencies succeeded.
	ErrNotResolved = errors.New("plugin dependencies not resolved")

	// ErrDependencyNotFound is returned when a required dependency is missing.
	ErrDependencyNotFound = errors.New("plugin dependency not found")

	// ErrCyclicDependency is returned when the ordering constraints cannot
	// be satisfied.
	ErrCyclicDependency = errors.New("cyclic plugin dependency detected")

	// ErrConflict is returned when two conflicting plugins are both loaded.
	ErrConflict = errors.New("conflicting plugins loaded")

	// ErrUnknownHook is returned when invoking a hook that does not exist.
	ErrUnknownHook = errors.New("unknown hook")

	// ErrInvalidPlugin is returned when plugin validation fails.
	ErrInvalidPlugin = errors.New("invalid plugin")
)

// HookError reports a hook that failed in one plugin.
type HookError struct {
	Plugin string
	Hook   string
	Err    error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("plugin %s: %s: %v", e.Plugin, e.Hook, e.Err)
}

func (e *HookError) Unwrap() error {
	return e.Err
}
