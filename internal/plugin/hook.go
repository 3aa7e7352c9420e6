package plugin

import (
	"context"
	"fmt"
	"sort"

	"github.com/dshills/vtlock/internal/auth"
)

// Hook names.
const (
	HookLock         = "lock"
	HookUnlock       = "unlock"
	HookAuthenticate = "authenticate"
)

// hookFunc runs one plugin's implementation of a hook.
type hookFunc func(ctx context.Context, req auth.Request) error

// hookDef describes one hook: how it is bound to a plugin and whether the
// first failure stops the chain.
type hookDef struct {
	// gating hooks stop at the first failing plugin. The others run every
	// plugin and report all failures.
	gating bool
	bind   func(p Plugin) hookFunc
}

var hookTable = map[string]hookDef{
	HookLock: {
		gating: true,
		bind: func(p Plugin) hookFunc {
			l, ok := p.(Locker)
			if !ok {
				return nil
			}
			return func(ctx context.Context, _ auth.Request) error { return l.Lock(ctx) }
		},
	},
	HookAuthenticate: {
		gating: true,
		bind: func(p Plugin) hookFunc {
			a, ok := p.(Authenticator)
			if !ok {
				return nil
			}
			return a.Authenticate
		},
	},
	HookUnlock: {
		gating: false,
		bind: func(p Plugin) hookFunc {
			u, ok := p.(Unlocker)
			if !ok {
				return nil
			}
			return func(ctx context.Context, _ auth.Request) error { return u.Unlock(ctx) }
		},
	},
}

// Hooks returns the names of all hooks.
func Hooks() []string {
	names := make([]string, 0, len(hookTable))
	for name := range hookTable {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsGating reports whether the hook stops at its first failure.
func IsGating(hook string) (bool, error) {
	def, ok := hookTable[hook]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownHook, hook)
	}
	return def.gating, nil
}

// boundHook is one entry of a resolved hook chain.
type boundHook struct {
	handle *Handle
	fn     hookFunc
}
