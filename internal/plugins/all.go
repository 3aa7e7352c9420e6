package plugins

import (
	"context"
	"fmt"
	"sync"

	"github.com/dshills/vtlock/internal/logging"
	"github.com/dshills/vtlock/internal/plugin"
)

// allPlugin makes the guard refuse switch requests and, where permitted,
// asks the kernel to refuse switches outright.
type allPlugin struct {
	console Console
	guard   Guard
	log     *logging.Logger

	mu           sync.Mutex
	locked       bool
	switchLocked bool
}

func newAll(deps Deps) (plugin.Plugin, error) {
	if deps.Console == nil || deps.Guard == nil {
		return nil, fmt.Errorf("%w: console", ErrMissingDependency)
	}
	return &allPlugin{console: deps.Console, guard: deps.Guard, log: deps.Logger.WithField("plugin", NameAll)}, nil
}

func (p *allPlugin) Declaration() plugin.Declaration {
	return plugin.Declaration{
		Name:     NameAll,
		After:    []string{NameVT},
		Requires: []string{NameVT},
	}
}

func (p *allPlugin) Lock(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.guard.SetLockAll(true)
	p.locked = true
	// VT_LOCKSWITCH needs CAP_SYS_TTY_CONFIG; the guard alone still refuses
	// switches without it.
	if err := p.console.LockSwitch(); err != nil {
		p.log.Warn("console switch lock not available: %v", err)
	} else {
		p.switchLocked = true
	}
	return nil
}

func (p *allPlugin) Unlock(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restore()
}

func (p *allPlugin) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restore()
}

func (p *allPlugin) restore() error {
	if !p.locked {
		return nil
	}
	p.locked = false
	p.guard.SetLockAll(false)
	if p.switchLocked {
		p.switchLocked = false
		if err := p.console.UnlockSwitch(); err != nil {
			return fmt.Errorf("unlock console switching: %w", err)
		}
	}
	return nil
}
