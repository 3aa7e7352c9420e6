package plugins

import (
	"context"
	"fmt"
	"sync"

	"github.com/dshills/vtlock/internal/logging"
	"github.com/dshills/vtlock/internal/plugin"
)

// vtPlugin puts the console into process-controlled switching and installs
// the guard that answers switch requests.
type vtPlugin struct {
	console Console
	guard   Guard
	log     *logging.Logger

	mu     sync.Mutex
	locked bool
}

func newVT(deps Deps) (plugin.Plugin, error) {
	if deps.Console == nil || deps.Guard == nil {
		return nil, fmt.Errorf("%w: console", ErrMissingDependency)
	}
	return &vtPlugin{console: deps.Console, guard: deps.Guard, log: deps.Logger.WithField("plugin", NameVT)}, nil
}

func (p *vtPlugin) Declaration() plugin.Declaration {
	return plugin.Declaration{Name: NameVT}
}

// Lock installs the guard before switching modes, so no request is missed.
func (p *vtPlugin) Lock(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.guard.Acquire(); err != nil {
		return fmt.Errorf("acquire guard: %w", err)
	}
	if err := p.console.SetProcessMode(); err != nil {
		p.guard.Release()
		return fmt.Errorf("set console mode: %w", err)
	}
	p.locked = true
	p.log.Debug("console switching under process control")
	return nil
}

func (p *vtPlugin) Unlock(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restore()
}

// Close restores the console if Unlock never ran.
func (p *vtPlugin) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restore()
}

func (p *vtPlugin) restore() error {
	if !p.locked {
		return nil
	}
	p.locked = false
	err := p.console.RestoreMode()
	p.guard.Release()
	if err != nil {
		return fmt.Errorf("restore console mode: %w", err)
	}
	return nil
}
