package plugins

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/dshills/vtlock/internal/logging"
	"github.com/dshills/vtlock/internal/plugin"
)

// DefaultSysrqPath controls the magic SysRq key.
const DefaultSysrqPath = "/proc/sys/kernel/sysrq"

// noSysrqPlugin writes 0 to the sysrq control while locked and puts the
// previous value back on unlock.
type noSysrqPlugin struct {
	path string
	log  *logging.Logger

	mu    sync.Mutex
	saved []byte
}

func newNoSysrq(deps Deps) plugin.Plugin {
	path := deps.SysrqPath
	if path == "" {
		path = DefaultSysrqPath
	}
	return &noSysrqPlugin{path: path, log: deps.Logger.WithField("plugin", NameNoSysrq)}
}

// Declaration: SysRq is only worth disabling when no other console can be
// reached either.
func (p *noSysrqPlugin) Declaration() plugin.Declaration {
	return plugin.Declaration{
		Name:     NameNoSysrq,
		After:    []string{NameAll},
		Requires: []string{NameAll},
	}
}

func (p *noSysrqPlugin) Lock(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read sysrq setting: %w", err)
	}
	prev = bytes.TrimSpace(prev)
	if bytes.Equal(prev, []byte("0")) {
		return nil
	}
	if err := os.WriteFile(p.path, []byte("0\n"), 0o644); err != nil {
		return fmt.Errorf("disable sysrq: %w", err)
	}
	p.saved = prev
	p.log.Debug("sysrq disabled, was %s", prev)
	return nil
}

func (p *noSysrqPlugin) Unlock(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restore()
}

func (p *noSysrqPlugin) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restore()
}

func (p *noSysrqPlugin) restore() error {
	if p.saved == nil {
		return nil
	}
	saved := p.saved
	p.saved = nil
	if err := os.WriteFile(p.path, append(saved, '\n'), 0o644); err != nil {
		return fmt.Errorf("restore sysrq: %w", err)
	}
	return nil
}
