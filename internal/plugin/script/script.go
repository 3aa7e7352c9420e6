package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/dshills/vtlock/internal/logging"
	"github.com/dshills/vtlock/internal/plugin"
	"github.com/dshills/vtlock/internal/process"
)

// DefaultDepsTimeout bounds the "deps" run.
const DefaultDepsTimeout = 2 * time.Second

// maxDepsOutput caps what is read from "deps".
const maxDepsOutput = 64 << 10

// ErrClosed is returned by hooks after the script has been closed.
var ErrClosed = errors.New("script plugin closed")

// Opener finds and launches script plugins.
type Opener struct {
	// Supervisor launches the scripts. Required.
	Supervisor *process.Supervisor

	Logger *logging.Logger

	// DepsTimeout bounds the "deps" run. Zero means DefaultDepsTimeout.
	DepsTimeout time.Duration
}

// Kind implements plugin.Opener.
func (o *Opener) Kind() string { return "script" }

// Match implements plugin.Opener: executable regular files without an
// extension.
func (o *Opener) Match(path string, info fs.FileInfo) (string, bool) {
	base := filepath.Base(path)
	if !info.Mode().IsRegular() || info.Mode().Perm()&0o111 == 0 || filepath.Ext(base) != "" {
		return "", false
	}
	return base, true
}

// Open implements plugin.Opener.
func (o *Opener) Open(ctx context.Context, base plugin.Declaration, path string) (plugin.Plugin, error) {
	if o.Supervisor == nil {
		return nil, errors.New("script opener has no supervisor")
	}
	log := o.Logger
	if log == nil {
		log = logging.Discard()
	}
	log = log.WithField("plugin", base.Name)

	decl, err := o.deps(ctx, base, path)
	if err != nil {
		return nil, err
	}

	child, err := o.Supervisor.Launch(process.Descriptor{
		Path:   path,
		Args:   []string{"hooks"},
		Stdin:  process.Pipe,
		Stdout: process.DevNull,
		Stderr: process.DevNull,
	})
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", path, err)
	}
	log.Debug("script started pid=%d", child.Pid())
	return &Plugin{decl: decl, path: path, child: child, log: log}, nil
}

// deps runs "path deps" and merges its output into base.
func (o *Opener) deps(ctx context.Context, base plugin.Declaration, path string) (plugin.Declaration, error) {
	timeout := o.DepsTimeout
	if timeout == 0 {
		timeout = DefaultDepsTimeout
	}
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = max(time.Until(dl), 0)
	}

	child, err := o.Supervisor.Launch(process.Descriptor{
		Path:   path,
		Args:   []string{"deps"},
		Stdin:  process.DevNull,
		Stdout: process.Pipe,
		Stderr: process.DevNull,
	})
	if err != nil {
		return base, fmt.Errorf("run %s deps: %w", path, err)
	}
	defer child.Close()

	// The read ends at EOF or when the pipe is closed below.
	type readResult struct {
		out []byte
		err error
	}
	readDone := make(chan readResult, 1)
	go func() {
		out, err := io.ReadAll(io.LimitReader(child.Stdout, maxDepsOutput))
		readDone <- readResult{out, err}
	}()

	res, err := child.Wait(timeout)
	if err != nil || res != process.WaitExited {
		child.Terminate()
		child.Close()
		<-readDone
		if err == nil {
			err = fmt.Errorf("%s deps: %s", path, res)
		}
		return base, err
	}
	read := <-readDone
	if read.err != nil {
		return base, fmt.Errorf("read %s deps: %w", path, read.err)
	}
	if st, _ := child.Status(); !st.Success() {
		return base, fmt.Errorf("%s deps: %s", path, st)
	}

	parsed, err := plugin.ParseDeclaration(base.Name, bytes.NewReader(read.out))
	if err != nil {
		return base, fmt.Errorf("%s deps: %w", path, err)
	}
	base.Before = append(base.Before, parsed.Before...)
	base.After = append(base.After, parsed.After...)
	base.Requires = append(base.Requires, parsed.Requires...)
	base.Conflicts = append(base.Conflicts, parsed.Conflicts...)
	return base, nil
}

// Plugin is a running script.
type Plugin struct {
	decl  plugin.Declaration
	path  string
	child *process.Child
	log   *logging.Logger

	mu     sync.Mutex
	closed bool
}

// Declaration implements plugin.Plugin.
func (p *Plugin) Declaration() plugin.Declaration { return p.decl }

// Pid returns the script's process id.
func (p *Plugin) Pid() int { return p.child.Pid() }

// HasHook implements plugin.HookSet.
func (p *Plugin) HasHook(hook string) bool {
	return hook == plugin.HookLock || hook == plugin.HookUnlock
}

// Lock sends "lock".
func (p *Plugin) Lock(ctx context.Context) error {
	return p.send(plugin.HookLock)
}

// Unlock sends "unlock".
func (p *Plugin) Unlock(ctx context.Context) error {
	return p.send(plugin.HookUnlock)
}

// send writes the hook name. A script that died makes the write fail with
// EPIPE; the Go runtime does not raise SIGPIPE for writes to fds other than
// stdout and stderr.
func (p *Plugin) send(hook string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if _, err := io.WriteString(p.child.Stdin, hook+"\n"); err != nil {
		return fmt.Errorf("send %s to %s: %w", hook, p.path, err)
	}
	return nil
}

// Close closes the script's stdin and makes sure it is gone.
func (p *Plugin) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	err := p.child.Close()
	if res, _ := p.child.Wait(process.TerminationGrace); res != process.WaitExited {
		p.log.Debug("script did not exit on EOF, terminating")
	}
	p.child.Terminate()
	if st, ok := p.child.Status(); ok {
		p.log.Debug("script exited: %s", st)
	}
	return err
}
