package lua

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// DefaultExecutionTimeout bounds every DoFile and Call.
const DefaultExecutionTimeout = 5 * time.Second

var (
	ErrStateClosed      = errors.New("lua: state closed")
	ErrExecutionTimeout = errors.New("lua: call exceeded its time limit")
	ErrNotFunction      = errors.New("lua: global is not a function")
)

// State is one sandboxed interpreter. An LState is single threaded, so
// every entry point holds mu.
type State struct {
	L *lua.LState

	mu      sync.Mutex
	closed  bool
	limit   time.Duration
	sandbox *Sandbox
}

// StateOption configures a State.
type StateOption func(*State)

// WithExecutionTimeout caps each DoFile, DoString and Call. Zero means no
// cap.
func WithExecutionTimeout(d time.Duration) StateOption {
	return func(s *State) { s.limit = d }
}

// WithPrint sends the output of Lua's print to fn.
func WithPrint(fn func(string)) StateOption {
	return func(s *State) { s.sandbox.print = fn }
}

// NewState returns a state with only the base, table, string and math
// libraries.
func NewState(opts ...StateOption) *State {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, open := range []lua.LGFunction{lua.OpenBase, lua.OpenTable, lua.OpenString, lua.OpenMath} {
		open(L)
	}
	L.SetTop(0)

	s := &State{L: L, limit: DefaultExecutionTimeout, sandbox: NewSandbox(L)}
	for _, opt := range opts {
		opt(s)
	}
	s.sandbox.Install()
	return s
}

// locked runs fn with mu held, failing with ErrStateClosed after Close.
func (s *State) locked(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStateClosed
	}
	return fn()
}

// exec is locked plus the time limit. A Go panic raised inside the VM
// comes back as an error.
func (s *State) exec(ctx context.Context, fn func() error) error {
	return s.locked(func() (err error) {
		if s.limit > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.limit)
			defer cancel()
		}
		s.L.SetContext(ctx)
		defer s.L.RemoveContext()

		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("lua panic: %v", r)
			}
			if err != nil && ctx.Err() == context.DeadlineExceeded {
				err = fmt.Errorf("%w: %v", ErrExecutionTimeout, err)
			}
		}()
		return fn()
	})
}

// DoFile runs the chunk in path.
func (s *State) DoFile(ctx context.Context, path string) error {
	return s.exec(ctx, func() error { return s.L.DoFile(path) })
}

// DoString runs code.
func (s *State) DoString(ctx context.Context, code string) error {
	return s.exec(ctx, func() error { return s.L.DoString(code) })
}

// Call invokes the global function fn and returns everything it returned,
// as a non-nil slice. The stack is left as it was found, also on error.
func (s *State) Call(ctx context.Context, fn string, args ...lua.LValue) ([]lua.LValue, error) {
	var out []lua.LValue
	err := s.exec(ctx, func() error {
		f, ok := s.L.GetGlobal(fn).(*lua.LFunction)
		if !ok {
			return fmt.Errorf("%w: %s is %s", ErrNotFunction, fn, s.L.GetGlobal(fn).Type())
		}

		base := s.L.GetTop()
		defer s.L.SetTop(base)

		s.L.Push(f)
		for _, a := range args {
			s.L.Push(a)
		}
		if err := s.L.PCall(len(args), lua.MultRet, nil); err != nil {
			return err
		}
		out = make([]lua.LValue, 0, s.L.GetTop()-base)
		for i := base + 1; i <= s.L.GetTop(); i++ {
			out = append(out, s.L.Get(i))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// HasFunction reports whether the global name holds a function.
func (s *State) HasFunction(name string) bool {
	return s.locked(func() error {
		if s.L.GetGlobal(name).Type() != lua.LTFunction {
			return ErrNotFunction
		}
		return nil
	}) == nil
}

// StringList reads the global name as a list of strings. Nil reads as no
// strings, a bare string as one.
func (s *State) StringList(name string) ([]string, error) {
	var out []string
	err := s.locked(func() error {
		v := s.L.GetGlobal(name)
		switch v := v.(type) {
		case *lua.LNilType:
			return nil
		case lua.LString:
			out = []string{string(v)}
			return nil
		case *lua.LTable:
			for i := 1; i <= v.Len(); i++ {
				str, ok := v.RawGetInt(i).(lua.LString)
				if !ok {
					return fmt.Errorf("%s[%d]: expected a string, got %s", name, i, v.RawGetInt(i).Type())
				}
				out = append(out, string(str))
			}
			return nil
		}
		return fmt.Errorf("%s: expected a table of strings, got %s", name, v.Type())
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterModule installs funcs as the global table name. It does nothing
// on a closed state.
func (s *State) RegisterModule(name string, funcs map[string]lua.LGFunction) {
	_ = s.locked(func() error {
		s.L.SetGlobal(name, s.L.SetFuncs(s.L.NewTable(), funcs))
		return nil
	})
}

// IsClosed reports whether Close has been called.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the interpreter. Later calls fail with ErrStateClosed.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.L.Close()
	}
	return nil
}
