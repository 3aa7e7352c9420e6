package lua

import (
	"os"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// dangerousFuncs are base library globals that would let a plugin load code
// from outside its own file.
var dangerousFuncs = []string{
	"dofile",     // Load and execute file
	"loadfile",   // Load file as function
	"load",       // Load string as function
	"loadstring", // Load string as function (deprecated but may exist)
}

// Sandbox restricts a Lua state to safe operations.
type Sandbox struct {
	L     *lua.LState
	print func(string)
}

// NewSandbox creates a new sandbox for the Lua state. print goes to stderr
// until redirected.
func NewSandbox(L *lua.LState) *Sandbox {
	return &Sandbox{
		L: L,
		print: func(s string) {
			os.Stderr.WriteString(s + "\n")
		},
	}
}

// Install removes the dangerous globals and replaces print.
func (s *Sandbox) Install() {
	for _, name := range dangerousFuncs {
		s.L.SetGlobal(name, lua.LNil)
	}
	s.L.SetGlobal("print", s.L.NewFunction(s.luaPrint))
}

// luaPrint joins its arguments with tabs like the stock print.
func (s *Sandbox) luaPrint(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]string, n)
	for i := 1; i <= n; i++ {
		parts[i-1] = L.ToStringMeta(L.Get(i)).String()
	}
	s.print(strings.Join(parts, "\t"))
	return 0
}
