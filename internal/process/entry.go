package process

import (
	"fmt"
	"os"
	"sync"
)

// entryEnv carries the entry name into a re-executed child.
const entryEnv = "VTLOCK_PROCESS_ENTRY"

// selfExe is what a child re-executes to reach an entry function.
const selfExe = "/proc/self/exe"

// EntryFunc is the body of a re-executed child. args are the arguments after
// argv[0]. The return value is the exit code.
type EntryFunc func(args []string) int

var (
	entriesMu sync.RWMutex
	entries   = make(map[string]EntryFunc)
)

// Register makes fn launchable as Descriptor.Entry under name. It is meant
// to be called from init functions. Registering a name twice panics.
func Register(name string, fn EntryFunc) {
	entriesMu.Lock()
	defer entriesMu.Unlock()
	if _, exists := entries[name]; exists {
		panic(fmt.Sprintf("process: entry %q registered twice", name))
	}
	entries[name] = fn
}

func registered(name string) bool {
	entriesMu.RLock()
	defer entriesMu.RUnlock()
	_, ok := entries[name]
	return ok
}

// Init runs the registered entry when the current process is a re-executed
// child, and exits with its return value. In any other process it returns
// immediately. Call it first thing in main, and in TestMain for packages
// whose tests launch entries.
func Init() {
	name, ok := os.LookupEnv(entryEnv)
	if !ok {
		return
	}
	_ = os.Unsetenv(entryEnv)
	CloseInheritedDescriptors()

	entriesMu.RLock()
	fn := entries[name]
	entriesMu.RUnlock()
	if fn == nil {
		fmt.Fprintf(os.Stderr, "process: unknown entry %q\n", name)
		os.Exit(ExitLaunchFailure)
	}
	os.Exit(fn(os.Args[1:]))
}
