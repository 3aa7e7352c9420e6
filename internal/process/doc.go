// Package process launches and reaps the child processes vtlock depends on:
// the authentication helper and script plugins.
//
// # Launching
//
// A Descriptor names either an executable path or an entry function
// registered with Register. Go cannot fork without exec, so entry functions
// run by re-executing the current binary; main must call Init before doing
// anything else so the child side can dispatch:
//
//	func init() {
//	    process.Register("vtlock-auth", authMain)
//	}
//
//	func main() {
//	    process.Init()
//	    ...
//	}
//
// Each of the three standard streams is redirected independently: inherited,
// connected to an existing descriptor, connected to /dev/null, or connected
// to a fresh pipe whose parent end is returned on the Child. The child always
// runs with the real user and group ids of the caller, so a setuid vtlock
// never hands elevated privileges to a helper.
//
// # Reaping
//
// WaitWithTimeout waits for a child with a wall-clock bound and reports one
// of three outcomes. EnsureTerminated escalates from SIGTERM to SIGKILL and
// always leaves the child reaped. Both work on a Child, which keeps a single
// reap record so that the VT guard and the supervisor can observe the same
// child without stealing each other's exit status.
//
// # Thread Safety
//
// Supervisor and Child are safe for concurrent use. Bounded waits may run
// concurrently: the first one drives ITIMER_REAL and the others fall back to
// a runtime timer, so no wait cuts another one short.
package process
