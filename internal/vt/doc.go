// Package vt keeps a locked Linux virtual console in place.
//
// A Console wraps the console device and issues the VT ioctls: switching to
// process-controlled mode, answering release and acquire requests, locking
// console switching outright, and saving and restoring terminal attributes.
//
// A Guard is the signal side of a lock session. Once acquired it answers the
// kernel's release requests (SIGUSR1) according to the lock-all setting,
// acknowledges acquire notifications (SIGUSR2), swallows the job-control and
// hangup signals that would otherwise stop or kill the lock, and watches at
// most one child process for exit. Release puts everything back the way it
// was found, exactly once.
package vt
