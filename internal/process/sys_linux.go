package process

import (
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// sysOps holds the system calls the supervisor makes, so tests can fail a
// launch on purpose or count the signals sent.
type sysOps struct {
	forkExec func(argv0 string, argv []string, attr *syscall.ProcAttr) (int, error)
	kill     func(pid int, sig unix.Signal) error
	wait4    func(pid int, ws *unix.WaitStatus, options int) (int, error)
}

func defaultOps() sysOps {
	return sysOps{
		forkExec: syscall.ForkExec,
		kill:     unix.Kill,
		wait4: func(pid int, ws *unix.WaitStatus, options int) (int, error) {
			return unix.Wait4(pid, ws, options, nil)
		},
	}
}

const itimerReal = 0

// armRealTimer loads ITIMER_REAL with a one-shot value of d and returns the
// timer it replaced.
func armRealTimer(d time.Duration) (unix.Itimerval, error) {
	if d <= 0 {
		d = time.Microsecond
	}
	var next, prev unix.Itimerval
	next.Value = unix.NsecToTimeval(d.Nanoseconds())
	_, _, errno := unix.RawSyscall(unix.SYS_SETITIMER, itimerReal,
		uintptr(unsafe.Pointer(&next)), uintptr(unsafe.Pointer(&prev)))
	if errno != 0 {
		return prev, errno
	}
	return prev, nil
}

func restoreRealTimer(prev unix.Itimerval) {
	_, _, _ = unix.RawSyscall(unix.SYS_SETITIMER, itimerReal,
		uintptr(unsafe.Pointer(&prev)), 0)
}

// credential is the identity every child runs as: the real ids of the caller.
func credential() *syscall.Credential {
	return &syscall.Credential{
		Uid:         uint32(unix.Getuid()),
		Gid:         uint32(unix.Getgid()),
		NoSetGroups: true,
	}
}
