package process

import (
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// fallbackFDLimit is used when RLIMIT_NOFILE cannot be read.
const fallbackFDLimit = 1024

// CloseInheritedDescriptors closes every descriptor from 3 up to the open
// file limit that was inherited across exec. Descriptors marked close-on-exec
// were opened by this process, by the Go runtime among others, and are left
// alone. Errors on individual descriptors are ignored.
//
// Init calls this in re-executed children. It must never run in the parent.
func CloseInheritedDescriptors() {
	if fds, ok := listOpenFDs(); ok {
		for _, fd := range fds {
			closeIfInherited(fd)
		}
		return
	}
	limit := fdLimit()
	for fd := 3; fd < limit; fd++ {
		closeIfInherited(fd)
	}
}

func fdLimit() int {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil || rl.Cur == 0 {
		return fallbackFDLimit
	}
	if rl.Cur > 1<<20 {
		return 1 << 20
	}
	return int(rl.Cur)
}

// listOpenFDs reads /proc/self/fd. It returns false when procfs is not
// available.
func listOpenFDs() ([]int, bool) {
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return nil, false
	}
	limit := fdLimit()
	fds := make([]int, 0, len(entries))
	for _, e := range entries {
		fd, err := strconv.Atoi(e.Name())
		if err != nil || fd < 3 || fd >= limit {
			continue
		}
		fds = append(fds, fd)
	}
	return fds, true
}

func closeIfInherited(fd int) {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil || flags&unix.FD_CLOEXEC != 0 {
		return
	}
	_ = unix.Close(fd)
}
