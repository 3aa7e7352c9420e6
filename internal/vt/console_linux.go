//go:build linux

package vt

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// Console ioctl requests, from <linux/vt.h>.
const (
	ioctlGetMode      = 0x5601 // VT_GETMODE
	ioctlSetMode      = 0x5602 // VT_SETMODE
	ioctlGetState     = 0x5603 // VT_GETSTATE
	ioctlRelDisp      = 0x5605 // VT_RELDISP
	ioctlLockSwitch   = 0x560B // VT_LOCKSWITCH
	ioctlUnlockSwitch = 0x560C // VT_UNLOCKSWITCH
)

// Arguments to ReleaseDisplay.
const (
	DisallowSwitch = 0 // refuse a pending release request
	AllowSwitch    = 1 // grant a pending release request
	AckAcquire     = 2 // VT_ACKACQ
)

// Values of Mode.Mode.
const (
	ModeAuto    = 0 // VT_AUTO
	ModeProcess = 1 // VT_PROCESS
)

// ErrNotConsole is returned when the device does not accept VT ioctls.
var ErrNotConsole = errors.New("not a virtual console")

// Mode mirrors struct vt_mode.
type Mode struct {
	Mode   int8  // ModeAuto or ModeProcess
	Waitv  int8  // unused by the kernel
	Relsig int16 // signal raised on release request
	Acqsig int16 // signal raised on acquisition
	Frsig  int16 // unused, must be zero
}

// State mirrors struct vt_stat.
type State struct {
	Active uint16
	Signal uint16
	State  uint16
}

// Console is an open virtual console device.
type Console struct {
	f     *os.File
	fd    uintptr
	owned bool

	savedMode *Mode
	savedTerm *term.State
}

// OpenConsole opens the console device at path, /dev/tty when path is empty.
func OpenConsole(path string) (*Console, error) {
	if path == "" {
		path = "/dev/tty"
	}
	f, err := os.OpenFile(path, os.O_RDWR|syscall.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("open console: %w", err)
	}
	c := NewConsole(f)
	c.owned = true
	return c, nil
}

// NewConsole wraps an already open console device. Close does not close f.
func NewConsole(f *os.File) *Console {
	return &Console{f: f, fd: f.Fd()}
}

// Name returns the device path.
func (c *Console) Name() string { return c.f.Name() }

func (c *Console) ioctlPtr(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, c.fd, req, uintptr(arg))
	return ioctlErr(errno)
}

func (c *Console) ioctlVal(req uintptr, arg int) error {
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, c.fd, req, uintptr(arg))
	return ioctlErr(errno)
}

func ioctlErr(errno syscall.Errno) error {
	switch errno {
	case 0:
		return nil
	case unix.ENOTTY, unix.EINVAL:
		return fmt.Errorf("%w: %v", ErrNotConsole, errno)
	default:
		return errno
	}
}

// Mode returns the current switching mode.
func (c *Console) Mode() (Mode, error) {
	var m Mode
	if err := c.ioctlPtr(ioctlGetMode, unsafe.Pointer(&m)); err != nil {
		return Mode{}, fmt.Errorf("VT_GETMODE: %w", err)
	}
	return m, nil
}

// SetMode sets the switching mode.
func (c *Console) SetMode(m Mode) error {
	if err := c.ioctlPtr(ioctlSetMode, unsafe.Pointer(&m)); err != nil {
		return fmt.Errorf("VT_SETMODE: %w", err)
	}
	return nil
}

// SetProcessMode saves the current mode and hands switching decisions to
// this process: the kernel raises SIGUSR1 on a release request and SIGUSR2
// after acquisition.
func (c *Console) SetProcessMode() error {
	cur, err := c.Mode()
	if err != nil {
		return err
	}
	if c.savedMode == nil {
		c.savedMode = &cur
	}
	next := Mode{
		Mode:   ModeProcess,
		Relsig: int16(unix.SIGUSR1),
		Acqsig: int16(unix.SIGUSR2),
	}
	return c.SetMode(next)
}

// RestoreMode puts back the mode saved by SetProcessMode.
func (c *Console) RestoreMode() error {
	if c.savedMode == nil {
		return nil
	}
	m := *c.savedMode
	c.savedMode = nil
	return c.SetMode(m)
}

// ReleaseDisplay answers a pending switch request with DisallowSwitch,
// AllowSwitch or AckAcquire.
func (c *Console) ReleaseDisplay(arg int) error {
	if err := c.ioctlVal(ioctlRelDisp, arg); err != nil {
		return fmt.Errorf("VT_RELDISP %d: %w", arg, err)
	}
	return nil
}

// State returns the active console number and the in-use bitmap.
func (c *Console) State() (State, error) {
	var s State
	if err := c.ioctlPtr(ioctlGetState, unsafe.Pointer(&s)); err != nil {
		return State{}, fmt.Errorf("VT_GETSTATE: %w", err)
	}
	return s, nil
}

// LockSwitch disables console switching system wide. It needs
// CAP_SYS_TTY_CONFIG.
func (c *Console) LockSwitch() error {
	if err := c.ioctlVal(ioctlLockSwitch, 0); err != nil {
		return fmt.Errorf("VT_LOCKSWITCH: %w", err)
	}
	return nil
}

// UnlockSwitch undoes LockSwitch.
func (c *Console) UnlockSwitch() error {
	if err := c.ioctlVal(ioctlUnlockSwitch, 0); err != nil {
		return fmt.Errorf("VT_UNLOCKSWITCH: %w", err)
	}
	return nil
}

// SaveTerminal snapshots the terminal attributes. Only the first snapshot is
// kept.
func (c *Console) SaveTerminal() error {
	if c.savedTerm != nil {
		return nil
	}
	st, err := term.GetState(int(c.fd))
	if err != nil {
		return fmt.Errorf("save terminal: %w", err)
	}
	c.savedTerm = st
	return nil
}

// RestoreTerminal reinstalls the attributes saved by SaveTerminal.
func (c *Console) RestoreTerminal() error {
	if c.savedTerm == nil {
		return nil
	}
	st := c.savedTerm
	c.savedTerm = nil
	if err := term.Restore(int(c.fd), st); err != nil {
		return fmt.Errorf("restore terminal: %w", err)
	}
	return nil
}

// Restore undoes SetProcessMode and SaveTerminal. Both are attempted.
func (c *Console) Restore() error {
	return errors.Join(c.RestoreMode(), c.RestoreTerminal())
}

// Close closes the device if OpenConsole opened it.
func (c *Console) Close() error {
	if !c.owned {
		return nil
	}
	return c.f.Close()
}
