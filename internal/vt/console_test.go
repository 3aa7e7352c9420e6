//go:build linux

package vt

import (
	"errors"
	"os"
	"testing"
	"unsafe"
)

func TestModeLayout(t *testing.T) {
	// struct vt_mode is two chars and three shorts.
	if size := unsafe.Sizeof(Mode{}); size != 8 {
		t.Errorf("sizeof(Mode) = %d, want 8", size)
	}
	if size := unsafe.Sizeof(State{}); size != 6 {
		t.Errorf("sizeof(State) = %d, want 6", size)
	}
}

func TestConsole_NotAConsole(t *testing.T) {
	f, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	c := NewConsole(f)

	if _, err := c.Mode(); !errors.Is(err, ErrNotConsole) {
		t.Errorf("Mode() on /dev/null = %v, want ErrNotConsole", err)
	}
	if err := c.SetProcessMode(); !errors.Is(err, ErrNotConsole) {
		t.Errorf("SetProcessMode() on /dev/null = %v, want ErrNotConsole", err)
	}
	if err := c.ReleaseDisplay(AllowSwitch); !errors.Is(err, ErrNotConsole) {
		t.Errorf("ReleaseDisplay on /dev/null = %v, want ErrNotConsole", err)
	}
	if err := c.SaveTerminal(); err == nil {
		t.Error("SaveTerminal on /dev/null succeeded")
	}
	// Nothing was saved, so restoring is a no-op.
	if err := c.Restore(); err != nil {
		t.Errorf("Restore() = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestOpenConsole_Missing(t *testing.T) {
	if _, err := OpenConsole("/nonexistent/tty"); err == nil {
		t.Error("expected error")
	}
}
