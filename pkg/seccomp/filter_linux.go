// Package seccomp builds and loads seccomp BPF filters for contained processes.
package seccomp

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	setModeFilter   = 1 // SECCOMP_SET_MODE_FILTER
	filterFlagTSync = 1 // SECCOMP_FILTER_FLAG_TSYNC
)

// Filter is the BPF seccomp filter value
type Filter []syscall.SockFilter

// SockFprog converts Filter to SockFprog for seccomp syscall
func (f Filter) SockFprog() *syscall.SockFprog {
	b := []syscall.SockFilter(f)
	if len(b) == 0 {
		return &syscall.SockFprog{}
	}
	return &syscall.SockFprog{
		Len:    uint16(len(b)),
		Filter: &b[0],
	}
}

// Load installs the filter on every thread of the calling process.
// Loading requires either no_new_privs or CAP_SYS_ADMIN in the
// current user namespace. Empty filter is a no-op.
func (f Filter) Load() error {
	if len(f) == 0 {
		return nil
	}
	prog := f.SockFprog()
	_, _, errno := unix.RawSyscall(unix.SYS_SECCOMP, setModeFilter, filterFlagTSync, uintptr(unsafe.Pointer(prog)))
	if errno != 0 {
		return fmt.Errorf("seccomp: load filter: %w", errno)
	}
	return nil
}

// SetNoNewPrivs sets no_new_privs for the calling thread.
func SetNoNewPrivs() error {
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("seccomp: set no_new_privs: %w", err)
	}
	return nil
}
