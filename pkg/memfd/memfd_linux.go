// Package memfd creates anonymous memory backed files, used to execute a
// sealed copy of a binary that nobody can modify afterwards.
package memfd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const createFlags = unix.MFD_CLOEXEC | unix.MFD_ALLOW_SEALING

// ReadOnlySeals forbid writes, resizing and further sealing
const ReadOnlySeals = unix.F_SEAL_SEAL | unix.F_SEAL_SHRINK | unix.F_SEAL_GROW | unix.F_SEAL_WRITE

// New creates an empty close-on-exec memfd, caller need to close the file
func New(name string) (*os.File, error) {
	fd, err := unix.MemfdCreate(name, createFlags)
	if err != nil {
		return nil, &os.PathError{Op: "memfd_create", Path: name, Err: err}
	}
	return os.NewFile(uintptr(fd), "memfd:"+name), nil
}

// Seal makes f read-only for every holder
func Seal(f *os.File) error {
	if _, err := unix.FcntlInt(f.Fd(), unix.F_ADD_SEALS, ReadOnlySeals); err != nil {
		return &os.PathError{Op: "seal", Path: f.Name(), Err: err}
	}
	return nil
}

// Seals returns the seals set on f
func Seals(f *os.File) (int, error) {
	seals, err := unix.FcntlInt(f.Fd(), unix.F_GET_SEALS, 0)
	if err != nil {
		return 0, &os.PathError{Op: "get seals", Path: f.Name(), Err: err}
	}
	return seals, nil
}

// Copy reads r into a sealed memfd positioned at the start
func Copy(name string, r io.Reader) (f *os.File, err error) {
	if f, err = New(name); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			f.Close()
		}
	}()
	if _, err = f.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("memfd: copy %s: %w", name, err)
	}
	if err = Seal(f); err != nil {
		return nil, err
	}
	if _, err = f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return f, nil
}

// CopyFile is Copy of the file at path, named after it
func CopyFile(path string) (*os.File, error) {
	src, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return Copy(filepath.Base(path), src)
}
