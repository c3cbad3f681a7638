package cgroup

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyExists is returned by Create when the node is present.
	ErrAlreadyExists = errors.New("cgroup already exists")
	// ErrNotExist is returned when the node was removed or never created.
	ErrNotExist = errors.New("cgroup does not exist")
	// ErrUnsupportedController is returned when a limit needs a controller
	// that is not enabled for the node.
	ErrUnsupportedController = errors.New("cgroup controller is not enabled")
	// ErrNotEmpty is returned by Remove when live processes remain after
	// all retries.
	ErrNotEmpty = errors.New("cgroup is not empty")
	// ErrNotCgroup2 is returned when the root is not on a cgroup2 mount.
	ErrNotCgroup2 = errors.New("not a cgroup2 filesystem")
)

// Error records the failed operation and node path.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("cgroup %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Path: path, Err: err}
}
