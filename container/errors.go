package container

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	// ErrInvalidConfig is the class of configuration errors
	ErrInvalidConfig = errors.New("invalid config")
	// ErrNamespace is the class of namespace creation errors
	ErrNamespace = errors.New("namespace error")
	// ErrIDMap is the class of id mapping errors
	ErrIDMap = errors.New("id map error")
	// ErrMount is the class of mount errors
	ErrMount = errors.New("mount error")
	// ErrCgroup is the class of cgroup errors
	ErrCgroup = errors.New("cgroup error")
	// ErrExec is the class of errors while preparing or executing the command
	ErrExec = errors.New("exec error")

	// ErrAlreadyRunning is returned by Start while another process is live
	ErrAlreadyRunning = errors.New("container is already running")
	// ErrStillRunning is returned by Destroy while a process is live
	ErrStillRunning = errors.New("container is still running")
	// ErrAlreadyDestroyed is returned by any operation after Destroy
	ErrAlreadyDestroyed = errors.New("container is already destroyed")
	// ErrAlreadyExists is returned by Create when the state directory exists
	ErrAlreadyExists = errors.New("container already exists")
)

// ConfigError is a rejected configuration field
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid config %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// Unwrap returns ErrInvalidConfig and the cause
func (e *ConfigError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidConfig, e.Err}
	}
	return []error{ErrInvalidConfig}
}

// LaunchError is a failure of Start. Kind is one of ErrNamespace, ErrIDMap,
// ErrMount, ErrCgroup or ErrExec, both Kind and Err match errors.Is.
type LaunchError struct {
	Stage Stage
	Kind  error
	Err   error
}

func newLaunchError(s Stage, err error) *LaunchError {
	kind := s.kind()
	var ce *ChildError
	if errors.As(err, &ce) && ce.Index >= 0 {
		kind = ErrMount
	}
	return &LaunchError{Stage: s, Kind: kind, Err: err}
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("%v (%v): %v", e.Kind, e.Stage, e.Err)
}

// Unwrap returns the kind and the cause
func (e *LaunchError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// ChildError is a failure reported by the init process
type ChildError struct {
	Op    string
	Index int // index of the failed mount step, -1 if none
	Errno syscall.Errno
	Msg   string
}

func (e *ChildError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

// Unwrap returns the errno, if any
func (e *ChildError) Unwrap() error {
	if e.Errno == 0 {
		return nil
	}
	return e.Errno
}
