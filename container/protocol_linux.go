package container

import (
	"errors"
	"syscall"

	"github.com/udovin/sbox/pkg/mount"
	"github.com/udovin/sbox/pkg/rlimit"
	"github.com/udovin/sbox/pkg/seccomp"
)

// syncMsg tells the child that the host finished a stage
type syncMsg struct {
	Stage Stage
}

// initRequest is everything the child needs after the id maps are written
type initRequest struct {
	// Root is the host path of the new root, empty keeps the host root
	Root         string
	Mounts       []mount.Mount
	MaskPaths    []string
	ReadOnlyRoot bool
	Hostname     string

	Args []string
	Env  []string
	Dir  string
	UID  uint32
	GID  uint32

	RLimits    []rlimit.RLimit
	Seccomp    seccomp.Filter
	NoNewPrivs bool

	CgroupNamespace bool
}

// reply is sent by the child once mounts are done or on failure
type reply struct {
	Stage Stage
	Error *errorReply
}

type errorReply struct {
	Op    string
	Index int
	Errno syscall.Errno
	Msg   string
}

// stageError is a failure inside the child before it can reply
type stageError struct {
	stage Stage
	op    string
	index int
	err   error
}

func (e *stageError) Error() string {
	return e.op + ": " + e.err.Error()
}

func (e *stageError) Unwrap() error {
	return e.err
}

func failAt(s Stage, op string, err error) error {
	return &stageError{stage: s, op: op, index: -1, err: err}
}

func (e *stageError) reply() reply {
	r := &errorReply{Op: e.op, Index: e.index, Msg: e.err.Error()}
	errors.As(e.err, &r.Errno)
	return reply{Stage: e.stage, Error: r}
}

func (r *errorReply) childError() *ChildError {
	return &ChildError{Op: r.Op, Index: r.Index, Errno: r.Errno, Msg: r.Msg}
}
