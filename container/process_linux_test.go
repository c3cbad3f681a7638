package container

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/udovin/sbox/pkg/mount"
	"golang.org/x/sys/unix"
)

// startHost runs a command on the host to exercise Process without namespaces
func startHost(t *testing.T, args ...string) *Process {
	t.Helper()
	cmd := exec.Command(args[0], args[1:]...)
	require.NoError(t, cmd.Start())
	return newProcess(cmd, logrus.StandardLogger())
}

func TestProcessWaitStatus(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want ExitStatus
	}{
		{"True", []string{"true"}, ExitStatus{Kind: Exited, Code: 0}},
		{"False", []string{"false"}, ExitStatus{Kind: Exited, Code: 1}},
		{"Code", []string{"sh", "-c", "exit 42"}, ExitStatus{Kind: Exited, Code: 42}},
		{"Kill", []string{"sh", "-c", "kill -9 $$"}, ExitStatus{Kind: Signaled, Signal: syscall.SIGKILL}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := startHost(t, tt.args...)
			status, err := p.Wait(WaitForever)
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
			if tt.want.Kind == Signaled {
				assert.Equal(t, StageSignaled, p.Stage())
			} else {
				assert.Equal(t, StageExited, p.Stage())
			}
		})
	}
}

func TestProcessWaitTimeout(t *testing.T) {
	p := startHost(t, "sleep", "0.3")
	status, err := p.Wait(0)
	require.NoError(t, err)
	assert.Equal(t, TimedOut, status.Kind)
	assert.Equal(t, StageExecuting, p.Stage())

	status, err = p.Wait(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, TimedOut, status.Kind)

	status, err = p.Wait(WaitForever)
	require.NoError(t, err)
	assert.True(t, status.Success())

	// result is kept for later calls
	status, err = p.Wait(0)
	require.NoError(t, err)
	assert.True(t, status.Success())
	_, ok := p.Rusage()
	assert.True(t, ok)
}

func TestProcessConcurrentWait(t *testing.T) {
	p := startHost(t, "sleep", "0.1")
	var wg sync.WaitGroup
	results := make([]ExitStatus, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = p.Wait(WaitForever)
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		assert.True(t, r.Success())
	}
}

func TestProcessSignal(t *testing.T) {
	p := startHost(t, "sleep", "10")
	require.NoError(t, p.Kill())
	status, err := p.Wait(WaitForever)
	require.NoError(t, err)
	assert.Equal(t, ExitStatus{Kind: Signaled, Signal: syscall.SIGKILL}, status)
	assert.ErrorIs(t, p.Signal(syscall.SIGTERM), os.ErrProcessDone)
}

func TestConvertStatus(t *testing.T) {
	assert.Equal(t, ExitStatus{Kind: Exited, Code: 3}, convertStatus(syscall.WaitStatus(3<<8)))
	assert.Equal(t, ExitStatus{Kind: Signaled, Signal: syscall.SIGTERM}, convertStatus(syscall.WaitStatus(syscall.SIGTERM)))
	assert.Equal(t, "exited(3)", ExitStatus{Kind: Exited, Code: 3}.String())
	assert.Equal(t, "timed out", ExitStatus{Kind: TimedOut}.String())
}

func TestStageString(t *testing.T) {
	assert.Equal(t, "id mapped", StageIDMapped.String())
	assert.Equal(t, "stage(42)", Stage(42).String())
	assert.False(t, StageExecuting.Terminal())
	assert.True(t, StageSignaled.Terminal())
}

func TestLaunchErrorKind(t *testing.T) {
	tests := []struct {
		stage Stage
		err   error
		kind  error
	}{
		{StageNamespacesCreated, syscall.EPERM, ErrNamespace},
		{StageIDMapped, syscall.EPERM, ErrIDMap},
		{StageRootSwitched, syscall.EINVAL, ErrMount},
		{StageCgroupJoined, syscall.ENOENT, ErrCgroup},
		{StageCgroupJoined, &ChildError{Op: "mount", Index: 3}, ErrMount},
		{StageExecuting, &ChildError{Op: "lookup", Index: -1, Errno: syscall.ENOENT}, ErrExec},
	}
	for _, tt := range tests {
		err := newLaunchError(tt.stage, tt.err)
		assert.ErrorIs(t, err, tt.kind, "%v", err)
		assert.ErrorIs(t, err, tt.err)
	}
	err := newLaunchError(StageExecuting, &ChildError{Op: "lookup", Index: -1, Errno: syscall.ENOENT})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStageErrorReply(t *testing.T) {
	se := &stageError{stage: StageMountsApplied, op: "mount", index: 2, err: &os.PathError{Op: "mount", Path: "/x", Err: syscall.EACCES}}
	r := se.reply()
	require.NotNil(t, r.Error)
	assert.Equal(t, StageMountsApplied, r.Stage)
	assert.Equal(t, syscall.EACCES, r.Error.Errno)
	assert.Equal(t, 2, r.Error.childError().Index)
}

func TestHandshakeChildFailed(t *testing.T) {
	h := &handshake{launcher: &launcher{Request: initRequest{Mounts: []mount.Mount{
		{Source: "/a", Target: ""},
		{Source: "proc", Target: "proc", FsType: "proc"},
	}}}}
	err := h.childFailed(reply{Stage: StageMountsApplied, Error: &errorReply{Op: "mount", Index: 1, Errno: syscall.EPERM, Msg: "operation not permitted"}})
	var me *mount.Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, 1, me.Index)
	assert.Equal(t, "proc", me.Mount.FsType)
	assert.ErrorIs(t, err, ErrMount)
	assert.ErrorIs(t, err, syscall.EPERM)

	err = h.childFailed(reply{Stage: StageExecuting, Error: &errorReply{Op: "execve", Index: -1, Errno: syscall.EACCES}})
	assert.ErrorIs(t, err, ErrExec)
	assert.False(t, errors.As(err, new(*mount.Error)))
}

func TestDeferCgroupMounts(t *testing.T) {
	mounts := []mount.Mount{
		{FsType: "proc", Target: "proc"},
		{FsType: "cgroup2", Target: "sys/fs/cgroup"},
		{FsType: "tmpfs", Target: "tmp"},
	}
	now, nowIdx, later, laterIdx := deferCgroupMounts(mounts, 1)
	assert.Len(t, now, 2)
	assert.Equal(t, []int{1, 3}, nowIdx)
	assert.Len(t, later, 1)
	assert.Equal(t, []int{2}, laterIdx)
	assert.True(t, hasCgroupMount(mounts))

	err := mountFailed(StageMountsApplied, &mount.Error{Index: 1, Op: "mount", Err: syscall.ENODEV}, nowIdx)
	var se *stageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 3, se.index)
	assert.Equal(t, []int{2, 3, 4}, indexes(2, 3))
}

func TestLookPath(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "tool")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"), 0755))
	plain := filepath.Join(dir, "data")
	require.NoError(t, os.WriteFile(plain, nil, 0644))

	p, err := lookPath("tool", []string{"PATH=/nonexistent:" + dir})
	require.NoError(t, err)
	assert.Equal(t, exe, p)

	p, err = lookPath(exe, nil)
	require.NoError(t, err)
	assert.Equal(t, exe, p)

	_, err = lookPath("missing-tool", []string{"PATH=" + dir})
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = lookPath("data", []string{"PATH=" + dir})
	assert.ErrorIs(t, err, os.ErrPermission)

	assert.Equal(t, []string{"/a", "/b"}, findPath([]string{"PATH=/x", "PATH=/a:/b"}))
	assert.NotEmpty(t, findPath(nil))
}

func TestInheritFd(t *testing.T) {
	cloexec := func(fd int) bool {
		flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
		require.NoError(t, err)
		return flags&unix.FD_CLOEXEC != 0
	}

	// the duplicate already sits at the wanted fd
	f, err := os.Open(os.DevNull)
	require.NoError(t, err)
	defer f.Close()
	fd := int(f.Fd())
	require.True(t, cloexec(fd))
	require.NoError(t, inheritFd(f, fd))
	assert.False(t, cloexec(fd))

	// the duplicate is moved to the wanted fd
	g, err := os.Open(os.DevNull)
	require.NoError(t, err)
	target, err := unix.FcntlInt(g.Fd(), unix.F_DUPFD_CLOEXEC, 100)
	require.NoError(t, err)
	require.NoError(t, inheritFd(g, target))
	defer unix.Close(target)
	assert.False(t, cloexec(target))
}
