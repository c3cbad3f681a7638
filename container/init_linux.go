package container

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"slices"
	"strconv"

	"github.com/moby/sys/user"
	"github.com/sirupsen/logrus"
	"github.com/udovin/sbox/pkg/mount"
	"github.com/udovin/sbox/pkg/rlimit"
	"github.com/udovin/sbox/pkg/seccomp"
	"github.com/udovin/sbox/pkg/unixsocket"
	"golang.org/x/sys/unix"
)

// Init is called for container init process. It is a noop unless the
// current process was started by Start or RunAsRoot, in which case it
// never returns: it either executes the requested command or exits.
// Call it before anything else, e.g. in an init function.
func Init() (err error) {
	// noop if self is not container init process
	if len(os.Args) < 3 || os.Args[1] != initArg {
		return nil
	}

	// exit process (with whole container) upon exit this function
	// possible reason:
	// 1. socket broken (host exit)
	// 2. failure already reported to the host
	// 3. panic
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "%s: panic: %v\n", initArg, r)
		}
		os.Exit(initFailedCode)
	}()

	// credentials, no_new_privs and the seccomp filter are per thread
	runtime.GOMAXPROCS(containerMaxProc)
	runtime.LockOSThread()

	switch os.Args[2] {
	case phaseMap:
		return initMap()
	case phaseRun:
		return initRun()
	}
	return fmt.Errorf("unknown init phase %q", os.Args[2])
}

// initMap waits for the id maps, then executes itself again: capabilities
// of the new user namespace are recomputed on exec and only kept when the
// caller is mapped to root at that moment.
func initMap() error {
	soc, err := unixsocket.NewSocket(controlFd)
	if err != nil {
		return err
	}
	s := newSocket(soc)
	var m syncMsg
	if _, err := s.RecvMsg(&m); err != nil {
		return err
	}
	if m.Stage != StageIDMapped {
		return sendFailure(s, failAt(StageIDMapped, "sync", fmt.Errorf("unexpected stage %v", m.Stage)))
	}
	if err := reexec(soc); err != nil {
		return sendFailure(s, failAt(StageIDMapped, "reexec", err))
	}
	return nil
}

func reexec(soc *unixsocket.Socket) error {
	f, err := soc.File()
	if err != nil {
		return err
	}
	if err := inheritFd(f, controlFd); err != nil {
		return err
	}
	err = unix.Exec(selfExe, []string{os.Args[0], initArg, phaseRun}, os.Environ())
	runtime.KeepAlive(f)
	return err
}

// inheritFd makes f available as fd across exec. The duplicate made by
// File is usually fd itself, since NewSocket freed it.
func inheritFd(f *os.File, fd int) error {
	if int(f.Fd()) == fd {
		_, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, 0)
		return err
	}
	if err := unix.Dup3(int(f.Fd()), fd, 0); err != nil {
		return err
	}
	return f.Close()
}

func initRun() error {
	soc, err := unixsocket.NewSocket(controlFd)
	if err != nil {
		return err
	}
	s := newSocket(soc)
	var req initRequest
	if _, err := s.RecvMsg(&req); err != nil {
		return err
	}
	return sendFailure(s, runInit(s, &req))
}

func sendFailure(s *socket, err error) error {
	var se *stageError
	if !errors.As(err, &se) {
		se = &stageError{stage: StageFailed, op: "init", index: -1, err: err}
	}
	if serr := s.SendMsg(se.reply(), nil); serr != nil {
		return errors.Join(err, serr)
	}
	return err
}

func runInit(s *socket, req *initRequest) error {
	if err := closeOnExecAllFds(); err != nil {
		return failAt(StageRootSwitched, "close-on-exec", err)
	}
	var later []mount.Mount
	var laterIdx []int
	if req.Root != "" {
		var err error
		if later, laterIdx, err = switchRoot(req); err != nil {
			return err
		}
	}
	if err := s.SendMsg(reply{Stage: StageMountsApplied}, nil); err != nil {
		return err
	}
	var m syncMsg
	if _, err := s.RecvMsg(&m); err != nil {
		return err
	}
	if m.Stage != StageCgroupJoined {
		return failAt(StageCgroupJoined, "sync", fmt.Errorf("unexpected stage %v", m.Stage))
	}
	// the namespace is rooted at the cgroup joined just now
	if req.CgroupNamespace {
		if err := unix.Unshare(unix.CLONE_NEWCGROUP); err != nil {
			return failAt(StageCgroupJoined, "unshare cgroup", err)
		}
	}
	if _, err := mount.Apply("/", later, discardLogger()); err != nil {
		return mountFailed(StageCgroupJoined, err, laterIdx)
	}
	return execProcess(req)
}

// switchRoot enters the new root, applies the plan and pivots into it.
// Cgroup mounts are returned for after the cgroup is joined.
func switchRoot(req *initRequest) ([]mount.Mount, []int, error) {
	log := discardLogger()
	if err := mount.MakePrivate(); err != nil {
		return nil, nil, failAt(StageRootSwitched, "make-private", err)
	}
	rootSteps, rest := mount.SplitRoot(req.Mounts)
	if _, err := mount.Apply(req.Root, rootSteps, log); err != nil {
		return nil, nil, mountFailed(StageRootSwitched, err, indexes(0, len(rootSteps)))
	}
	if _, err := mount.EnsureMountPoint(req.Root); err != nil {
		return nil, nil, failAt(StageRootSwitched, "bind root", err)
	}
	if err := unix.Chdir(req.Root); err != nil {
		return nil, nil, failAt(StageRootSwitched, "chdir", err)
	}

	now, nowIdx, later, laterIdx := deferCgroupMounts(rest, len(rootSteps))
	if _, err := mount.Apply(req.Root, now, log); err != nil {
		return nil, nil, mountFailed(StageMountsApplied, err, nowIdx)
	}
	if err := mount.PivotRoot(req.Root); err != nil {
		return nil, nil, failAt(StageMountsApplied, "pivot_root", err)
	}
	if err := mount.MaskPaths(req.MaskPaths...); err != nil {
		return nil, nil, failAt(StageMountsApplied, "mask", err)
	}
	if req.ReadOnlyRoot {
		if err := mount.RemountReadOnly("/"); err != nil {
			return nil, nil, failAt(StageMountsApplied, "readonly root", err)
		}
	}
	return later, laterIdx, nil
}

func execProcess(req *initRequest) error {
	if req.Hostname != "" {
		if err := unix.Sethostname([]byte(req.Hostname)); err != nil {
			return failAt(StageExecuting, "sethostname", err)
		}
	}
	if err := rlimit.Apply(req.RLimits); err != nil {
		return failAt(StageExecuting, "setrlimit", err)
	}
	if req.Dir != "" {
		if err := unix.Chdir(req.Dir); err != nil {
			return failAt(StageExecuting, "chdir", err)
		}
	}
	path, err := lookPath(req.Args[0], req.Env)
	if err != nil {
		return failAt(StageExecuting, "lookup", err)
	}
	if err := setUser(req.UID, req.GID); err != nil {
		return failAt(StageExecuting, "setuser", err)
	}
	if req.NoNewPrivs || len(req.Seccomp) > 0 {
		if err := seccomp.SetNoNewPrivs(); err != nil {
			return failAt(StageExecuting, "no_new_privs", err)
		}
	}
	if err := req.Seccomp.Load(); err != nil {
		return failAt(StageExecuting, "seccomp", err)
	}
	err = unix.Exec(path, req.Args, req.Env)
	return failAt(StageExecuting, "execve", err)
}

func setUser(uid, gid uint32) error {
	groups, err := supplementaryGroups(uid, gid)
	if err != nil {
		return err
	}
	// setgroups is denied when the gid map was written without CAP_SETGID
	if err := unix.Setgroups(groups); err != nil && !(errors.Is(err, unix.EPERM) && len(groups) == 0) {
		return fmt.Errorf("setgroups %v: %w", groups, err)
	}
	if err := unix.Setresgid(int(gid), int(gid), int(gid)); err != nil {
		return fmt.Errorf("setgid %d: %w", gid, err)
	}
	if err := unix.Setresuid(int(uid), int(uid), int(uid)); err != nil {
		return fmt.Errorf("setuid %d: %w", uid, err)
	}
	return nil
}

// supplementaryGroups lists groups of uid from /etc/passwd and /etc/group
// of the current root
func supplementaryGroups(uid, gid uint32) ([]int, error) {
	users, err := user.ParsePasswdFileFilter("/etc/passwd", func(u user.User) bool {
		return u.Uid == int(uid)
	})
	if errors.Is(err, os.ErrNotExist) || len(users) == 0 {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	name := users[0].Name
	groups, err := user.ParseGroupFileFilter("/etc/group", func(g user.Group) bool {
		return g.Gid != int(gid) && slices.Contains(g.List, name)
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	gids := make([]int, 0, len(groups))
	for _, g := range groups {
		gids = append(gids, g.Gid)
	}
	return gids, nil
}

// deferCgroupMounts splits cgroup2 steps off the plan, the index slices
// map positions back to the plan
func deferCgroupMounts(mounts []mount.Mount, offset int) (now []mount.Mount, nowIdx []int, later []mount.Mount, laterIdx []int) {
	for i, m := range mounts {
		if m.FsType == "cgroup2" {
			later = append(later, m)
			laterIdx = append(laterIdx, offset+i)
		} else {
			now = append(now, m)
			nowIdx = append(nowIdx, offset+i)
		}
	}
	return
}

func mountFailed(s Stage, err error, idx []int) error {
	var me *mount.Error
	if errors.As(err, &me) && me.Index >= 0 && me.Index < len(idx) {
		return &stageError{stage: s, op: me.Op, index: idx[me.Index], err: me.Err}
	}
	return failAt(s, "mount", err)
}

func indexes(from, n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = from + i
	}
	return idx
}

func closeOnExecAllFds() error {
	// get all fd from /proc/self/fd
	const fdPath = "/proc/self/fd"
	fds, err := os.ReadDir(fdPath)
	if err != nil {
		return err
	}
	for _, f := range fds {
		fd, err := strconv.Atoi(f.Name())
		if err != nil {
			return err
		}
		// standard descriptors are passed to the command
		if fd > 2 {
			unix.CloseOnExec(fd)
		}
	}
	return nil
}

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
