package container

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/udovin/sbox/pkg/idmap"
	"github.com/udovin/sbox/pkg/mount"
	"github.com/udovin/sbox/pkg/unixsocket"
)

// launcher drives the host side of the launch handshake
type launcher struct {
	InitPath string
	// InitFile is executed instead of InitPath when set
	InitFile   *os.File
	CloneFlags uintptr
	Mapping    idmap.Mapping
	MapWriter  idmap.Writer
	Request    initRequest
	// Attach puts pid into the cgroup, nil skips the cgroup stage
	Attach func(pid int) error

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Log logrus.FieldLogger
}

// launch starts the init process and returns once it executed the command
func (l *launcher) launch() (*Process, error) {
	ins, outs, err := unixsocket.NewSocketPair()
	if err != nil {
		return nil, newLaunchError(StageNamespacesCreated, err)
	}
	defer ins.Close()
	outf, err := outs.File()
	outs.Close()
	if err != nil {
		return nil, newLaunchError(StageNamespacesCreated, err)
	}
	defer outf.Close()
	if err := ins.SetPassCred(true); err != nil {
		return nil, newLaunchError(StageNamespacesCreated, err)
	}

	cmd := &exec.Cmd{
		Path:       l.InitPath,
		Args:       []string{l.InitPath, initArg, phaseMap},
		Env:        []string{},
		Stdin:      l.Stdin,
		Stdout:     l.Stdout,
		Stderr:     l.Stderr,
		ExtraFiles: []*os.File{outf},
		SysProcAttr: &syscall.SysProcAttr{
			Cloneflags: l.CloneFlags,
		},
	}
	if l.InitFile != nil {
		// the child closes it on exec of the command
		cmd.ExtraFiles = append(cmd.ExtraFiles, l.InitFile)
		cmd.Path = fmt.Sprintf("/proc/self/fd/%d", initFd)
	}
	if err := cmd.Start(); err != nil {
		return nil, newLaunchError(StageNamespacesCreated, err)
	}
	outf.Close()

	h := &handshake{launcher: l, cmd: cmd, socket: newSocket(ins), stage: StageNamespacesCreated}
	if err := h.run(); err != nil {
		h.abort()
		return nil, err
	}
	return newProcess(cmd, l.Log.WithField("pid", cmd.Process.Pid)), nil
}

type handshake struct {
	*launcher
	cmd    *exec.Cmd
	socket *socket
	stage  Stage
}

func (h *handshake) run() error {
	pid := h.cmd.Process.Pid
	log := h.Log.WithField("pid", pid)
	log.Debug("namespaces created")

	if err := h.MapWriter.WriteMapping(pid, h.Mapping); err != nil {
		return h.fail(err)
	}
	if err := h.socket.SendMsg(syncMsg{Stage: StageIDMapped}, nil); err != nil {
		return h.fail(err)
	}
	if err := h.socket.SendMsg(h.Request, nil); err != nil {
		return h.fail(err)
	}
	h.stage = StageIDMapped
	log.Debug("id mapped")

	r, err := h.recv(pid)
	if err != nil {
		return h.fail(err)
	}
	if r.Error != nil {
		return h.childFailed(r)
	}
	if r.Stage != StageMountsApplied {
		return h.fail(fmt.Errorf("unexpected reply %v", r.Stage))
	}
	h.stage = StageMountsApplied
	log.Debug("mounts applied")

	if h.Attach != nil {
		if err := h.Attach(pid); err != nil {
			return h.fail(err)
		}
	}
	if err := h.socket.SendMsg(syncMsg{Stage: StageCgroupJoined}, nil); err != nil {
		return h.fail(err)
	}
	h.stage = StageCgroupJoined
	log.Debug("cgroup joined")

	// the socket is close-on-exec in the child
	r, err = h.recv(pid)
	switch {
	case errors.Is(err, io.EOF):
		log.Debug("executing")
		return nil
	case err != nil:
		return h.fail(err)
	case r.Error != nil:
		return h.childFailed(r)
	default:
		return h.fail(fmt.Errorf("unexpected reply %v", r.Stage))
	}
}

// fail reports a host side failure while completing the stage after h.stage
func (h *handshake) fail(err error) error {
	return newLaunchError(h.stage+1, err)
}

func (h *handshake) childFailed(r reply) error {
	ce := r.Error.childError()
	var err error = ce
	if ce.Index >= 0 && ce.Index < len(h.Request.Mounts) {
		err = &mount.Error{Index: ce.Index, Mount: h.Request.Mounts[ce.Index], Op: ce.Op, Err: ce}
	}
	return newLaunchError(r.Stage, err)
}

func (h *handshake) recv(pid int) (reply, error) {
	var r reply
	msg, err := h.socket.RecvMsg(&r)
	if err != nil {
		return r, err
	}
	// only the init process may talk on the socket
	if msg.Cred == nil || int(msg.Cred.Pid) != pid {
		return r, fmt.Errorf("reply from unexpected sender")
	}
	return r, nil
}

func (h *handshake) abort() {
	h.cmd.Process.Kill()
	h.cmd.Wait()
}
