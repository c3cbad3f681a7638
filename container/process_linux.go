package container

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// WaitForever makes Wait block until the process exits
const WaitForever time.Duration = -1

// ExitKind classifies the result of Wait
type ExitKind int

// Exit kinds
const (
	Exited ExitKind = iota + 1
	Signaled
	TimedOut
)

func (k ExitKind) String() string {
	switch k {
	case Exited:
		return "exited"
	case Signaled:
		return "signaled"
	case TimedOut:
		return "timed out"
	default:
		return fmt.Sprintf("exit(%d)", int(k))
	}
}

// ExitStatus is the result of Wait
type ExitStatus struct {
	Kind   ExitKind
	Code   uint8
	Signal syscall.Signal
}

func (s ExitStatus) String() string {
	switch s.Kind {
	case Exited:
		return fmt.Sprintf("exited(%d)", s.Code)
	case Signaled:
		return fmt.Sprintf("signaled(%d: %v)", int(s.Signal), s.Signal)
	default:
		return s.Kind.String()
	}
}

// Success reports whether the process exited with code 0
func (s ExitStatus) Success() bool {
	return s.Kind == Exited && s.Code == 0
}

func convertStatus(ws syscall.WaitStatus) ExitStatus {
	switch {
	case ws.Signaled():
		return ExitStatus{Kind: Signaled, Signal: ws.Signal()}
	default:
		return ExitStatus{Kind: Exited, Code: uint8(ws.ExitStatus())}
	}
}

// Process is the init process of a started container
type Process struct {
	cmd *exec.Cmd
	log logrus.FieldLogger

	mu    sync.Mutex
	stage Stage

	done   chan struct{}
	status ExitStatus
	err    error
}

func newProcess(cmd *exec.Cmd, log logrus.FieldLogger) *Process {
	p := &Process{
		cmd:   cmd,
		log:   log,
		stage: StageExecuting,
		done:  make(chan struct{}),
	}
	go p.wait()
	return p
}

func (p *Process) wait() {
	defer close(p.done)
	err := p.cmd.Wait()
	state := p.cmd.ProcessState
	if state == nil {
		p.setStage(StageFailed)
		p.err = err
		return
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		p.setStage(StageFailed)
		p.err = fmt.Errorf("unexpected wait status %T", state.Sys())
		return
	}
	p.status = convertStatus(ws)
	if p.status.Kind == Signaled {
		p.setStage(StageSignaled)
	} else {
		p.setStage(StageExited)
	}
	// a non-zero exit is reported by the status, only I/O copy failures remain
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.err = err
	}
	p.log.WithField("status", p.status.String()).Debug("process finished")
}

func (p *Process) setStage(s Stage) {
	p.mu.Lock()
	p.stage = s
	p.mu.Unlock()
}

// Pid returns the host pid
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Stage returns the current state
func (p *Process) Stage() Stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stage
}

// Done is closed once the process exited and was reaped
func (p *Process) Done() <-chan struct{} {
	return p.done
}

func (p *Process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait waits at most timeout for the process to exit, WaitForever waits
// without bound. TimedOut leaves the process running and Wait may be
// called again. Wait may be called from multiple goroutines.
func (p *Process) Wait(timeout time.Duration) (ExitStatus, error) {
	if p.exited() {
		return p.status, p.err
	}
	if timeout == 0 {
		return ExitStatus{Kind: TimedOut}, nil
	}
	if timeout < 0 {
		<-p.done
		return p.status, p.err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return p.status, p.err
	case <-timer.C:
		return ExitStatus{Kind: TimedOut}, nil
	}
}

// Signal sends sig to the process, os.ErrProcessDone once it exited
func (p *Process) Signal(sig os.Signal) error {
	if p.exited() {
		return os.ErrProcessDone
	}
	return p.cmd.Process.Signal(sig)
}

// Kill sends SIGKILL, which the init of a pid namespace cannot ignore when
// sent from the host
func (p *Process) Kill() error {
	return p.Signal(syscall.SIGKILL)
}

// Rusage returns resource usage of the exited process
func (p *Process) Rusage() (*syscall.Rusage, bool) {
	if !p.exited() || p.cmd.ProcessState == nil {
		return nil, false
	}
	ru, ok := p.cmd.ProcessState.SysUsage().(*syscall.Rusage)
	return ru, ok
}
