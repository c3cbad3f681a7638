package container

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/udovin/sbox/pkg/idmap"
	"github.com/udovin/sbox/pkg/pipe"
)

// stderr kept for the error message
const maxStderr = 4 << 10

// RunAsRoot runs a host command as root of a new user namespace with the
// given mapping, e.g. to remove files owned by mapped sub-ids. Nil w
// means idmap.DefaultWriter. It waits for the command and fails unless
// it exits with code 0.
func RunAsRoot(m idmap.Mapping, w idmap.Writer, args ...string) error {
	if len(args) == 0 {
		return &ConfigError{Field: "Args", Reason: "command required"}
	}
	if !m.HasRoot() {
		return &ConfigError{Field: "Mapping", Reason: m.String(), Err: idmap.ErrNoRoot}
	}
	if w == nil {
		w = idmap.DefaultWriter(m)
	}
	dir, err := os.Getwd()
	if err != nil {
		return err
	}
	stderr, err := pipe.NewBuffer(maxStderr)
	if err != nil {
		return err
	}
	defer stderr.W.Close()
	l := &launcher{
		InitPath:   selfExe,
		CloneFlags: uintptr(baseCloneFlags),
		Mapping:    m,
		MapWriter:  w,
		Request: initRequest{
			Args: args,
			Env:  defaultEnv,
			Dir:  dir,
		},
		Stderr: stderr.W,
		Log:    logrus.WithField("run_as_root", args[0]),
	}
	p, err := l.launch()
	if err != nil {
		return err
	}
	status, err := p.Wait(WaitForever)
	if err != nil {
		return err
	}
	stderr.Wait()
	if !status.Success() {
		return fmt.Errorf("%s %v: %s", strings.Join(args, " "), status, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}
