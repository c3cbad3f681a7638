package idmap

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"golang.org/x/sys/unix"
)

var (
	setGroupsDeny  = []byte("deny")
	setGroupsAllow = []byte("allow")
)

// Writer installs a mapping into the user namespace of pid. It is called
// from the parent exactly once, before the child uses the namespace.
type Writer interface {
	WriteMapping(pid int, m Mapping) error
}

// ProcWriter writes /proc/<pid>/{uid_map,setgroups,gid_map} directly.
// Without CAP_SETUID in the parent namespace only a single mapping of the
// caller's own ids is accepted by the kernel.
type ProcWriter struct {
	// SetGroups keeps setgroups(2) usable inside the namespace
	SetGroups bool
}

// WriteMapping implements Writer
func (w ProcWriter) WriteMapping(pid int, m Mapping) error {
	pidStr := strconv.Itoa(pid)
	if err := writeFile("/proc/"+pidStr+"/uid_map", FormatTable(m.UIDs)); err != nil {
		return &Error{Op: "write uid_map", Err: err}
	}
	setGroups := setGroupsDeny
	if w.SetGroups {
		setGroups = setGroupsAllow
	}
	if err := writeFile("/proc/"+pidStr+"/setgroups", setGroups); err != nil {
		return &Error{Op: "write setgroups", Err: err}
	}
	if err := writeFile("/proc/"+pidStr+"/gid_map", FormatTable(m.GIDs)); err != nil {
		return &Error{Op: "write gid_map", Err: err}
	}
	return nil
}

// HelperWriter runs the setuid newuidmap/newgidmap helpers which check
// the request against the sub-id registry
type HelperWriter struct {
	NewUIDMap string
	NewGIDMap string
}

// WriteMapping implements Writer
func (w HelperWriter) WriteMapping(pid int, m Mapping) error {
	if err := runHelper(orDefault(w.NewUIDMap, "newuidmap"), pid, m.UIDs); err != nil {
		return &Error{Op: "newuidmap", Err: err}
	}
	if err := runHelper(orDefault(w.NewGIDMap, "newgidmap"), pid, m.GIDs); err != nil {
		return &Error{Op: "newgidmap", Err: err}
	}
	return nil
}

// DefaultWriter chooses ProcWriter when the kernel accepts a direct write
// and HelperWriter otherwise
func DefaultWriter(m Mapping) Writer {
	if os.Geteuid() == 0 {
		return ProcWriter{SetGroups: true}
	}
	if m.IsSingle(uint32(os.Geteuid()), uint32(os.Getegid())) {
		return ProcWriter{}
	}
	return HelperWriter{}
}

func runHelper(name string, pid int, t []Entry) error {
	args := append([]string{strconv.Itoa(pid)}, helperArgs(t)...)
	cmd := exec.Command(name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if msg := bytes.TrimSpace(out.Bytes()); len(msg) > 0 {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// writeFile writes file
func writeFile(path string, content []byte) error {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return err
	}
	if _, err := unix.Write(fd, content); err != nil {
		unix.Close(fd)
		return err
	}
	return unix.Close(fd)
}
