package mount

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// DefaultMaskPaths hides kernel interfaces a container should not read
var DefaultMaskPaths = []string{
	"/proc/acpi",
	"/proc/asound",
	"/proc/kcore",
	"/proc/keys",
	"/proc/latency_stats",
	"/proc/timer_list",
	"/proc/timer_stats",
	"/proc/sched_debug",
	"/proc/scsi",
	"/sys/firmware",
}

// MaskPaths hides each path of the current root, files are covered with
// /dev/null and directories with an empty read-only tmpfs. Missing paths
// are skipped.
func MaskPaths(paths ...string) error {
	for _, p := range paths {
		if err := maskPath(p, devNull); err != nil {
			return &os.PathError{Op: "mask", Path: p, Err: err}
		}
	}
	return nil
}

const devNull = "/dev/null"

func maskPath(path, null string) error {
	fi, err := os.Lstat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return err
	case fi.IsDir():
		return unix.Mount("tmpfs", path, "tmpfs", unix.MS_RDONLY, "")
	}
	if _, err := os.Stat(null); err != nil {
		return err
	}
	return unix.Mount(null, path, "", unix.MS_BIND, "")
}

// RemountReadOnly makes the mount at path read-only, keeping the flags
// locked by a user namespace
func RemountReadOnly(path string) error {
	if err := remountReadOnly(path, 0); err != nil {
		return &os.PathError{Op: "remount-ro", Path: path, Err: err}
	}
	return nil
}
