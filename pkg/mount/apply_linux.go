package mount

import (
	"errors"
	"os"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/moby/sys/mountinfo"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// statfs flags of the mount flags that a remount inside a user namespace
// must preserve
var lockedFlags = []struct {
	st uint64
	ms uintptr
}{
	{unix.ST_NOSUID, unix.MS_NOSUID},
	{unix.ST_NODEV, unix.MS_NODEV},
	{unix.ST_NOEXEC, unix.MS_NOEXEC},
	{unix.ST_NOATIME, unix.MS_NOATIME},
	{unix.ST_NODIRATIME, unix.MS_NODIRATIME},
	{unix.ST_RELATIME, unix.MS_RELATIME},
}

func lockedMountFlags(st uint64) uintptr {
	var flags uintptr
	for _, f := range lockedFlags {
		if st&f.st != 0 {
			flags |= f.ms
		}
	}
	return flags
}

// Applied is a step that took effect and how to revert it
type Applied struct {
	Mount Mount
	// Path is the resolved absolute target
	Path string
	// Created lists paths created for the target, outermost first
	Created []string
	Mounted bool
}

// Apply executes steps in order relative to root. On failure the steps
// already applied are unwound in reverse order and a *Error is returned.
func Apply(root string, mounts []Mount, log logrus.FieldLogger) ([]Applied, error) {
	applied := make([]Applied, 0, len(mounts))
	for i, m := range mounts {
		a, op, err := m.apply(root)
		if err != nil {
			// the failed step may have created its target
			applied = append(applied, a)
			Unwind(applied, log)
			return nil, &Error{Index: i, Mount: m, Op: op, Err: err}
		}
		applied = append(applied, a)
	}
	return applied, nil
}

// Unwind reverts applied steps in reverse order. Failures are logged and
// the remaining steps are still attempted. The joined errors are returned.
func Unwind(applied []Applied, log logrus.FieldLogger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	var errs []error
	for i := len(applied) - 1; i >= 0; i-- {
		a := applied[i]
		if a.Mounted {
			if err := unmount(a.Path); err != nil {
				log.WithFields(logrus.Fields{"path": a.Path, "mount": a.Mount.String()}).
					WithError(err).Warn("unmount failed")
				errs = append(errs, err)
			}
		}
		for j := len(a.Created) - 1; j >= 0; j-- {
			if err := os.Remove(a.Created[j]); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.WithField("path", a.Created[j]).WithError(err).Warn("remove mount target failed")
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Resolve returns the absolute path of target inside root without
// following symlinks out of root
func Resolve(root, target string) (string, error) {
	target = cleanTarget(target)
	if target == "" {
		return root, nil
	}
	return securejoin.SecureJoin(root, target)
}

func (m Mount) apply(root string) (Applied, string, error) {
	a := Applied{Mount: m}
	if m.Symlink {
		// the link itself must not be resolved
		dir, err := Resolve(root, filepath.Dir(m.Target))
		if err != nil {
			return a, "resolve", err
		}
		if a.Created, err = mkdirAll(dir); err != nil {
			return a, "mkdir", err
		}
		a.Path = filepath.Join(dir, filepath.Base(m.Target))
		if err := os.Symlink(m.Source, a.Path); err != nil {
			return a, "symlink", err
		}
		a.Created = append(a.Created, a.Path)
		return a, "", nil
	}

	p, err := Resolve(root, m.Target)
	if err != nil {
		return a, "resolve", err
	}
	a.Path = p
	if a.Created, err = ensureMountTargetExists(m, p); err != nil {
		return a, "mkdir", err
	}
	if err := unix.Mount(m.Source, p, m.FsType, m.Flags, m.Data); err != nil {
		return a, "mount", err
	}
	a.Mounted = true
	// Read-only bind mount need to be remounted
	if m.IsBindMount() && m.IsReadOnly() {
		if err := remountReadOnly(p, m.Flags); err != nil {
			return a, "remount", err
		}
	}
	return a, "", nil
}

func remountReadOnly(p string, flags uintptr) error {
	flags &^= unix.MS_REC | unix.MS_PRIVATE
	var st unix.Statfs_t
	if err := unix.Statfs(p, &st); err == nil {
		flags |= lockedMountFlags(uint64(st.Flags))
	}
	return unix.Mount("", p, "", flags|unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY, "")
}

// ensureMountTargetExists creates the target as a directory, or as a file
// when binding a non-directory
func ensureMountTargetExists(m Mount, target string) ([]string, error) {
	file := m.File
	if m.IsBindMount() && !file {
		if fi, err := os.Stat(m.Source); err == nil && !fi.IsDir() {
			file = true
		}
	}
	if !file {
		return mkdirAll(target)
	}
	created, err := mkdirAll(filepath.Dir(target))
	if err != nil {
		return created, err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	switch {
	case errors.Is(err, os.ErrExist):
		return created, nil
	case err != nil:
		return created, err
	}
	f.Close()
	return append(created, target), nil
}

// mkdirAll is os.MkdirAll returning the created directories
func mkdirAll(dir string) ([]string, error) {
	var missing []string
	for p := dir; ; p = filepath.Dir(p) {
		if _, err := os.Lstat(p); err == nil {
			break
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		missing = append(missing, p)
		if p == filepath.Dir(p) {
			break
		}
	}
	var created []string
	for i := len(missing) - 1; i >= 0; i-- {
		if err := os.Mkdir(missing[i], 0755); err != nil && !errors.Is(err, os.ErrExist) {
			return created, err
		}
		created = append(created, missing[i])
	}
	return created, nil
}

func unmount(p string) error {
	if ok, err := mountinfo.Mounted(p); err == nil && !ok {
		return nil
	}
	err := unix.Unmount(p, unix.MNT_DETACH)
	if err == unix.EINVAL || err == unix.ENOENT {
		return nil
	}
	if err != nil {
		return &os.PathError{Op: "umount", Path: p, Err: err}
	}
	return nil
}
