package mount

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/moby/sys/mountinfo"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// MakePrivate stops mount events of the current mount namespace from
// propagating back to the host
func MakePrivate() error {
	if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return &os.PathError{Op: "make-rprivate", Path: "/", Err: err}
	}
	return nil
}

// SplitRoot separates the leading steps that mount onto the root itself
// from the steps applied inside it
func SplitRoot(mounts []Mount) (root, rest []Mount) {
	i := 0
	for i < len(mounts) && cleanTarget(mounts[i].Target) == "" && !mounts[i].Symlink {
		i++
	}
	return mounts[:i], mounts[i:]
}

// EnsureMountPoint bind mounts root onto itself unless it is already a
// mount point, pivot_root requires the new root to be one
func EnsureMountPoint(root string) (bool, error) {
	ok, err := mountinfo.Mounted(root)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	if err := unix.Mount(root, root, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return false, &os.PathError{Op: "bind", Path: root, Err: err}
	}
	return true, nil
}

// PivotRoot makes root the new "/" and detaches the old root so nothing
// of the host tree stays reachable
func PivotRoot(root string) error {
	if err := unix.Chdir(root); err != nil {
		return &os.PathError{Op: "chdir", Path: root, Err: err}
	}
	// with new_root == put_old the old root is stacked on top of "."
	if err := unix.PivotRoot(".", "."); err != nil {
		return &os.PathError{Op: "pivot_root", Path: root, Err: err}
	}
	if err := unix.Mount("", ".", "", unix.MS_SLAVE|unix.MS_REC, ""); err != nil {
		return &os.PathError{Op: "make-rslave", Path: "old root", Err: err}
	}
	if err := unix.Unmount(".", unix.MNT_DETACH); err != nil {
		return &os.PathError{Op: "umount", Path: "old root", Err: err}
	}
	return unix.Chdir("/")
}

// MountedUnder lists mount points at or below dir, deepest first. The
// dir must be absolute with symlinks resolved.
func MountedUnder(dir string) ([]string, error) {
	infos, err := mountinfo.GetMounts(mountinfo.PrefixFilter(dir))
	if err != nil {
		return nil, err
	}
	points := make([]string, 0, len(infos))
	for _, info := range infos {
		points = append(points, info.Mountpoint)
	}
	sort.SliceStable(points, func(i, j int) bool {
		return len(points[i]) > len(points[j])
	})
	return points, nil
}

// UnmountAll detaches every mount at or below dir, deepest first.
// Failures are logged and the remaining mounts are still attempted.
func UnmountAll(dir string, log logrus.FieldLogger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	dir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return err
	}
	points, err := MountedUnder(dir)
	if err != nil {
		return err
	}
	applied := make([]Applied, 0, len(points))
	for i := len(points) - 1; i >= 0; i-- {
		applied = append(applied, Applied{Path: points[i], Mounted: true})
	}
	return Unwind(applied, log)
}
