package mount

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrInvalidDescriptor is returned when a descriptor cannot be compiled
var ErrInvalidDescriptor = errors.New("invalid mount descriptor")

// overlay options larger than a page are rejected by the kernel
const maxMountData = 4095

// Descriptor is one entry of a Plan. The set of variants is closed:
// Overlay, Bind, Proc, Sysfs, Tmpfs, DevPts, Mqueue, Cgroup2 and BaseMounts.
type Descriptor interface {
	fmt.Stringer
	compile(c *compiler) error
}

// Overlay merges read-only LowerDirs, listed from highest to lowest
// priority, with the writable UpperDir. WorkDir must be an empty
// directory on the same filesystem as UpperDir. Empty Target mounts
// the overlay on the root itself.
type Overlay struct {
	LowerDirs []string
	UpperDir  string
	WorkDir   string
	Target    string
	// Options are appended to the mount data (e.g. "userxattr")
	Options []string
}

// Bind mounts Source at Target. Empty Target binds onto the root.
type Bind struct {
	Source   string
	Target   string
	ReadOnly bool
	// Recursive also binds submounts of Source
	Recursive bool
}

// Proc mounts a fresh procfs at /proc
type Proc struct {
	ReadOnly bool
}

// Sysfs mounts a read-only sysfs at /sys
type Sysfs struct{}

// Tmpfs mounts a tmpfs at Target, SizeLimit 0 means the kernel default
type Tmpfs struct {
	Target    string
	SizeLimit uint64
	Mode      uint32
}

// DevPts mounts a new devpts instance at /dev/pts
type DevPts struct{}

// Mqueue mounts the POSIX message queue filesystem at /dev/mqueue
type Mqueue struct{}

// Cgroup2 mounts the container's cgroup namespace view at /sys/fs/cgroup
type Cgroup2 struct{}

// BaseMounts expands to proc, read-only sysfs, a tmpfs /dev populated with
// minimal device nodes and symlinks, devpts and shm, in this order.
type BaseMounts struct {
	// PrivateNetwork means a network namespace is created so sysfs can be
	// mounted fresh, otherwise the host /sys is bound read-only
	PrivateNetwork bool
	// Mqueue adds /dev/mqueue
	Mqueue bool
	// Cgroup adds /sys/fs/cgroup
	Cgroup bool
}

var defaultDevices = []string{"null", "zero", "full", "random", "urandom", "tty"}

var defaultSymLinks = []Mount{
	{Source: "/proc/self/fd", Target: "dev/fd", Symlink: true},
	{Source: "/proc/self/fd/0", Target: "dev/stdin", Symlink: true},
	{Source: "/proc/self/fd/1", Target: "dev/stdout", Symlink: true},
	{Source: "/proc/self/fd/2", Target: "dev/stderr", Symlink: true},
	{Source: "pts/ptmx", Target: "dev/ptmx", Symlink: true},
}

type compiler struct {
	mounts []Mount
}

func (c *compiler) add(m ...Mount) {
	c.mounts = append(c.mounts, m...)
}

func (o Overlay) compile(c *compiler) error {
	if len(o.LowerDirs) == 0 {
		return fmt.Errorf("%w: overlay without lower dirs", ErrInvalidDescriptor)
	}
	if (o.UpperDir == "") != (o.WorkDir == "") {
		return fmt.Errorf("%w: overlay upper and work dirs must be set together", ErrInvalidDescriptor)
	}
	data, err := o.Data()
	if err != nil {
		return err
	}
	flags := uintptr(0)
	if o.UpperDir == "" {
		flags = unix.MS_RDONLY
	}
	c.add(Mount{Source: "overlay", Target: cleanTarget(o.Target), FsType: "overlay", Data: data, Flags: flags})
	return nil
}

// Data formats overlay mount options, first lower dir has the highest priority
func (o Overlay) Data() (string, error) {
	for _, p := range append(append([]string(nil), o.LowerDirs...), o.UpperDir, o.WorkDir) {
		if strings.ContainsAny(p, ":,") {
			return "", fmt.Errorf("%w: overlay path %q contains ':' or ','", ErrInvalidDescriptor, p)
		}
	}
	for _, p := range o.LowerDirs {
		if !filepath.IsAbs(p) {
			return "", fmt.Errorf("%w: overlay lower dir %q is not absolute", ErrInvalidDescriptor, p)
		}
	}
	opts := []string{"lowerdir=" + strings.Join(o.LowerDirs, ":")}
	if o.UpperDir != "" {
		opts = append(opts, "upperdir="+o.UpperDir, "workdir="+o.WorkDir)
	}
	opts = append(opts, o.Options...)
	data := strings.Join(opts, ",")
	if len(data) > maxMountData {
		return "", fmt.Errorf("%w: overlay options exceed %d bytes", ErrInvalidDescriptor, maxMountData)
	}
	return data, nil
}

func (o Overlay) String() string {
	return fmt.Sprintf("overlay[%s<-%s]", targetName(cleanTarget(o.Target)), strings.Join(o.LowerDirs, ":"))
}

func (b Bind) compile(c *compiler) error {
	if b.Source == "" {
		return fmt.Errorf("%w: bind without source", ErrInvalidDescriptor)
	}
	var flags uintptr = bind
	if b.ReadOnly {
		flags = roBind
	}
	if b.Recursive {
		flags |= unix.MS_REC
	}
	c.add(Mount{Source: b.Source, Target: cleanTarget(b.Target), Flags: flags})
	return nil
}

func (b Bind) String() string {
	return Mount{Source: b.Source, Target: cleanTarget(b.Target), Flags: bindFlags(b.ReadOnly)}.String()
}

func (p Proc) compile(c *compiler) error {
	flags := uintptr(noExec)
	if p.ReadOnly {
		flags |= unix.MS_RDONLY
	}
	c.add(Mount{Source: "proc", Target: "proc", FsType: "proc", Flags: flags})
	return nil
}

func (p Proc) String() string {
	if p.ReadOnly {
		return "proc[ro]"
	}
	return "proc[rw]"
}

func (Sysfs) compile(c *compiler) error {
	c.add(Mount{Source: "sysfs", Target: "sys", FsType: "sysfs", Flags: noExec | unix.MS_RDONLY})
	return nil
}

func (Sysfs) String() string {
	return "sysfs[ro]"
}

func (t Tmpfs) compile(c *compiler) error {
	if cleanTarget(t.Target) == "" {
		return fmt.Errorf("%w: tmpfs without target", ErrInvalidDescriptor)
	}
	c.add(Mount{Source: "tmpfs", Target: cleanTarget(t.Target), FsType: "tmpfs", Flags: mFlag, Data: t.data()})
	return nil
}

func (t Tmpfs) data() string {
	var opts []string
	if t.Mode != 0 {
		opts = append(opts, "mode="+strconv.FormatUint(uint64(t.Mode), 8))
	}
	if t.SizeLimit > 0 {
		opts = append(opts, "size="+strconv.FormatUint(t.SizeLimit, 10))
	}
	return strings.Join(opts, ",")
}

func (t Tmpfs) String() string {
	return "tmpfs[" + targetName(cleanTarget(t.Target)) + "]"
}

func (DevPts) compile(c *compiler) error {
	c.add(Mount{
		Source: "devpts",
		Target: "dev/pts",
		FsType: "devpts",
		Flags:  unix.MS_NOSUID | unix.MS_NOEXEC,
		Data:   "newinstance,ptmxmode=0666,mode=0620",
	})
	return nil
}

func (DevPts) String() string {
	return "devpts[/dev/pts]"
}

func (Mqueue) compile(c *compiler) error {
	c.add(Mount{Source: "mqueue", Target: "dev/mqueue", FsType: "mqueue", Flags: noExec})
	return nil
}

func (Mqueue) String() string {
	return "mqueue[/dev/mqueue]"
}

func (Cgroup2) compile(c *compiler) error {
	c.add(Mount{Source: "cgroup2", Target: "sys/fs/cgroup", FsType: "cgroup2", Flags: noExec | unix.MS_RDONLY})
	return nil
}

func (Cgroup2) String() string {
	return "cgroup2[/sys/fs/cgroup]"
}

func (b BaseMounts) compile(c *compiler) error {
	_ = Proc{}.compile(c)
	if b.PrivateNetwork {
		_ = Sysfs{}.compile(c)
	} else {
		// sysfs can only be mounted by the owner of the network namespace
		c.add(Mount{Source: "/sys", Target: "sys", Flags: roBind | unix.MS_REC | noExec})
	}
	c.add(Mount{
		Source: "tmpfs",
		Target: "dev",
		FsType: "tmpfs",
		Flags:  unix.MS_NOSUID | unix.MS_STRICTATIME,
		Data:   "mode=755,size=65536k",
	})
	for _, d := range defaultDevices {
		c.add(Mount{Source: "/dev/" + d, Target: "dev/" + d, Flags: unix.MS_BIND, File: true})
	}
	c.add(defaultSymLinks...)
	_ = DevPts{}.compile(c)
	c.add(Mount{
		Source: "shm",
		Target: "dev/shm",
		FsType: "tmpfs",
		Flags:  noExec,
		Data:   "mode=1777,size=65536k",
	})
	if b.Mqueue {
		_ = Mqueue{}.compile(c)
	}
	if b.Cgroup {
		_ = Cgroup2{}.compile(c)
	}
	return nil
}

func (b BaseMounts) String() string {
	return "base[proc,sys,dev,pts,shm]"
}

func bindFlags(readOnly bool) uintptr {
	if readOnly {
		return roBind
	}
	return bind
}

// cleanTarget makes target relative to the root, "" is the root itself
func cleanTarget(target string) string {
	t := strings.TrimPrefix(filepath.Clean("/"+target), "/")
	return t
}

func targetName(target string) string {
	return "/" + target
}
