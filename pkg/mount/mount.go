package mount

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const (
	bind   = unix.MS_BIND | unix.MS_NOSUID | unix.MS_PRIVATE
	roBind = bind | unix.MS_RDONLY
	mFlag  = unix.MS_NOSUID | unix.MS_NOATIME | unix.MS_NODEV
	noExec = unix.MS_NOEXEC | unix.MS_NOSUID | unix.MS_NODEV
)

// Mount is a primitive step of a compiled plan. Target is relative to the
// root the plan is applied to, an empty Target is the root itself.
type Mount struct {
	Source string  `yaml:"source,omitempty"`
	Target string  `yaml:"target"`
	FsType string  `yaml:"fstype,omitempty"`
	Data   string  `yaml:"data,omitempty"`
	Flags  uintptr `yaml:"flags,omitempty"`
	// Symlink creates Target pointing to Source instead of mounting
	Symlink bool `yaml:"symlink,omitempty"`
	// File makes a bind target a regular file (device nodes, files)
	File bool `yaml:"file,omitempty"`
}

// IsBindMount reports whether the step is a bind mount
func (m Mount) IsBindMount() bool {
	return m.Flags&unix.MS_BIND == unix.MS_BIND
}

// IsReadOnly reports whether the step mounts read-only
func (m Mount) IsReadOnly() bool {
	return m.Flags&unix.MS_RDONLY == unix.MS_RDONLY
}

// IsTmpFs reports whether the step mounts a tmpfs
func (m Mount) IsTmpFs() bool {
	return m.FsType == "tmpfs"
}

// IsOverlay reports whether the step mounts an overlay
func (m Mount) IsOverlay() bool {
	return m.FsType == "overlay"
}

func (m Mount) String() string {
	target := m.Target
	if target == "" {
		target = "/"
	}
	switch {
	case m.Symlink:
		return fmt.Sprintf("symlink[%s->%s]", target, m.Source)

	case m.IsBindMount():
		flag := "rw"
		if m.IsReadOnly() {
			flag = "ro"
		}
		return fmt.Sprintf("bind[%s:%s:%s]", m.Source, target, flag)

	case m.IsTmpFs():
		return fmt.Sprintf("tmpfs[%s]", target)

	case m.IsOverlay():
		return fmt.Sprintf("overlay[%s]", target)

	case m.FsType == "proc":
		flag := "rw"
		if m.IsReadOnly() {
			flag = "ro"
		}
		return fmt.Sprintf("proc[%s]", flag)

	default:
		return fmt.Sprintf("mount[%s,%s:%s:%x,%s]", m.FsType, m.Source, target, m.Flags, m.Data)
	}
}
