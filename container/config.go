package container

import (
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/sirupsen/logrus"
	"github.com/udovin/sbox/pkg/cgroup"
	"github.com/udovin/sbox/pkg/idmap"
	"github.com/udovin/sbox/pkg/mount"
	"github.com/udovin/sbox/pkg/rlimit"
	"github.com/udovin/sbox/pkg/seccomp"
)

const maxHostname = 64

var validID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// Config describes a container
type Config struct {
	// ID names the cgroup node and is the default hostname
	ID string
	// StateDir holds rootfs/, and upper/ and work/ for layered roots.
	// It must not exist.
	StateDir string
	// Rootfs is bind mounted as the root, exclusive with Layers
	Rootfs string
	// Layers are overlay lower directories, highest priority first
	Layers []string
	// ReadOnlyRoot remounts the root read-only after the plan is applied
	ReadOnlyRoot bool
	// Mounts are applied inside the root, in order
	Mounts mount.Plan
	// MaskPaths are hidden after pivot_root, nil means mount.DefaultMaskPaths
	MaskPaths []string

	// Mapping defaults to the caller mapped to root
	Mapping idmap.Mapping
	// MapWriter defaults to idmap.DefaultWriter
	MapWriter idmap.Writer

	// CgroupRoot is the parent cgroup v2 directory, it should hold no
	// processes so controllers can be enabled for the container node
	CgroupRoot string
	Limits     []cgroup.Limit
	// CgroupNamespace gives the process a cgroup namespace rooted at its
	// node, implied by a Cgroup2 mount
	CgroupNamespace bool

	Hostname string
	// PrivateNetwork creates a network namespace with loopback only
	PrivateNetwork bool
	// SharePID keeps the host pid namespace
	SharePID bool

	// InitPath is the executable calling Init, defaults to /proc/self/exe
	InitPath string
	// SealedInit executes a sealed in-memory copy of InitPath, so a
	// process of the container cannot modify the binary through
	// /proc/<pid>/exe
	SealedInit bool
	Logger   logrus.FieldLogger
}

// ProcessConfig describes the command run by Start
type ProcessConfig struct {
	Args []string
	// Env defaults to PATH, HOME and TERM
	Env []string
	// Dir defaults to "/"
	Dir string
	// UID and GID are container ids, both must be mapped
	UID uint32
	GID uint32

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	RLimits rlimit.RLimits
	Seccomp seccomp.Filter
	// NoNewPrivs is implied by Seccomp
	NoNewPrivs bool
}

func (c *Config) setDefaults() {
	if len(c.Mapping.UIDs) == 0 && len(c.Mapping.GIDs) == 0 {
		c.Mapping = idmap.Current()
	}
	if c.MapWriter == nil {
		c.MapWriter = idmap.DefaultWriter(c.Mapping)
	}
	if c.MaskPaths == nil {
		c.MaskPaths = mount.DefaultMaskPaths
	}
	if c.Hostname == "" {
		c.Hostname = c.ID
	}
	if c.InitPath == "" {
		c.InitPath = selfExe
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
}

// ValidateID checks that id can name a cgroup node and a directory
func ValidateID(id string) error {
	if !validID.MatchString(id) {
		return &ConfigError{Field: "ID", Reason: "must match " + validID.String()}
	}
	return nil
}

// Validate checks the config without touching the system
func (c *Config) Validate() error {
	if err := ValidateID(c.ID); err != nil {
		return err
	}
	if !filepath.IsAbs(c.StateDir) {
		return &ConfigError{Field: "StateDir", Reason: "must be absolute"}
	}
	switch {
	case c.Rootfs == "" && len(c.Layers) == 0:
		return &ConfigError{Field: "Rootfs", Reason: "rootfs or layers required"}
	case c.Rootfs != "" && len(c.Layers) > 0:
		return &ConfigError{Field: "Rootfs", Reason: "rootfs and layers are exclusive"}
	case c.Rootfs != "":
		if err := checkDir(c.Rootfs); err != nil {
			return &ConfigError{Field: "Rootfs", Reason: c.Rootfs, Err: err}
		}
	}
	for _, l := range c.Layers {
		if err := checkDir(l); err != nil {
			return &ConfigError{Field: "Layers", Reason: l, Err: err}
		}
	}
	if err := c.Mapping.Validate(); err != nil {
		return &ConfigError{Field: "Mapping", Reason: c.Mapping.String(), Err: err}
	}
	if !c.Mapping.HasRoot() {
		return &ConfigError{Field: "Mapping", Reason: c.Mapping.String(), Err: idmap.ErrNoRoot}
	}
	switch {
	case c.CgroupRoot == "":
		return &ConfigError{Field: "CgroupRoot", Reason: "required"}
	case !filepath.IsAbs(c.CgroupRoot):
		return &ConfigError{Field: "CgroupRoot", Reason: "must be absolute"}
	}
	for _, l := range c.Limits {
		if err := l.Validate(); err != nil {
			return &ConfigError{Field: "Limits", Reason: l.String(), Err: err}
		}
	}
	if len(c.Hostname) > maxHostname {
		return &ConfigError{Field: "Hostname", Reason: "too long"}
	}
	return nil
}

func (p *ProcessConfig) validate(m idmap.Mapping) error {
	if len(p.Args) == 0 || p.Args[0] == "" {
		return &ConfigError{Field: "Args", Reason: "command required"}
	}
	if p.Dir != "" && !filepath.IsAbs(p.Dir) {
		return &ConfigError{Field: "Dir", Reason: "must be absolute"}
	}
	if !m.IsUIDMapped(p.UID) {
		return &ConfigError{Field: "UID", Reason: "not mapped", Err: idmap.ErrInvalidRange}
	}
	if !m.IsGIDMapped(p.GID) {
		return &ConfigError{Field: "GID", Reason: "not mapped", Err: idmap.ErrInvalidRange}
	}
	return nil
}

func checkDir(p string) error {
	if !filepath.IsAbs(p) {
		return &os.PathError{Op: "check", Path: p, Err: os.ErrInvalid}
	}
	fi, err := os.Stat(p)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return &os.PathError{Op: "check", Path: p, Err: os.ErrInvalid}
	}
	return nil
}
