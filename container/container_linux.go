package container

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/udovin/sbox/pkg/cgroup"
	"github.com/udovin/sbox/pkg/memfd"
	"github.com/udovin/sbox/pkg/mount"
	"golang.org/x/sys/unix"
)

const (
	rootfsDir = "rootfs"
	upperDir  = "upper"
	workDir   = "work"
)

// Container owns a state directory and a cgroup node. At most one
// Process runs in it at a time.
type Container struct {
	config  Config
	log     logrus.FieldLogger
	cgroups *cgroup.Controller
	cgroup  cgroup.Handle
	mounts  []mount.Mount

	mu        sync.Mutex
	starting  bool
	process   *Process
	destroyed bool
	// sealed copy of the init binary, made by the first Start
	initFile *os.File
}

// Create validates config and prepares the state directory and the cgroup
// with its limits. Everything created is removed when a step fails.
func Create(config Config) (*Container, error) {
	c, err := newContainer(config)
	if err != nil {
		return nil, err
	}
	if err := c.create(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Container) create() (err error) {
	log := c.log

	if err := os.MkdirAll(filepath.Dir(c.config.StateDir), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := os.Mkdir(c.config.StateDir, 0755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, c.config.StateDir)
		}
		return fmt.Errorf("create state dir: %w", err)
	}
	defer func() {
		if err != nil {
			if rerr := os.RemoveAll(c.config.StateDir); rerr != nil {
				log.WithError(rerr).Warn("Failed to remove state dir")
			}
		}
	}()
	for i, dir := range c.stateDirs() {
		if i > 0 {
			if err := os.Mkdir(dir, 0755); err != nil {
				return fmt.Errorf("create state dir: %w", err)
			}
		}
		if err := c.chownToRoot(dir); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	if c.cgroup, err = c.cgroups.Create(c.config.ID); err != nil {
		if errors.Is(err, cgroup.ErrAlreadyExists) {
			return fmt.Errorf("%w: %w", ErrAlreadyExists, err)
		}
		return fmt.Errorf("%w: %w", ErrCgroup, err)
	}
	defer func() {
		if err != nil {
			if rerr := c.cgroups.Remove(c.cgroup); rerr != nil {
				log.WithError(rerr).Warn("Failed to remove cgroup")
			}
		}
	}()
	if err := c.enableControllers(); err != nil {
		return fmt.Errorf("%w: %w", ErrCgroup, err)
	}
	for _, l := range c.config.Limits {
		if err := c.cgroups.SetLimit(c.cgroup, l); err != nil {
			return fmt.Errorf("%w: %w", ErrCgroup, err)
		}
	}
	log.WithField("cgroup", c.cgroup.String()).Debug("Container created")
	return nil
}

// Load re-attaches to a container made by Create with the same config
func Load(config Config) (*Container, error) {
	c, err := newContainer(config)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(c.rootfs()); err != nil {
		return nil, fmt.Errorf("load state dir: %w", err)
	}
	if c.cgroup, err = c.cgroups.Open(c.config.ID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCgroup, err)
	}
	return c, nil
}

func newContainer(config Config) (*Container, error) {
	config.setDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	c := &Container{
		config: config,
		log:    config.Logger.WithField("container", config.ID),
	}
	plan := append(mount.Plan{c.rootDescriptor()}, config.Mounts...)
	mounts, err := plan.Compile()
	if err != nil {
		return nil, &ConfigError{Field: "Mounts", Reason: "compile", Err: err}
	}
	c.mounts = mounts
	if c.cgroups, err = cgroup.New(config.CgroupRoot); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCgroup, err)
	}
	return c, nil
}

// enableControllers enables controllers needed by the limits on the
// parent, which must have no processes of its own
func (c *Container) enableControllers() error {
	ct, err := c.cgroups.Controllers(c.cgroup)
	if err != nil {
		return err
	}
	var missing []string
	for _, l := range c.config.Limits {
		if name := l.Controller(); !ct.Has(name) && !slices.Contains(missing, name) {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return c.cgroups.EnableControllers(c.cgroups.Handle(""), missing...)
}

// rootDescriptor mounts the rootfs or the layers onto rootfs/
func (c *Container) rootDescriptor() mount.Descriptor {
	if len(c.config.Layers) == 0 {
		return mount.Bind{Source: c.config.Rootfs, Recursive: true}
	}
	return mount.Overlay{
		LowerDirs: c.config.Layers,
		UpperDir:  filepath.Join(c.config.StateDir, upperDir),
		WorkDir:   filepath.Join(c.config.StateDir, workDir),
		// overlay inside a user namespace keeps its metadata in user.* xattrs
		Options: []string{"userxattr"},
	}
}

func (c *Container) stateDirs() []string {
	dirs := []string{c.config.StateDir, c.rootfs()}
	if len(c.config.Layers) > 0 {
		dirs = append(dirs,
			filepath.Join(c.config.StateDir, upperDir),
			filepath.Join(c.config.StateDir, workDir),
		)
	}
	return dirs
}

// chownToRoot hands dir to the container root when the host root creates
// it for a mapping that does not include itself
func (c *Container) chownToRoot(dir string) error {
	if os.Geteuid() != 0 {
		return nil
	}
	uid, ok := c.config.Mapping.HostUID(0)
	if !ok {
		return nil
	}
	gid, _ := c.config.Mapping.HostGID(0)
	return os.Lchown(dir, int(uid), int(gid))
}

func (c *Container) rootfs() string {
	return filepath.Join(c.config.StateDir, rootfsDir)
}

// ID returns the container id
func (c *Container) ID() string {
	return c.config.ID
}

// Config returns the config with defaults applied
func (c *Container) Config() Config {
	return c.config
}

// Cgroup returns the cgroup node
func (c *Container) Cgroup() cgroup.Handle {
	return c.cgroup
}

// Mounts returns the compiled mount plan, the root step first
func (c *Container) Mounts() []mount.Mount {
	return slices.Clone(c.mounts)
}

// Process returns the last started process, nil if none
func (c *Container) Process() *Process {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.process
}

// Start launches the command as the init process of new namespaces. It
// fails with ErrAlreadyRunning while another process of the container is
// starting or has not exited.
func (c *Container) Start(pc ProcessConfig) (*Process, error) {
	if err := pc.validate(c.config.Mapping); err != nil {
		return nil, err
	}
	c.mu.Lock()
	switch {
	case c.destroyed:
		c.mu.Unlock()
		return nil, ErrAlreadyDestroyed
	case c.starting, c.process != nil && !c.process.exited():
		c.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	c.starting = true
	c.mu.Unlock()

	l := c.newLauncher(pc)
	var err error
	if c.config.SealedInit {
		l.InitFile, err = c.sealedInit()
	}
	var p *Process
	if err == nil {
		p, err = l.launch()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.starting = false
	if err != nil {
		c.log.WithError(err).Debug("Failed to start")
		return nil, err
	}
	c.process = p
	c.log.WithField("pid", p.Pid()).Debug("Process started")
	return p, nil
}

// sealedInit is only called between starting and the end of Start
func (c *Container) sealedInit() (*os.File, error) {
	if c.initFile != nil {
		return c.initFile, nil
	}
	f, err := memfd.CopyFile(c.config.InitPath)
	if err != nil {
		return nil, newLaunchError(StageConfigured, err)
	}
	c.initFile = f
	return f, nil
}

func (c *Container) newLauncher(pc ProcessConfig) *launcher {
	env := pc.Env
	if env == nil {
		env = defaultEnv
	}
	dir := pc.Dir
	if dir == "" {
		dir = "/"
	}
	flags := uintptr(baseCloneFlags)
	if !c.config.SharePID {
		flags |= unix.CLONE_NEWPID
	}
	if c.config.PrivateNetwork {
		flags |= unix.CLONE_NEWNET
	}
	return &launcher{
		InitPath:   c.config.InitPath,
		CloneFlags: flags,
		Mapping:    c.config.Mapping,
		MapWriter:  c.config.MapWriter,
		Request: initRequest{
			Root:            c.rootfs(),
			Mounts:          c.mounts,
			MaskPaths:       c.config.MaskPaths,
			ReadOnlyRoot:    c.config.ReadOnlyRoot,
			Hostname:        c.config.Hostname,
			Args:            pc.Args,
			Env:             env,
			Dir:             dir,
			UID:             pc.UID,
			GID:             pc.GID,
			RLimits:         pc.RLimits.Limits(),
			Seccomp:         pc.Seccomp,
			NoNewPrivs:      pc.NoNewPrivs,
			CgroupNamespace: c.config.CgroupNamespace || hasCgroupMount(c.mounts),
		},
		Attach: func(pid int) error {
			return c.cgroups.Attach(c.cgroup, pid)
		},
		Stdin:  pc.Stdin,
		Stdout: pc.Stdout,
		Stderr: pc.Stderr,
		Log:    c.log,
	}
}

// Kill sends SIGKILL to every process of the cgroup, including processes
// left by a previous owner of the container
func (c *Container) Kill() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return ErrAlreadyDestroyed
	}
	if err := c.cgroups.Kill(c.cgroup); err != nil {
		return fmt.Errorf("%w: %w", ErrCgroup, err)
	}
	return nil
}

// Destroy unmounts the root, removes the cgroup and the state directory.
// Every step is attempted, the failures are joined. It fails with
// ErrStillRunning while a process is live and ErrAlreadyDestroyed when
// called again. Processes left in the cgroup by an exited process of this
// handle are killed; a loaded handle fails with ErrStillRunning instead.
func (c *Container) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return ErrAlreadyDestroyed
	}
	if c.starting || c.process != nil && !c.process.exited() {
		return ErrStillRunning
	}
	if procs, err := c.cgroups.Procs(c.cgroup); err == nil && len(procs) > 0 {
		// processes of another handle, e.g. started by another sbox
		if c.process == nil {
			return ErrStillRunning
		}
		// descendants left behind by the exited process, Remove waits for them
		c.log.WithField("procs", procs).Debug("Killing leftover processes")
		if err := c.cgroups.Kill(c.cgroup); err != nil {
			c.log.WithError(err).Warn("Failed to kill leftover processes")
		}
	}
	c.destroyed = true
	if c.initFile != nil {
		c.initFile.Close()
	}

	var errs []error
	if err := mount.UnmountAll(c.rootfs(), c.log); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("%w: %w", ErrMount, err))
	}
	if err := c.cgroups.Remove(c.cgroup); err != nil && !errors.Is(err, cgroup.ErrNotExist) {
		c.log.WithError(err).Warn("Failed to remove cgroup")
		errs = append(errs, fmt.Errorf("%w: %w", ErrCgroup, err))
	}
	if err := c.removeState(); err != nil {
		c.log.WithError(err).Warn("Failed to remove state dir")
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		c.log.Debug("Container destroyed")
	}
	return errors.Join(errs...)
}

// removeState falls back to removing as the mapped root, files written by
// the container may belong to sub-ids the caller does not own
func (c *Container) removeState() error {
	err := os.RemoveAll(c.config.StateDir)
	if err == nil || !errors.Is(err, os.ErrPermission) || c.config.Mapping.IsSingle(uint32(os.Getuid()), uint32(os.Getgid())) {
		return err
	}
	c.log.WithError(err).Debug("Removing state dir as mapped root")
	return RunAsRoot(c.config.Mapping, c.config.MapWriter, "rm", "-rf", "--", c.config.StateDir)
}

func hasCgroupMount(mounts []mount.Mount) bool {
	for _, m := range mounts {
		if m.FsType == "cgroup2" {
			return true
		}
	}
	return false
}

