package cgroup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// Handle is a node in the cgroup hierarchy
type Handle struct {
	Root string `yaml:"root"`
	Name string `yaml:"name"`
}

// Path returns the absolute directory of the node
func (h Handle) Path() string {
	return filepath.Join(h.Root, h.Name)
}

func (h Handle) String() string {
	return h.Path()
}

// Controller creates, configures and removes cgroup nodes under Root
type Controller struct {
	// Root is a cgroup v2 directory that the caller may write to
	Root string

	// RemoveAttempts bounds Remove retries while the node is busy
	RemoveAttempts int
	// RemoveDelay is the first retry delay, doubled on every attempt
	RemoveDelay time.Duration
}

// New returns a controller rooted at root which must be on cgroup2
func New(root string) (*Controller, error) {
	if root == "" {
		return nil, wrapError("open", root, os.ErrInvalid)
	}
	if !IsCgroup2(root) {
		return nil, wrapError("open", root, ErrNotCgroup2)
	}
	return newController(root), nil
}

// Current returns a controller rooted at the caller's own cgroup
func Current() (*Controller, error) {
	dir, err := CurrentDir()
	if err != nil {
		return nil, err
	}
	return New(dir)
}

// CurrentDir returns the directory of the caller's own cgroup
func CurrentDir() (string, error) {
	p, err := CurrentPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(basePath, p), nil
}

func newController(root string) *Controller {
	return &Controller{
		Root:           root,
		RemoveAttempts: defaultRemoveAttempts,
		RemoveDelay:    defaultRemoveDelay,
	}
}

// Handle returns the handle of named node without touching the filesystem
func (c *Controller) Handle(name string) Handle {
	return Handle{Root: c.Root, Name: name}
}

// Create creates an empty node with the given name
func (c *Controller) Create(name string) (Handle, error) {
	h := c.Handle(name)
	if err := validateName(name); err != nil {
		return Handle{}, wrapError("create", h.Path(), err)
	}
	if err := os.Mkdir(h.Path(), dirPerm); err != nil {
		if errors.Is(err, os.ErrExist) {
			err = ErrAlreadyExists
		}
		return Handle{}, wrapError("create", h.Path(), err)
	}
	return h, nil
}

// Open returns the handle of an existing node
func (c *Controller) Open(name string) (Handle, error) {
	h := c.Handle(name)
	if _, err := os.Stat(h.Path()); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = ErrNotExist
		}
		return Handle{}, wrapError("open", h.Path(), err)
	}
	return h, nil
}

// Exists reports whether the node directory is present
func (c *Controller) Exists(h Handle) bool {
	_, err := os.Stat(h.Path())
	return err == nil
}

// Child creates a nested node under h
func (c *Controller) Child(h Handle, name string) (Handle, error) {
	return c.Create(filepath.Join(h.Name, name))
}

// Parent returns the handle of the node containing h. The root itself
// has no parent within the controller.
func (c *Controller) Parent(h Handle) (Handle, bool) {
	if h.Name == "" || h.Name == "." {
		return Handle{}, false
	}
	dir := filepath.Dir(h.Name)
	if dir == "." {
		dir = ""
	}
	return Handle{Root: h.Root, Name: dir}, true
}

// Controllers returns controllers available to the node
func (c *Controller) Controllers(h Handle) (*Controllers, error) {
	ct, err := readControllers(h.Path())
	return ct, wrapError("controllers", h.Path(), err)
}

// EnableControllers enables the named controllers for children of h,
// ErrUnsupportedController is returned when h does not have one of them
func (c *Controller) EnableControllers(h Handle, names ...string) error {
	msg, err := enableControllerMessage(names)
	if err != nil {
		return wrapError("enable", h.Path(), err)
	}
	ct, err := readControllers(h.Path())
	if err != nil {
		return wrapError("enable", h.Path(), c.classify(h, err))
	}
	for _, name := range names {
		if !ct.Has(name) {
			return wrapError("enable", h.Path(), fmt.Errorf("%w: %s", ErrUnsupportedController, name))
		}
	}
	err = writeFile(filepath.Join(h.Path(), cgroupSubtreeControl), []byte(msg))
	if errors.Is(err, syscall.EINVAL) || errors.Is(err, os.ErrNotExist) && c.Exists(h) {
		err = fmt.Errorf("%w: %w", ErrUnsupportedController, err)
	}
	return wrapError("enable", h.Path(), c.classify(h, err))
}

// SetLimit writes the resource limit into the node. It must be called
// before any process joins the node.
func (c *Controller) SetLimit(h Handle, l Limit) error {
	if err := l.Validate(); err != nil {
		return wrapError("set "+l.File(), h.Path(), err)
	}
	ct, err := readControllers(h.Path())
	if err != nil {
		return wrapError("set "+l.File(), h.Path(), c.classify(h, err))
	}
	if !ct.Has(l.Controller()) {
		return wrapError("set "+l.File(), h.Path(), ErrUnsupportedController)
	}
	err = writeFile(filepath.Join(h.Path(), l.File()), []byte(l.Content()))
	if errors.Is(err, os.ErrNotExist) && c.Exists(h) {
		err = ErrUnsupportedController
	}
	return wrapError("set "+l.File(), h.Path(), c.classify(h, err))
}

// Attach moves the process into the node
func (c *Controller) Attach(h Handle, pid int) error {
	if pid <= 0 {
		return wrapError("attach", h.Path(), syscall.ESRCH)
	}
	err := writeFile(filepath.Join(h.Path(), cgroupProcs), []byte(strconv.Itoa(pid)))
	return wrapError("attach", h.Path(), c.classify(h, err))
}

// Procs lists pids currently in the node
func (c *Controller) Procs(h Handle) ([]int, error) {
	b, err := readFile(filepath.Join(h.Path(), cgroupProcs))
	if err != nil {
		return nil, wrapError("procs", h.Path(), c.classify(h, err))
	}
	var pids []int
	for _, f := range strings.Fields(string(b)) {
		pid, err := strconv.Atoi(f)
		if err != nil {
			return nil, wrapError("procs", h.Path(), err)
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// Kill sends SIGKILL to every process in the node
func (c *Controller) Kill(h Handle) error {
	err := writeFile(filepath.Join(h.Path(), cgroupKill), []byte("1"))
	if err == nil || !errors.Is(err, os.ErrNotExist) || !c.Exists(h) {
		return wrapError("kill", h.Path(), c.classify(h, err))
	}
	// kernels before 5.14 have no cgroup.kill
	pids, err := c.Procs(h)
	if err != nil {
		return err
	}
	for _, pid := range pids {
		if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
			return wrapError("kill", h.Path(), err)
		}
	}
	return nil
}

// Remove deletes the node. While the node still holds processes the call
// is retried with exponential backoff and ErrNotEmpty is returned once
// attempts are exhausted.
func (c *Controller) Remove(h Handle) error {
	attempts := c.RemoveAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := c.RemoveDelay
	var err error
	for i := 0; i < attempts; i++ {
		if err = os.Remove(h.Path()); err == nil {
			return nil
		}
		if errors.Is(err, os.ErrNotExist) {
			return wrapError("remove", h.Path(), ErrNotExist)
		}
		if !isBusy(err) {
			return wrapError("remove", h.Path(), err)
		}
		if i+1 < attempts {
			logrus.WithFields(logrus.Fields{"path": h.Path(), "attempt": i + 1}).
				Debug("cgroup busy, retrying removal")
			time.Sleep(delay)
			if delay *= 2; delay > maxRemoveDelay {
				delay = maxRemoveDelay
			}
		}
	}
	return wrapError("remove", h.Path(), fmt.Errorf("%w: %w", ErrNotEmpty, err))
}

func (c *Controller) classify(h Handle, err error) error {
	if err != nil && errors.Is(err, os.ErrNotExist) && !c.Exists(h) {
		return ErrNotExist
	}
	return err
}

func validateName(name string) error {
	if name == "" || filepath.IsAbs(name) {
		return os.ErrInvalid
	}
	for _, e := range strings.Split(name, "/") {
		if e == "" || e == "." || e == ".." {
			return os.ErrInvalid
		}
	}
	return nil
}
