// Package manager keeps named containers under a root directory.
//
// Layout:
//
//	<root>/<id>/container.yaml  definition
//	<root>/<id>/state/          container state directory
//
// Live process handles are not persisted: a container started by another
// manager instance can be inspected and destroyed, not waited for.
package manager

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/adrg/xdg"
	"github.com/sirupsen/logrus"
	"github.com/udovin/sbox/config"
	"github.com/udovin/sbox/container"
	"github.com/udovin/sbox/pkg/cgroup"
	"golang.org/x/sync/errgroup"
)

const (
	name         = "sbox"
	specFile     = "container.yaml"
	stateDir     = "state"
	destroyLimit = 4
)

// ErrNotFound is returned for an unknown container id
var ErrNotFound = errors.New("container not found")

// DefaultRoot is $XDG_STATE_HOME/sbox, e.g. ~/.local/state/sbox
func DefaultRoot() string {
	return filepath.Join(xdg.StateHome, name)
}

// DefaultCgroupRoot is the sbox node under the cgroup of the caller.
// Limits need controllers enabled for it, which the caller's cgroup only
// allows when it was delegated with no processes of its own.
func DefaultCgroupRoot() (string, error) {
	dir, err := cgroup.CurrentDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// Manager creates and tracks containers. It is safe for concurrent use.
type Manager struct {
	root       string
	cgroupRoot string
	log        logrus.FieldLogger

	mu         sync.Mutex
	containers map[string]*container.Container
}

// New creates the root directory. Empty root means DefaultRoot, empty
// cgroupRoot means DefaultCgroupRoot, created by the first Create.
func New(root, cgroupRoot string, log logrus.FieldLogger) (*Manager, error) {
	if root == "" {
		root = DefaultRoot()
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{
		root:       root,
		cgroupRoot: cgroupRoot,
		log:        log,
		containers: make(map[string]*container.Container),
	}, nil
}

// Root returns the root directory
func (m *Manager) Root() string {
	return m.root
}

func (m *Manager) dir(id string) string {
	return filepath.Join(m.root, id)
}

// Create stores the definition and creates the container
func (m *Manager) Create(id string, spec *config.Spec) (c *container.Container, err error) {
	if err := container.ValidateID(id); err != nil {
		return nil, err
	}
	dir := m.dir(id)
	if err := os.Mkdir(dir, 0755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", container.ErrAlreadyExists, id)
		}
		return nil, err
	}
	defer func() {
		if err != nil {
			os.RemoveAll(dir)
		}
	}()
	if err := spec.Save(filepath.Join(dir, specFile)); err != nil {
		return nil, err
	}
	cfg, err := m.config(id, spec)
	if err != nil {
		return nil, err
	}
	if m.cgroupRoot == "" {
		if err := os.MkdirAll(cfg.CgroupRoot, 0755); err != nil {
			return nil, fmt.Errorf("%w: %w", container.ErrCgroup, err)
		}
	}
	if c, err = container.Create(cfg); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.containers[id] = c
	m.mu.Unlock()
	m.log.WithField("container", id).Debug("Definition stored")
	return c, nil
}

// Get returns the container, loading it from disk on first use
func (m *Manager) Get(id string) (*container.Container, error) {
	if err := container.ValidateID(id); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.containers[id]; ok {
		return c, nil
	}
	spec, err := m.Spec(id)
	if err != nil {
		return nil, err
	}
	cfg, err := m.config(id, spec)
	if err != nil {
		return nil, err
	}
	c, err := container.Load(cfg)
	if err != nil {
		return nil, err
	}
	m.containers[id] = c
	return c, nil
}

// Spec reads the stored definition
func (m *Manager) Spec(id string) (*config.Spec, error) {
	spec, err := config.Load(filepath.Join(m.dir(id), specFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return spec, err
}

func (m *Manager) config(id string, spec *config.Spec) (container.Config, error) {
	cgroupRoot := m.cgroupRoot
	if cgroupRoot == "" {
		var err error
		if cgroupRoot, err = DefaultCgroupRoot(); err != nil {
			return container.Config{}, fmt.Errorf("%w: %w", container.ErrCgroup, err)
		}
	}
	cfg, err := spec.Container(id, filepath.Join(m.dir(id), stateDir), cgroupRoot)
	if err != nil {
		return cfg, err
	}
	cfg.Logger = m.log
	return cfg, nil
}

// List returns ids of stored containers in lexical order
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(m.root, e.Name(), specFile)); err == nil {
			ids = append(ids, e.Name())
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// Destroy destroys the container and removes its directory. A container
// whose cgroup is gone, e.g. after reboot, only has its directory removed.
func (m *Manager) Destroy(id string) error {
	c, err := m.Get(id)
	switch {
	case errors.Is(err, container.ErrCgroup), errors.Is(err, os.ErrNotExist) && !errors.Is(err, ErrNotFound):
		m.log.WithField("container", id).WithError(err).Warn("State is incomplete, removing directory")
	case err != nil:
		return err
	default:
		if err := c.Destroy(); err != nil && !errors.Is(err, container.ErrAlreadyDestroyed) {
			return err
		}
	}
	m.mu.Lock()
	delete(m.containers, id)
	m.mu.Unlock()
	return os.RemoveAll(m.dir(id))
}

// DestroyAll destroys every stored container and returns all failures
func (m *Manager) DestroyAll() error {
	ids, err := m.List()
	if err != nil {
		return err
	}
	errs := make([]error, len(ids))
	var g errgroup.Group
	g.SetLimit(destroyLimit)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if err := m.Destroy(id); err != nil {
				errs[i] = fmt.Errorf("%s: %w", id, err)
			}
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}
