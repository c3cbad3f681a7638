// Package config loads container definitions from YAML files.
//
// A definition looks like:
//
//	rootfs: /srv/alpine
//	hostname: box
//	mounts:
//	  - type: base
//	  - type: tmpfs
//	    target: /tmp
//	    size: 64m
//	limits:
//	  memory: 256m
//	  pids: 64
//	process:
//	  args: [/bin/sh]
//	  seccomp:
//	    profile: default
//
// Relative rootfs, layer and bind source paths are resolved against the
// directory of the file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/udovin/sbox/pkg/idmap"
	"github.com/udovin/sbox/pkg/rlimit"
	"github.com/udovin/sbox/pkg/seccomp"
	"gopkg.in/yaml.v3"
)

// Spec is a container definition
type Spec struct {
	Rootfs          string   `yaml:"rootfs,omitempty"`
	Layers          []string `yaml:"layers,omitempty"`
	ReadOnlyRoot    bool     `yaml:"read_only_root,omitempty"`
	Hostname        string   `yaml:"hostname,omitempty"`
	PrivateNetwork  bool     `yaml:"private_network,omitempty"`
	SharePID        bool     `yaml:"share_pid,omitempty"`
	CgroupNamespace bool     `yaml:"cgroup_namespace,omitempty"`
	SealedInit      bool     `yaml:"sealed_init,omitempty"`
	// MaskPaths replaces the default masked paths when set
	MaskPaths []string `yaml:"mask_paths,omitempty"`
	Mounts    []Mount  `yaml:"mounts,omitempty"`
	Limits    Limits   `yaml:"limits,omitempty"`
	IDMap     IDMap    `yaml:"idmap,omitempty"`
	Process   Process  `yaml:"process,omitempty"`
}

// Mount is one mount plan entry, Type selects the descriptor:
// base, bind, proc, sysfs, tmpfs, devpts, mqueue, cgroup2 or overlay
type Mount struct {
	Type      string `yaml:"type"`
	Source    string `yaml:"source,omitempty"`
	Target    string `yaml:"target,omitempty"`
	ReadOnly  bool   `yaml:"read_only,omitempty"`
	Recursive bool   `yaml:"recursive,omitempty"`

	// tmpfs
	Size Size   `yaml:"size,omitempty"`
	Mode string `yaml:"mode,omitempty"` // octal

	// overlay
	Lower   []string `yaml:"lower,omitempty"`
	Upper   string   `yaml:"upper,omitempty"`
	Work    string   `yaml:"work,omitempty"`
	Options []string `yaml:"options,omitempty"`

	// base
	Mqueue bool `yaml:"mqueue,omitempty"`
	Cgroup bool `yaml:"cgroup,omitempty"`
}

// Limits are the cgroup limits of the container
type Limits struct {
	Memory    Size    `yaml:"memory,omitempty"`
	Pids      uint64  `yaml:"pids,omitempty"`
	CPUWeight uint64  `yaml:"cpu_weight,omitempty"`
	CPUs      float64 `yaml:"cpus,omitempty"`
}

// IDMap selects the user namespace mapping. Empty means the caller
// mapped to root.
type IDMap struct {
	// SubIDs maps the sub-id ranges of the caller from /etc/subuid and
	// /etc/subgid in addition to root
	SubIDs        bool `yaml:"subids,omitempty"`
	idmap.Mapping `yaml:",inline"`
}

// Process is the default command of the container
type Process struct {
	Args       []string       `yaml:"args,omitempty"`
	Env        []string       `yaml:"env,omitempty"`
	Dir        string         `yaml:"dir,omitempty"`
	UID        uint32         `yaml:"uid,omitempty"`
	GID        uint32         `yaml:"gid,omitempty"`
	NoNewPrivs bool           `yaml:"no_new_privs,omitempty"`
	RLimits    rlimit.RLimits `yaml:"rlimits,omitempty"`
	Seccomp    *Seccomp       `yaml:"seccomp,omitempty"`
}

// Seccomp describes the syscall filter
type Seccomp struct {
	// Profile "default" adds seccomp.DefaultDeny and the architecture
	// specific names to Deny
	Profile         string `yaml:"profile,omitempty"`
	seccomp.Builder `yaml:",inline"`
}

// Default returns the definition used when no file is given
func Default() *Spec {
	return &Spec{
		Mounts: []Mount{{Type: "base"}},
	}
}

// Parse decodes a definition, unknown fields are rejected
func Parse(r io.Reader) (*Spec, error) {
	s := new(Spec)
	d := yaml.NewDecoder(r)
	d.KnownFields(true)
	if err := d.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: %w", err)
	}
	return s, nil
}

// Load reads a definition from a file
func Load(path string) (*Spec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	s, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	s.resolve(dir)
	return s, nil
}

// Save writes the definition, paths are stored as they are
func (s *Spec) Save(path string) error {
	content, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, content, 0644)
}

func (s *Spec) resolve(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	s.Rootfs = abs(s.Rootfs)
	for i := range s.Layers {
		s.Layers[i] = abs(s.Layers[i])
	}
	for i := range s.Mounts {
		m := &s.Mounts[i]
		switch m.Type {
		case "bind":
			m.Source = abs(m.Source)
		case "overlay":
			for j := range m.Lower {
				m.Lower[j] = abs(m.Lower[j])
			}
			m.Upper = abs(m.Upper)
			m.Work = abs(m.Work)
		}
	}
}
