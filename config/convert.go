package config

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/udovin/sbox/container"
	"github.com/udovin/sbox/pkg/cgroup"
	"github.com/udovin/sbox/pkg/idmap"
	"github.com/udovin/sbox/pkg/mount"
	"github.com/udovin/sbox/pkg/seccomp"
)

const cpuPeriod = 100000

// Container builds the container config, ID and directories are given by
// the caller
func (s *Spec) Container(id, stateDir, cgroupRoot string) (container.Config, error) {
	plan, err := s.Plan()
	if err != nil {
		return container.Config{}, err
	}
	mapping, err := s.IDMap.Resolve()
	if err != nil {
		return container.Config{}, err
	}
	return container.Config{
		ID:              id,
		StateDir:        stateDir,
		Rootfs:          s.Rootfs,
		Layers:          slices.Clone(s.Layers),
		ReadOnlyRoot:    s.ReadOnlyRoot,
		Mounts:          plan,
		MaskPaths:       slices.Clone(s.MaskPaths),
		Mapping:         mapping,
		CgroupRoot:      cgroupRoot,
		Limits:          s.Limits.Cgroup(),
		CgroupNamespace: s.CgroupNamespace,
		Hostname:        s.Hostname,
		PrivateNetwork:  s.PrivateNetwork,
		SharePID:        s.SharePID,
		SealedInit:      s.SealedInit,
	}, nil
}

// ProcessConfig builds the process config, non-empty args replace the
// default command
func (s *Spec) ProcessConfig(args []string) (container.ProcessConfig, error) {
	p := s.Process
	if len(args) == 0 {
		args = p.Args
	}
	pc := container.ProcessConfig{
		Args:       slices.Clone(args),
		Env:        slices.Clone(p.Env),
		Dir:        p.Dir,
		UID:        p.UID,
		GID:        p.GID,
		RLimits:    p.RLimits,
		NoNewPrivs: p.NoNewPrivs,
	}
	if p.Seccomp != nil {
		f, err := p.Seccomp.Filter()
		if err != nil {
			return pc, err
		}
		pc.Seccomp = f
	}
	return pc, nil
}

// Plan converts the mounts into descriptors
func (s *Spec) Plan() (mount.Plan, error) {
	var plan mount.Plan
	for i, m := range s.Mounts {
		d, err := m.Descriptor(s.PrivateNetwork)
		if err != nil {
			return nil, fmt.Errorf("mounts[%d]: %w", i, err)
		}
		plan = append(plan, d)
	}
	return plan, nil
}

// Descriptor converts the entry, privateNetwork is passed to base mounts
func (m Mount) Descriptor(privateNetwork bool) (mount.Descriptor, error) {
	switch m.Type {
	case "base":
		return mount.BaseMounts{PrivateNetwork: privateNetwork, Mqueue: m.Mqueue, Cgroup: m.Cgroup}, nil
	case "bind":
		if m.Source == "" {
			return nil, fmt.Errorf("bind: source required: %w", mount.ErrInvalidDescriptor)
		}
		return mount.Bind{Source: m.Source, Target: m.Target, ReadOnly: m.ReadOnly, Recursive: m.Recursive}, nil
	case "proc":
		return mount.Proc{ReadOnly: m.ReadOnly}, nil
	case "sysfs":
		return mount.Sysfs{}, nil
	case "tmpfs":
		t := mount.Tmpfs{Target: m.Target, SizeLimit: uint64(m.Size)}
		if m.Mode != "" {
			mode, err := strconv.ParseUint(m.Mode, 8, 32)
			if err != nil {
				return nil, fmt.Errorf("tmpfs: mode %q: %w", m.Mode, mount.ErrInvalidDescriptor)
			}
			t.Mode = uint32(mode)
		}
		return t, nil
	case "devpts":
		return mount.DevPts{}, nil
	case "mqueue":
		return mount.Mqueue{}, nil
	case "cgroup2":
		return mount.Cgroup2{}, nil
	case "overlay":
		return mount.Overlay{
			LowerDirs: slices.Clone(m.Lower),
			UpperDir:  m.Upper,
			WorkDir:   m.Work,
			Target:    m.Target,
			Options:   slices.Clone(m.Options),
		}, nil
	default:
		return nil, fmt.Errorf("unknown mount type %q: %w", m.Type, mount.ErrInvalidDescriptor)
	}
}

// Cgroup converts the limits, zero values are skipped
func (l Limits) Cgroup() []cgroup.Limit {
	var ls []cgroup.Limit
	if l.Memory > 0 {
		ls = append(ls, cgroup.MemoryLimit(uint64(l.Memory)))
	}
	if l.Pids > 0 {
		ls = append(ls, cgroup.PidsLimit(l.Pids))
	}
	if l.CPUWeight > 0 {
		ls = append(ls, cgroup.CPUWeightLimit(l.CPUWeight))
	}
	if l.CPUs > 0 {
		ls = append(ls, cgroup.CPUMaxLimit(uint64(l.CPUs*cpuPeriod), cpuPeriod))
	}
	return ls
}

// Resolve returns the mapping, the zero Mapping lets the container pick
// its default
func (m IDMap) Resolve() (idmap.Mapping, error) {
	if m.SubIDs {
		return idmap.ForCurrentUser(idmap.DefaultRegistry)
	}
	return m.Mapping, nil
}

// Filter builds the seccomp filter
func (s *Seccomp) Filter() (seccomp.Filter, error) {
	b := s.Builder
	switch s.Profile {
	case "":
	case "default":
		b.Deny = append(append(slices.Clone(b.Deny), seccomp.DefaultDeny...), archSyscallDeny...)
	default:
		return nil, fmt.Errorf("unknown seccomp profile %q", s.Profile)
	}
	b.Allow = uniq(b.Allow)
	b.Deny = slices.DeleteFunc(uniq(b.Deny), func(name string) bool {
		return slices.Contains(b.Allow, name)
	})
	return b.Build()
}

func uniq(names []string) []string {
	names = slices.Clone(names)
	slices.Sort(names)
	return slices.Compact(names)
}
