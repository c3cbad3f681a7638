// Package rlimit converts resource limits of a contained process into
// setrlimit calls made by its init before exec.
package rlimit

import (
	"fmt"
	"strings"
	"syscall"

	"github.com/docker/go-units"
	"golang.org/x/sys/unix"
)

// RLimits are the limits of the contained process, zero values are unset
type RLimits struct {
	CPU          uint64 `yaml:"cpu,omitempty"`      // in s
	CPUHard      uint64 `yaml:"cpu_hard,omitempty"` // in s, at least CPU
	Data         uint64 `yaml:"data,omitempty"`
	FileSize     uint64 `yaml:"file_size,omitempty"`
	Stack        uint64 `yaml:"stack,omitempty"`
	AddressSpace uint64 `yaml:"address_space,omitempty"`
	OpenFile     uint64 `yaml:"open_file,omitempty"`
	// Processes is counted per user of the host, prefer the pids limit
	// of the cgroup
	Processes   uint64 `yaml:"processes,omitempty"`
	DisableCore bool   `yaml:"disable_core,omitempty"`
}

// RLimit is one setrlimit call
type RLimit struct {
	Res  int
	Rlim syscall.Rlimit
}

type resource struct {
	name  string
	bytes bool
}

var resources = map[int]resource{
	syscall.RLIMIT_CPU:    {"CPU", false},
	syscall.RLIMIT_DATA:   {"Data", true},
	syscall.RLIMIT_FSIZE:  {"File", true},
	syscall.RLIMIT_STACK:  {"Stack", true},
	syscall.RLIMIT_AS:     {"AddressSpace", true},
	syscall.RLIMIT_NOFILE: {"OpenFile", false},
	rlimitNproc:           {"Processes", false},
	syscall.RLIMIT_CORE:   {"Core", true},
}

const rlimitNproc = unix.RLIMIT_NPROC

// Limits returns the setrlimit calls, soft and hard limits are equal
// except for CPU
func (r *RLimits) Limits() []RLimit {
	var ret []RLimit
	add := func(res int, soft, hard uint64) {
		ret = append(ret, RLimit{Res: res, Rlim: syscall.Rlimit{Cur: soft, Max: hard}})
	}
	if r.CPU > 0 {
		add(syscall.RLIMIT_CPU, r.CPU, max(r.CPU, r.CPUHard))
	}
	for _, l := range []struct {
		res   int
		value uint64
	}{
		{syscall.RLIMIT_DATA, r.Data},
		{syscall.RLIMIT_FSIZE, r.FileSize},
		{syscall.RLIMIT_STACK, r.Stack},
		{syscall.RLIMIT_AS, r.AddressSpace},
		{syscall.RLIMIT_NOFILE, r.OpenFile},
		{rlimitNproc, r.Processes},
	} {
		if l.value > 0 {
			add(l.res, l.value, l.value)
		}
	}
	if r.DisableCore {
		add(syscall.RLIMIT_CORE, 0, 0)
	}
	return ret
}

// Apply sets every limit on the calling process
func Apply(rls []RLimit) error {
	for _, rl := range rls {
		rlim := rl.Rlim
		if err := syscall.Setrlimit(rl.Res, &rlim); err != nil {
			return fmt.Errorf("setrlimit %v: %w", rl, err)
		}
	}
	return nil
}

func (r RLimit) String() string {
	res, ok := resources[r.Res]
	switch {
	case !ok:
		return fmt.Sprintf("RLimit(%d)[%d:%d]", r.Res, r.Rlim.Cur, r.Rlim.Max)
	case r.Res == syscall.RLIMIT_CPU:
		return fmt.Sprintf("CPU[%d s:%d s]", r.Rlim.Cur, r.Rlim.Max)
	case res.bytes:
		return fmt.Sprintf("%s[%s:%s]", res.name, units.BytesSize(float64(r.Rlim.Cur)), units.BytesSize(float64(r.Rlim.Max)))
	default:
		return fmt.Sprintf("%s[%d:%d]", res.name, r.Rlim.Cur, r.Rlim.Max)
	}
}

func (r RLimits) String() string {
	var parts []string
	for _, rl := range r.Limits() {
		parts = append(parts, rl.String())
	}
	return "RLimits[" + strings.Join(parts, ",") + "]"
}
