package container

import (
	"fmt"

	"github.com/udovin/sbox/pkg/cgroup"
)

// Stats is the resource usage of the container cgroup
type Stats struct {
	CPUTime       uint64 // in ns
	MemoryCurrent uint64 // in bytes
	MemoryPeak    uint64 // in bytes, 0 when not supported by the kernel
}

// Stats reads the usage counters of the cgroup
func (c *Container) Stats() (Stats, error) {
	var s Stats
	var err error
	if s.CPUTime, err = c.cgroups.CPUUsage(c.cgroup); err != nil {
		return s, fmt.Errorf("%w: %w", ErrCgroup, err)
	}
	if s.MemoryCurrent, err = c.cgroups.MemoryCurrent(c.cgroup); err != nil {
		return s, fmt.Errorf("%w: %w", ErrCgroup, err)
	}
	// memory.peak appeared in 5.19
	s.MemoryPeak, _ = c.cgroups.MemoryPeak(c.cgroup)
	return s, nil
}

// Limits reads back the limit files present on the cgroup, keyed by file
// name. Files of disabled controllers are skipped.
func (c *Container) Limits() map[string]string {
	res := make(map[string]string)
	for _, k := range []cgroup.Kind{cgroup.CPUWeight, cgroup.CPUMax, cgroup.MemoryMax, cgroup.PidsMax} {
		if v, err := c.cgroups.ReadLimit(c.cgroup, k); err == nil {
			res[cgroup.Limit{Kind: k}.File()] = v
		}
	}
	return res
}

// Procs lists pids of the cgroup as seen from the host
func (c *Container) Procs() ([]int, error) {
	procs, err := c.cgroups.Procs(c.cgroup)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCgroup, err)
	}
	return procs, nil
}
