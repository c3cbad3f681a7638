package cgroup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Controllers is the set of cgroup v2 controllers known to this package
type Controllers struct {
	CPU    bool
	CPUSet bool
	IO     bool
	Memory bool
	Pids   bool
}

// Set enables or disables the named controller, unknown names are ignored
func (c *Controllers) Set(ct string, value bool) {
	switch ct {
	case CPU:
		c.CPU = value
	case CPUSet:
		c.CPUSet = value
	case IO:
		c.IO = value
	case Memory:
		c.Memory = value
	case Pids:
		c.Pids = value
	}
}

// Has reports whether the named controller is in the set
func (c *Controllers) Has(ct string) bool {
	switch ct {
	case CPU:
		return c.CPU
	case CPUSet:
		return c.CPUSet
	case IO:
		return c.IO
	case Memory:
		return c.Memory
	case Pids:
		return c.Pids
	}
	return false
}

// Intersect keeps only controllers present in both sets
func (c *Controllers) Intersect(o *Controllers) {
	c.CPU = c.CPU && o.CPU
	c.CPUSet = c.CPUSet && o.CPUSet
	c.IO = c.IO && o.IO
	c.Memory = c.Memory && o.Memory
	c.Pids = c.Pids && o.Pids
}

// Contains returns true if the current set enables all controllers in the other set
func (c *Controllers) Contains(o *Controllers) bool {
	return (c.CPU || !o.CPU) && (c.CPUSet || !o.CPUSet) && (c.IO || !o.IO) &&
		(c.Memory || !o.Memory) && (c.Pids || !o.Pids)
}

// Names returns enabled controller names in a stable order
func (c *Controllers) Names() []string {
	var names []string
	for _, v := range []struct {
		e bool
		n string
	}{
		{c.CPU, CPU},
		{c.CPUSet, CPUSet},
		{c.IO, IO},
		{c.Memory, Memory},
		{c.Pids, Pids},
	} {
		if v.e {
			names = append(names, v.n)
		}
	}
	return names
}

func (c *Controllers) String() string {
	return "[" + strings.Join(c.Names(), ", ") + "]"
}

// ParseControllers parses the content of cgroup.controllers or
// cgroup.subtree_control
func ParseControllers(content string) *Controllers {
	m := &Controllers{}
	for _, v := range strings.Fields(content) {
		m.Set(strings.TrimPrefix(v, "+"), true)
	}
	return m
}

func readControllers(dir string) (*Controllers, error) {
	c, err := readFile(filepath.Join(dir, cgroupControllers))
	if err != nil {
		return nil, err
	}
	return ParseControllers(string(c)), nil
}

// CurrentPath returns the cgroup v2 path of the calling process relative
// to the cgroup2 mount (e.g. "user.slice/user-1000.slice/session-1.scope")
func CurrentPath() (string, error) {
	c, err := os.ReadFile(procSelfCgroup)
	if err != nil {
		return "", err
	}
	return parseProcCgroup(string(c))
}

func parseProcCgroup(content string) (string, error) {
	for _, line := range strings.Split(content, "\n") {
		// cgroup v2 unified entry is "0::/path"
		f := strings.SplitN(line, ":", 3)
		if len(f) == 3 && f[0] == "0" && f[1] == "" {
			return strings.TrimPrefix(f[2], "/"), nil
		}
	}
	return "", errors.New("no cgroup v2 entry in " + procSelfCgroup)
}

// enableControllerMessage formats controllers for cgroup.subtree_control
func enableControllerMessage(names []string) (string, error) {
	if len(names) == 0 {
		return "", fmt.Errorf("no controllers to enable")
	}
	return "+" + strings.Join(names, " +"), nil
}
