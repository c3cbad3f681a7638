package cgroup

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// CPUUsage reads cpu.stat usage_usec, result in ns
func (c *Controller) CPUUsage(h Handle) (uint64, error) {
	b, err := readFile(filepath.Join(h.Path(), "cpu.stat"))
	if err != nil {
		return 0, wrapError("cpu usage", h.Path(), c.classify(h, err))
	}
	s := bufio.NewScanner(bytes.NewReader(b))
	for s.Scan() {
		parts := strings.Fields(s.Text())
		if len(parts) == 2 && parts[0] == "usage_usec" {
			v, err := strconv.ParseUint(parts[1], 10, 64)
			if err != nil {
				return 0, wrapError("cpu usage", h.Path(), err)
			}
			return v * 1000, nil
		}
	}
	return 0, wrapError("cpu usage", h.Path(), os.ErrNotExist)
}

// MemoryCurrent reads memory.current
func (c *Controller) MemoryCurrent(h Handle) (uint64, error) {
	v, err := readUint(filepath.Join(h.Path(), "memory.current"))
	return v, wrapError("memory usage", h.Path(), c.classify(h, err))
}

// MemoryPeak reads memory.peak. Not exist with kernel version < 5.19
func (c *Controller) MemoryPeak(h Handle) (uint64, error) {
	v, err := readUint(filepath.Join(h.Path(), "memory.peak"))
	return v, wrapError("memory peak", h.Path(), c.classify(h, err))
}

// ReadLimit reads back the current value of the limit file
func (c *Controller) ReadLimit(h Handle, k Kind) (string, error) {
	l := Limit{Kind: k}
	b, err := readFile(filepath.Join(h.Path(), l.File()))
	if err != nil {
		return "", wrapError("read "+l.File(), h.Path(), c.classify(h, err))
	}
	return strings.TrimSpace(string(b)), nil
}
