package cgroup

import (
	"fmt"
	"math"
	"strconv"

	units "github.com/docker/go-units"
)

// Unlimited is written as "max"
const Unlimited = math.MaxUint64

// Kind is a resource limit kind
type Kind int

// Supported limit kinds
const (
	CPUWeight Kind = iota + 1
	CPUMax
	MemoryMax
	PidsMax
)

// Limit is a single resource-controller setting. For CPUMax Value is the
// quota and Period the period, both in microseconds.
type Limit struct {
	Kind   Kind   `yaml:"kind"`
	Value  uint64 `yaml:"value"`
	Period uint64 `yaml:"period,omitempty"`
}

const defaultCPUPeriod = 100000

// MemoryLimit limits memory.max in bytes
func MemoryLimit(bytes uint64) Limit {
	return Limit{Kind: MemoryMax, Value: bytes}
}

// PidsLimit limits pids.max
func PidsLimit(n uint64) Limit {
	return Limit{Kind: PidsMax, Value: n}
}

// CPUWeightLimit sets cpu.weight, valid range is [1, 10000]
func CPUWeightLimit(w uint64) Limit {
	return Limit{Kind: CPUWeight, Value: w}
}

// CPUMaxLimit sets cpu.max, quota and period in microseconds.
// Zero period defaults to 100ms.
func CPUMaxLimit(quota, period uint64) Limit {
	if period == 0 {
		period = defaultCPUPeriod
	}
	return Limit{Kind: CPUMax, Value: quota, Period: period}
}

// Controller returns the controller which must be enabled for the limit
func (l Limit) Controller() string {
	switch l.Kind {
	case CPUWeight, CPUMax:
		return CPU
	case MemoryMax:
		return Memory
	case PidsMax:
		return Pids
	}
	return ""
}

// File returns the interface file name
func (l Limit) File() string {
	switch l.Kind {
	case CPUWeight:
		return "cpu.weight"
	case CPUMax:
		return "cpu.max"
	case MemoryMax:
		return "memory.max"
	case PidsMax:
		return "pids.max"
	}
	return ""
}

// Content returns the value written to the interface file
func (l Limit) Content() string {
	switch l.Kind {
	case CPUMax:
		period := l.Period
		if period == 0 {
			period = defaultCPUPeriod
		}
		return formatMax(l.Value) + " " + strconv.FormatUint(period, 10)
	default:
		return formatMax(l.Value)
	}
}

// Validate checks the value range of the limit
func (l Limit) Validate() error {
	switch l.Kind {
	case CPUWeight:
		if l.Value < 1 || l.Value > 10000 {
			return fmt.Errorf("cpu.weight %d out of range [1, 10000]", l.Value)
		}
	case CPUMax:
		if l.Value == 0 {
			return fmt.Errorf("cpu.max quota must be positive")
		}
	case MemoryMax, PidsMax:
	default:
		return fmt.Errorf("unknown limit kind %d", l.Kind)
	}
	return nil
}

func (l Limit) String() string {
	switch l.Kind {
	case MemoryMax:
		if l.Value == Unlimited {
			return "memory[max]"
		}
		return "memory[" + units.BytesSize(float64(l.Value)) + "]"
	case PidsMax:
		return "pids[" + formatMax(l.Value) + "]"
	case CPUWeight:
		return "cpu.weight[" + formatMax(l.Value) + "]"
	case CPUMax:
		return "cpu.max[" + l.Content() + "]"
	}
	return fmt.Sprintf("limit[%d]", l.Kind)
}

func formatMax(v uint64) string {
	if v == Unlimited {
		return "max"
	}
	return strconv.FormatUint(v, 10)
}
