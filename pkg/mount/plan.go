package mount

import (
	"fmt"
	"strings"
)

// Plan is an ordered list of mount descriptors. Order matters: later
// entries may target directories created by earlier ones.
type Plan []Descriptor

// Compile expands the plan into primitive steps
func (p Plan) Compile() ([]Mount, error) {
	c := &compiler{}
	for i, d := range p {
		if d == nil {
			return nil, fmt.Errorf("%w: nil descriptor at %d", ErrInvalidDescriptor, i)
		}
		if err := d.compile(c); err != nil {
			return nil, fmt.Errorf("mount plan %d (%v): %w", i, d, err)
		}
	}
	return c.mounts, nil
}

func (p Plan) String() string {
	var sb strings.Builder
	sb.WriteString("Mounts: ")
	for i, d := range p {
		if d == nil {
			sb.WriteString("<nil>")
		} else {
			sb.WriteString(d.String())
		}
		if i != len(p)-1 {
			sb.WriteString(", ")
		}
	}
	return sb.String()
}
