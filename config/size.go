package config

import (
	"fmt"

	units "github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// Size is a byte count written either as a number or with a unit suffix
// such as "64m" or "1GiB"
type Size uint64

// UnmarshalYAML implements yaml.Unmarshaler
func (s *Size) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: size must be a scalar", value.Line)
	}
	n, err := units.RAMInBytes(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	if n < 0 {
		return fmt.Errorf("line %d: negative size %q", value.Line, value.Value)
	}
	*s = Size(n)
	return nil
}

// MarshalYAML keeps the exact byte count
func (s Size) MarshalYAML() (interface{}, error) {
	return uint64(s), nil
}

func (s Size) String() string {
	return units.BytesSize(float64(s))
}
