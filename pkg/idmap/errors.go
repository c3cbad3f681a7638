package idmap

import (
	"errors"
	"fmt"
)

var (
	// ErrNoAllocation means the host user has no registered sub-id range
	ErrNoAllocation = errors.New("no sub-id allocation")
	// ErrOverlap means two ranges of one table overlap
	ErrOverlap = errors.New("id ranges overlap")
	// ErrNoRoot means container id 0 is not mapped
	ErrNoRoot = errors.New("root is not mapped")
	// ErrInvalidRange means a range is empty or overflows 32 bits
	ErrInvalidRange = errors.New("invalid id range")
)

// Error records the failed operation
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("idmap %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
