package mount

import "fmt"

// Error records the step of a compiled plan that failed
type Error struct {
	Index int
	Mount Mount
	Op    string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("mount %d %v: %s: %v", e.Index, e.Mount, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
