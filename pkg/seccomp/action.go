package seccomp

import (
	"fmt"
	"strings"
	"syscall"
)

const eperm = int(syscall.EPERM)

// Action is the seccomp action taken when a rule matches
type Action uint32

// Action defines seccomp action to the syscall
// default value 0 is invalid
const (
	ActionAllow Action = iota + 1
	ActionErrno
	ActionLog
	ActionKill
)

// WithReturnCode set the return code when action is errno
func (a Action) WithReturnCode(code int16) Action {
	return a.Action() | Action(code)<<16
}

// ReturnCode get the return code
func (a Action) ReturnCode() int16 {
	return int16(a >> 16)
}

// Action get the basic action
func (a Action) Action() Action {
	return Action(a & 0xffff)
}

func (a Action) String() string {
	switch a.Action() {
	case ActionAllow:
		return "allow"
	case ActionErrno:
		if c := a.ReturnCode(); c != 0 {
			return fmt.Sprintf("errno(%d)", c)
		}
		return "errno"
	case ActionLog:
		return "log"
	case ActionKill:
		return "kill"
	default:
		return fmt.Sprintf("action(%d)", uint32(a))
	}
}

// ParseAction parses action name as used in configuration files.
// Errno action returns EPERM.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow":
		return ActionAllow, nil
	case "errno":
		return ActionErrno.WithReturnCode(int16(eperm)), nil
	case "log":
		return ActionLog, nil
	case "kill":
		return ActionKill, nil
	default:
		return 0, fmt.Errorf("unknown seccomp action %q", s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Action) UnmarshalText(text []byte) error {
	v, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}
