package seccomp

import (
	"errors"
	"syscall"

	libseccomp "github.com/elastic/go-seccomp-bpf"
	"golang.org/x/net/bpf"
)

// ErrEmptyFilter is returned when the builder contains no rule and
// allows everything by default.
var ErrEmptyFilter = errors.New("seccomp: filter has no rules")

// Builder is used to build the filter
type Builder struct {
	// Allow lists syscalls that are always allowed.
	Allow []string `yaml:"allow,omitempty"`
	// Deny lists syscalls that fail with DenyAction.
	Deny []string `yaml:"deny,omitempty"`
	// DenyAction defaults to errno(EPERM).
	DenyAction Action `yaml:"deny_action,omitempty"`
	// Default defaults to allow.
	Default Action `yaml:"default,omitempty"`
}

// DefaultDeny contains syscalls that a contained process should never need.
// Every name exists on all supported architectures.
var DefaultDeny = []string{
	"acct", "add_key", "bpf", "delete_module", "finit_module", "init_module",
	"kexec_file_load", "kexec_load", "keyctl", "lookup_dcookie", "open_by_handle_at",
	"perf_event_open", "quotactl", "reboot", "request_key", "swapoff", "swapon",
	"syslog", "userfaultfd",
}

// DefaultBuilder returns a deny list builder with DefaultDeny.
func DefaultBuilder() *Builder {
	return &Builder{Deny: DefaultDeny}
}

// Build builds the filter
func (b *Builder) Build() (Filter, error) {
	def := b.Default
	if def == 0 {
		def = ActionAllow
	}
	deny := b.DenyAction
	if deny == 0 {
		deny = ActionErrno.WithReturnCode(int16(eperm))
	}
	// the default action carries no data, errno returns EPERM
	policy := libseccomp.Policy{DefaultAction: ToSeccompAction(def.Action())}
	if len(b.Allow) > 0 {
		policy.Syscalls = append(policy.Syscalls, libseccomp.SyscallGroup{
			Names:  b.Allow,
			Action: libseccomp.ActionAllow,
		})
	}
	if len(b.Deny) > 0 {
		policy.Syscalls = append(policy.Syscalls, libseccomp.SyscallGroup{
			Names:  b.Deny,
			Action: ToSeccompAction(deny),
		})
	}
	if len(policy.Syscalls) == 0 && def == ActionAllow {
		return nil, ErrEmptyFilter
	}
	insts, err := policy.Assemble()
	if err != nil {
		return nil, err
	}
	return ExportBPF(insts)
}

// ExportBPF convert assembled instructions to kernel readable BPF content
func ExportBPF(insts []bpf.Instruction) (Filter, error) {
	raw, err := bpf.Assemble(insts)
	if err != nil {
		return nil, err
	}
	f := make(Filter, len(raw))
	for i, r := range raw {
		f[i] = syscall.SockFilter{Code: r.Op, Jt: r.Jt, Jf: r.Jf, K: r.K}
	}
	return f, nil
}

// ToSeccompAction convert action to go-seccomp-bpf compatible action
func ToSeccompAction(a Action) libseccomp.Action {
	var action libseccomp.Action
	switch a.Action() {
	case ActionAllow:
		action = libseccomp.ActionAllow
	case ActionErrno:
		action = libseccomp.ActionErrno
	case ActionLog:
		action = libseccomp.ActionLog
	default:
		action = libseccomp.ActionKillProcess
	}
	// the least 16 bit of ret value is SECCOMP_RET_DATA
	if a.Action() == ActionErrno {
		action |= libseccomp.Action(uint16(a.ReturnCode()))
	}
	return action
}
