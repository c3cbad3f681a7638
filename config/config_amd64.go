package config

// This file includes architecture specific seccomp settings

var archSyscallDeny = []string{
	"iopl", "ioperm", "modify_ldt",
}
