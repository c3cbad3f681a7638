//go:build !amd64 && !386

package config

var archSyscallDeny []string
