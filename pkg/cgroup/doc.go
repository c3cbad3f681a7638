// Package cgroup manages cgroup v2 nodes used to account and limit
// container processes.
//
// A Controller is rooted at a writable cgroup v2 directory (for example a
// delegated subtree such as /sys/fs/cgroup/user.slice/user-1000.slice/...).
// Nodes are created empty, configured with limits, joined by exactly one
// init process and removed once they hold no live processes.
//
// Available limits:
//  cpu.weight
//  cpu.max
//  memory.max
//  pids.max
package cgroup
