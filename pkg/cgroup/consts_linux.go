package cgroup

import "time"

const (
	// systemd mounted cgroups
	basePath       = "/sys/fs/cgroup"
	procSelfCgroup = "/proc/self/cgroup"

	cgroupProcs          = "cgroup.procs"
	cgroupKill           = "cgroup.kill"
	cgroupControllers    = "cgroup.controllers"
	cgroupSubtreeControl = "cgroup.subtree_control"

	filePerm = 0644
	dirPerm  = 0755

	CPU    = "cpu"
	CPUSet = "cpuset"
	IO     = "io"
	Memory = "memory"
	Pids   = "pids"
)

const (
	defaultRemoveAttempts = 8
	defaultRemoveDelay    = 10 * time.Millisecond
	maxRemoveDelay        = time.Second
)
