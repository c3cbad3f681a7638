// Package container runs a command as the init process of a fresh set of
// Linux namespaces, inside an isolated root filesystem and a cgroup v2 node.
//
// # Overview
//
// The init process is a re-exec of the current executable, so programs
// using this package must call Init as early as possible, usually in an
// init function or TestMain:
//
//	func init() {
//		container.Init()
//	}
//
// Create prepares the state directory and the cgroup of a Container.
// Start launches a Process and Destroy releases everything Create made.
//
// # Protocol
//
// Host and init communicate over a SOCK_SEQPACKET socket pair (fd 3 in the
// child), messages are encoded by gob. Every step is initiated by the
// host and the child never proceeds before the host replies:
//
// ## namespaces (clone with all namespace flags, exec /proc/self/exe)
//
// - child: blocks on receive
//
// ## mapped (uid_map / gid_map written by the host)
//
// - send: stage mapped, init request
// - child: re-exec itself to gain capabilities as the mapped root
//
// ## mounted (root switched, mount plan applied, pivot_root done)
//
// - reply: stage mounted / error
//
// ## joined (host wrote the pid into the cgroup)
//
// - send: stage joined
// - child: hostname, rlimits, credentials, seccomp, execve
// - reply: EOF (socket is close-on-exec) / error
//
// An error reply names the stage, the failed operation, the errno and, for
// mounts, the index of the failed step of the plan.
package container
