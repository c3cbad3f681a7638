package container

import "golang.org/x/sys/unix"

const (
	initArg = "sbox_init"

	// arguments of the two init phases
	phaseMap = "map"
	phaseRun = "run"

	// control socket of the init process
	controlFd = 3
	// sealed init binary, see Config.SealedInit
	initFd = 4

	// exit code of init when it fails before exec
	initFailedCode = 125

	containerMaxProc = 1

	selfExe = "/proc/self/exe"
)

// PathEnv defines path environment variable for the contained process
const PathEnv = "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

var defaultEnv = []string{PathEnv, "HOME=/root", "TERM=xterm"}

// namespaces created by every container
const baseCloneFlags = unix.CLONE_NEWUSER | unix.CLONE_NEWNS | unix.CLONE_NEWUTS | unix.CLONE_NEWIPC
