package container

import "fmt"

// Stage is the state of a launched process. Stages before StageExecuting
// are passed strictly in order, a failure leaves the process in the stage
// it could not complete.
type Stage int

// Launch stages
const (
	StageConfigured Stage = iota
	StageNamespacesCreated
	StageIDMapped
	StageRootSwitched
	StageMountsApplied
	StageCgroupJoined
	StageExecuting
	StageExited
	StageSignaled
	StageFailed
)

var stageNames = [...]string{
	StageConfigured:        "configured",
	StageNamespacesCreated: "namespaces created",
	StageIDMapped:          "id mapped",
	StageRootSwitched:      "root switched",
	StageMountsApplied:     "mounts applied",
	StageCgroupJoined:      "cgroup joined",
	StageExecuting:         "executing",
	StageExited:            "exited",
	StageSignaled:          "signaled",
	StageFailed:            "failed",
}

func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Terminal reports whether the process is gone
func (s Stage) Terminal() bool {
	return s >= StageExited
}

// kind returns the error class of a failure while completing s
func (s Stage) kind() error {
	switch s {
	case StageConfigured:
		return ErrInvalidConfig
	case StageNamespacesCreated:
		return ErrNamespace
	case StageIDMapped:
		return ErrIDMap
	case StageRootSwitched, StageMountsApplied:
		return ErrMount
	case StageCgroupJoined:
		return ErrCgroup
	default:
		return ErrExec
	}
}
