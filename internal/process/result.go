package process

// SpawnResult replaces "exceptions as control flow in spawn" (spec.md §9)
// with an explicit, exhaustively-matched result.
type SpawnResult int

const (
	// ResultOK means the child was started successfully.
	ResultOK SpawnResult = iota
	// ResultExecNotFound means the executable could not be resolved,
	// either directly or via PATH.
	ResultExecNotFound
	// ResultUserSwitchFailed means the configured effective user could
	// not be resolved, or the kernel refused the uid/gid switch at exec
	// time (e.g. insufficient privilege).
	ResultUserSwitchFailed
	// ResultPreexecFailed covers any other failure strictly before the
	// child runs (spec.md's "preexec failure", exit code 127 once the
	// child can run a shell that reports command-not-found itself).
	ResultPreexecFailed
	// ResultOther is any other Start() failure.
	ResultOther
)

func (r SpawnResult) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultExecNotFound:
		return "exec-not-found"
	case ResultUserSwitchFailed:
		return "user-switch-failed"
	case ResultPreexecFailed:
		return "preexec-failed"
	default:
		return "other"
	}
}

// ExitClass classifies a reaped child's exit code per spec.md §4.C step 7.
type ExitClass int

const (
	// ExitNormal means the child should be treated as EXITED.
	ExitNormal ExitClass = iota
	// ExitUserSwitchFailure is exit code 126 (found but not executable /
	// permission denied) — FATAL.
	ExitUserSwitchFailure
	// ExitPreexecFailure is exit code 127 (command not found) — FATAL.
	ExitPreexecFailure
)

// ClassifyExit maps a reaped exit code to its spec.md §4.C classification.
func ClassifyExit(code int) ExitClass {
	switch code {
	case 126:
		return ExitUserSwitchFailure
	case 127:
		return ExitPreexecFailure
	default:
		return ExitNormal
	}
}
