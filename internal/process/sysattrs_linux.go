//go:build linux

package process

import "syscall"

// procAttrs builds the platform SysProcAttr: new process group (so
// KillGroup reaches the whole tree) and, on Linux, a parent-death signal so
// an orphaned child is killed if the supervisor itself crashes (spec.md
// §4.C spawn step 4).
func procAttrs(cred *syscall.Credential) *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
		Credential: cred,
	}
}
