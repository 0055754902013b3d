//go:build !windows && !linux

package process

import "syscall"

// procAttrs builds the platform SysProcAttr. Non-Linux Unix kernels have no
// parent-death-signal facility; process-group isolation still applies.
func procAttrs(cred *syscall.Credential) *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:    true,
		Credential: cred,
	}
}
