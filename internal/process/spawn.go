//go:build !windows

package process

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/arrowcrest/supervice/internal/logger"
)

// Handle wraps a started *exec.Cmd together with the log writers opened for
// its lifetime, so the caller can close them once the child is reaped.
type Handle struct {
	Cmd    *exec.Cmd
	Stdout io.WriteCloser
	Stderr io.WriteCloser
}

// Spawn builds and starts the child process for spec, merging mergedEnv as
// its environment. It implements spec.md §4.C's spawn steps 2-5.
func Spawn(spec *Spec, mergedEnv []string, logCfg logger.Config) (*Handle, SpawnResult, error) {
	cmd := spec.BuildCommand()

	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(mergedEnv) > 0 {
		cmd.Env = mergedEnv
	}

	var cred *syscall.Credential
	if spec.User != "" {
		c, err := credentialFor(spec.User)
		if err != nil {
			return nil, ResultUserSwitchFailed, err
		}
		cred = c
	}
	cmd.SysProcAttr = procAttrs(cred)

	h := &Handle{Cmd: cmd}
	// Per-instance stdout_logfile/stderr_logfile (spec.md §6) take priority
	// over the supervisor-wide logCfg, which only supplies a fallback
	// directory/rotation policy for programs that don't set their own.
	instCfg := logCfg
	if spec.StdoutLogfile != "" {
		instCfg.StdoutPath = spec.StdoutLogfile
	}
	if spec.StderrLogfile != "" {
		instCfg.StderrPath = spec.StderrLogfile
	}
	if instCfg.Dir != "" || instCfg.StdoutPath != "" || instCfg.StderrPath != "" {
		if instCfg.Dir != "" {
			_ = os.MkdirAll(instCfg.Dir, 0o750)
		}
		for _, p := range []string{instCfg.StdoutPath, instCfg.StderrPath} {
			if dir := filepath.Dir(p); p != "" && dir != "." {
				_ = os.MkdirAll(dir, 0o750)
			}
		}
		outW, errW, _ := instCfg.Writers(spec.Name)
		h.Stdout, h.Stderr = outW, errW
	}
	if h.Stdout != nil {
		cmd.Stdout = h.Stdout
	} else {
		cmd.Stdout = io.Discard
	}
	if h.Stderr != nil {
		cmd.Stderr = h.Stderr
	} else {
		cmd.Stderr = io.Discard
	}

	if err := cmd.Start(); err != nil {
		closeHandle(h)
		var execErr *exec.Error
		if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
			return nil, ResultExecNotFound, err
		}
		if os.IsPermission(err) {
			return nil, ResultUserSwitchFailed, err
		}
		return nil, ResultOther, err
	}
	return h, ResultOK, nil
}

func closeHandle(h *Handle) {
	if h == nil {
		return
	}
	if h.Stdout != nil {
		_ = h.Stdout.Close()
	}
	if h.Stderr != nil {
		_ = h.Stderr.Close()
	}
}

// Close releases the log writers held by h.
func (h *Handle) Close() { closeHandle(h) }
