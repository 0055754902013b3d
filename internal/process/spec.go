// Package process builds and launches the OS process backing one program
// instance. It owns only spawn mechanics (command construction, user
// switching, process-group attributes, signal delivery); the supervision
// state machine lives in internal/supervisor.
package process

import (
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// HealthSpec mirrors the health-check spec from the program configuration
// (spec.md §3). Tag selects the concrete checker; the other fields are
// interpreted by internal/health.
type HealthSpec struct {
	Tag         string // "none", "tcp", "script"
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	StartPeriod time.Duration
	Host        string
	Port        int
	Command     string
}

// Spec describes one program instance (after numprocs expansion, so Name
// already carries the ":NN" suffix where applicable).
type Spec struct {
	Name            string
	Command         string
	WorkDir         string
	Env             []string // "K=V" overlay, merged over the supervisor's own environment
	User            string   // optional effective user
	AutoStart       bool
	AutoRestart     bool
	StartSecs       time.Duration
	StartRetries    int
	StopSignal      string // POSIX signal name, validated at config load
	StopWaitSecs    time.Duration
	StdoutLogfile   string
	StderrLogfile   string
	Group           string
	Health          HealthSpec
}

// BuildCommand constructs an *exec.Cmd for s.Command. It splits the command
// line into argv on whitespace only (the first token is resolved via PATH if
// not absolute) and never promotes to a shell on its own account. Quotes and
// backslashes are not interpreted: `echo "a b"` yields the two arguments
// `"a` and `b"`. An explicit leading "sh -c"/"/bin/sh -c" invocation already
// present in the command string is honored as-is, so it isn't double-wrapped
// with another shell.
func (s *Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	if _, afterC, ok := parseExplicitShell(cmdStr); ok {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", afterC)
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// #nosec G204
	return exec.Command(name, args...)
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>"
// at the start of cmdStr, returning (shellPath, afterCArg, true) on match.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return strings.Fields(p)[0], after, true
		}
	}
	return "", "", false
}

// ExpandProcessNum replaces the "%(process_num)s" token with the zero-padded
// instance index, as spec.md §3 requires for stdout/stderr log paths.
func ExpandProcessNum(path string, idx int) string {
	if path == "" {
		return path
	}
	return strings.ReplaceAll(path, "%(process_num)s", padIndex(idx))
}

func padIndex(idx int) string {
	return fmt.Sprintf("%02d", idx)
}
