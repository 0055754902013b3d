// Package logger provides the supervisor's own log sink and the per-process
// stdout/stderr log writers, both size-bounded and rotated the same way
// (spec.md §6, §9 "global logger").
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters, matching the teacher's internal/logger.
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

// Config describes the stdout/stderr log destinations for one program
// instance. If StdoutPath/StderrPath are empty and Dir is set, files are
// Dir/<name>.stdout.log and Dir/<name>.stderr.log.
type Config struct {
	Dir        string
	StdoutPath string
	StderrPath string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Writers returns io.WriteClosers for stdout and stderr for the given
// instance name (which may already carry a ":NN" suffix).
func (c Config) Writers(name string) (io.WriteCloser, io.WriteCloser, error) {
	stdout := c.StdoutPath
	stderr := c.StderrPath
	if stdout == "" && c.Dir != "" {
		stdout = filepath.Join(c.Dir, fmt.Sprintf("%s.stdout.log", name))
	}
	if stderr == "" && c.Dir != "" {
		stderr = filepath.Join(c.Dir, fmt.Sprintf("%s.stderr.log", name))
	}
	var outW, errW io.WriteCloser
	if stdout != "" {
		outW = &lj.Logger{
			Filename:   stdout,
			MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   c.Compress,
		}
	}
	if stderr != "" {
		errW = &lj.Logger{
			Filename:   stderr,
			MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   c.Compress,
		}
	}
	return outW, errW, nil
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// New builds the supervisor's own structured logger, writing lines in
// spec.md §6's "YYYY-MM-DD HH:MM:SS LEVEL message" format to logfile (or
// os.Stderr-equivalent writer w if logfile is empty). When maxBytes > 0 the
// logfile is rotated at that size (rounded up to whole megabytes) keeping
// backups old files; otherwise it is appended to without rotation.
func New(w io.Writer, logfile string, maxBytes, backups int, level slog.Level) *slog.Logger {
	var out io.Writer = w
	if logfile != "" && maxBytes > 0 {
		const megabyte = 1 << 20
		out = &lj.Logger{
			Filename:   logfile,
			MaxSize:    (maxBytes + megabyte - 1) / megabyte,
			MaxBackups: backups,
			Compress:   false,
		}
	} else if logfile != "" {
		if f, err := os.OpenFile(logfile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			out = f
		}
	}
	h := NewLineHandler(out, level)
	return slog.New(h)
}

// ParseLevel maps spec.md §6's loglevel names (DEBUG, INFO, WARNING/WARN,
// ERROR, CRITICAL) onto slog levels; CRITICAL has no slog equivalent so it
// is mapped above Error.
func ParseLevel(name string) slog.Level {
	switch name {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO", "":
		return slog.LevelInfo
	case "WARNING", "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	case "CRITICAL":
		return slog.LevelError + 4
	default:
		return slog.LevelInfo
	}
}
