// Package pidlock implements the supervisor's own pidfile: an advisory
// exclusive lock plus a single-line PID file, removed on clean exit
// (spec.md §6 "Pidfile"). Grounded on original_source/supervice/core.py's
// _acquire_pidfile_lock/_release_pidfile_lock (fcntl.flock).
package pidlock

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// Lock holds an acquired pidfile lock; call Release to unlock and remove
// the file.
type Lock struct {
	path string
	fd   int
}

// Acquire opens (creating if needed) path, takes a non-blocking exclusive
// flock, truncates it, and writes the current PID. It fails if another
// supervisor instance already holds the lock.
func Acquire(path string) (*Lock, error) {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CREAT, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open pidfile %s: %w", path, err)
	}
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("another supervice instance is already running (pidfile: %s)", path)
	}
	if err := unix.Ftruncate(fd, 0); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("truncate pidfile %s: %w", path, err)
	}
	if _, err := unix.Seek(fd, 0, 0); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("seek pidfile %s: %w", path, err)
	}
	if _, err := unix.Write(fd, []byte(strconv.Itoa(os.Getpid()))); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("write pidfile %s: %w", path, err)
	}
	return &Lock{path: path, fd: fd}, nil
}

// Release unlocks, closes, and removes the pidfile.
func (l *Lock) Release() {
	if l == nil {
		return
	}
	_ = unix.Flock(l.fd, unix.LOCK_UN)
	_ = unix.Close(l.fd)
	_ = os.Remove(l.path)
}
