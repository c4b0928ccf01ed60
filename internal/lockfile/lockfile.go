// Package lockfile guards a SurveyPipe state directory against a second running instance.
//
// The lock is an advisory flock on a file inside the directory; the kernel drops it when
// the holding process exits, so a crash never leaves the directory locked.
package lockfile

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// LockFileName is the name of the lock file created in the state directory
const LockFileName = "surveypipe.lock"

// Owner describes the process recorded in a lock file.
type Owner struct {
	PID     int
	Started time.Time
}

// String renders the owner for error messages.
func (o Owner) String() string {
	if o.PID <= 0 {
		return "unknown process"
	}
	state := "not running, stale lock"
	if processAlive(o.PID) {
		state = "running"
	}
	if o.Started.IsZero() {
		return fmt.Sprintf("PID %d (%s)", o.PID, state)
	}
	return fmt.Sprintf("PID %d started %s (%s)", o.PID, o.Started.Format(time.RFC3339), state)
}

// Lock represents a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// AcquireLock takes the exclusive lock on stateDir, creating the directory if needed.
// When another process holds it, the error is a *LockError naming that process.
func AcquireLock(stateDir string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("Acquiring state directory lock", "lock_path", lockPath)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// O_TRUNC would wipe the holder's owner record before we know whether we win.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		owner := readOwner(file)
		file.Close()
		slog.Error("State directory is locked by another SurveyPipe instance", "lock_path", lockPath, "owner", owner.String())
		return nil, &LockError{LockPath: lockPath, Owner: owner, Cause: err}
	}

	if err := writeOwner(file, Owner{PID: os.Getpid(), Started: time.Now().UTC()}); err != nil {
		unix.Flock(int(file.Fd()), unix.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("Acquired state directory lock", "lock_path", lockPath, "pid", os.Getpid())
	return &Lock{file: file, path: lockPath}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock and removes the lock file. It is safe to call more than once.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove lock file", "error", err, "lock_path", l.path)
	}
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		slog.Warn("Failed to release flock", "error", err, "lock_path", l.path)
	}
	err := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("failed to close lock file %s: %w", l.path, err)
	}
	slog.Info("Released state directory lock", "lock_path", l.path)
	return nil
}

// LockError reports that another instance holds the state directory.
type LockError struct {
	LockPath string
	Owner    Owner
	Cause    error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Another SurveyPipe instance is already running using the same state directory.\n\nLock file: %s\nHeld by: %s", e.LockPath, e.Owner)
	fmt.Fprintf(&b, "\n\nIf the holder is not running the lock is stale and can be removed with:\n  rm %s", e.LockPath)
	return b.String()
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

func writeOwner(f *os.File, o Owner) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "pid=%d\nstarted=%s\n", o.PID, o.Started.Format(time.RFC3339)); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("Failed to sync lock file", "error", err, "lock_path", f.Name())
	}
	return nil
}

func readOwner(f *os.File) Owner {
	if _, err := f.Seek(0, 0); err != nil {
		return Owner{}
	}
	return parseOwner(f)
}

// parseOwner reads key=value lines; unknown keys and malformed values are ignored.
func parseOwner(r io.Reader) Owner {
	var o Owner
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil {
				o.PID = pid
			}
		case "started":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				o.Started = t
			}
		}
	}
	return o
}

// processAlive probes pid with signal 0.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
