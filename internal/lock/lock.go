// Package lock provides a filesystem-based mutual-exclusion primitive that
// guarantees at most one live runner per workspace directory. The persisted
// form is a single file containing the holder's decimal process id.
//
// Acquire is read-then-write, not atomic: two processes racing on first
// creation can both win. The window is accepted for this low-contention
// operational tool; an flock(2)-style exclusive lock would close it.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/robertgumeny/issuerunner/internal/log"
)

// FileName is the lock file created under the workspace root.
const FileName = ".issuerunner.lock"

// ErrAlreadyRunning is returned by Acquire when another live process holds
// the lock. It is fatal to startup.
var ErrAlreadyRunning = errors.New("runner already active in this workspace")

// Lock is the process lock for one workspace directory.
type Lock struct {
	path     string
	pid      int
	acquired bool

	// alive is swappable so tests can simulate live and dead holders
	// without spawning processes.
	alive func(pid int) bool
}

// New creates a Lock for the workspace directory. The lock is not held
// until Acquire succeeds.
func New(workspace string) *Lock {
	return &Lock{
		path:  filepath.Join(workspace, FileName),
		pid:   os.Getpid(),
		alive: processAlive,
	}
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Held reports whether this instance currently holds the lock.
func (l *Lock) Held() bool { return l.acquired }

// Acquire takes the lock, removing corrupt or stale lock files along the
// way. If another live process holds the lock, Acquire fails with an error
// wrapping ErrAlreadyRunning that names the holder's pid.
func (l *Lock) Acquire() error {
	data, err := os.ReadFile(l.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// No holder; fall through to claim.
	case err != nil:
		return fmt.Errorf("read lock file %s: %w", l.path, err)
	default:
		holder, parseErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if parseErr != nil {
			log.Warning(fmt.Sprintf("invalid lock file content in %s, removing", l.path))
			if err := os.Remove(l.path); err != nil {
				return fmt.Errorf("remove corrupt lock file %s: %w", l.path, err)
			}
		} else if l.alive(holder) {
			return fmt.Errorf("%w: pid %d", ErrAlreadyRunning, holder)
		} else {
			log.Info(fmt.Sprintf("cleaning up stale lock file from pid %d", holder))
			if err := os.Remove(l.path); err != nil {
				return fmt.Errorf("remove stale lock file %s: %w", l.path, err)
			}
		}
	}

	if err := os.WriteFile(l.path, []byte(strconv.Itoa(l.pid)), 0o644); err != nil {
		return fmt.Errorf("write lock file %s: %w", l.path, err)
	}
	l.acquired = true
	log.Info(fmt.Sprintf("lock acquired with pid %d", l.pid))
	return nil
}

// Release drops the lock. It is a no-op when the lock is not held by this
// instance and idempotent: a lock file already removed externally is fine.
func (l *Lock) Release() error {
	if !l.acquired {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock file %s: %w", l.path, err)
	}
	l.acquired = false
	log.Info(fmt.Sprintf("lock released for pid %d", l.pid))
	return nil
}

// processAlive probes pid with signal 0: no signal is delivered, only an
// existence check is performed. ESRCH means the process is gone; any other
// outcome, including EPERM for a process owned by another user, counts as
// alive.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return !errors.Is(err, syscall.ESRCH) && !errors.Is(err, os.ErrProcessDone)
}
