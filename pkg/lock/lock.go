// Package lock serializes writer access to a Skuld workspace across OS
// processes with a PID-based advisory file lock.
//
// The lock is a JSON record {pid, timestamp} created exclusively at a
// well-known path. Presence denotes an active writer. A lock whose recorded
// process is no longer running is stale and is reclaimed on the next acquire
// attempt, so a crashed writer never blocks the workspace indefinitely.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

const (
	// FileName is the lock file's name inside the workspace metadata
	// directory.
	FileName = "lock"

	maxAttempts = 3
	backoffStep = 200 * time.Millisecond
)

// Lock acquisition and release errors.
var (
	// ErrLockExists means another live process holds the lock.
	ErrLockExists = errors.New("lock: already held by a running process")

	// ErrAcquireFailed means the retry budget was exhausted without
	// obtaining the lock.
	ErrAcquireFailed = errors.New("lock: failed to acquire after retries")

	// ErrCleanupFailed means a stale lock was detected but could not be
	// removed.
	ErrCleanupFailed = errors.New("lock: failed to remove stale lock")

	// ErrReleaseFailed means the held lock could not be removed.
	ErrReleaseFailed = errors.New("lock: failed to release")
)

// Record is the persisted lock content.
type Record struct {
	PID       int       `json:"pid"`
	Timestamp time.Time `json:"timestamp"`
}

// Lock is a held write lock. Release it exactly once; Release is idempotent
// and also runs automatically on SIGINT/SIGTERM so an interrupted process
// does not leave a live-looking lock behind.
type Lock struct {
	path string

	mu       sync.Mutex
	released bool
	sigCh    chan os.Signal
}

// Acquire takes the write lock for the workspace metadata directory dir.
//
// The lock file is created exclusively. If it already exists, the recorded
// pid is probed for liveness: a dead owner's lock is removed and the attempt
// retried immediately, a live owner causes a backoff of 200ms times the
// attempt number. After three failed attempts Acquire returns
// ErrAcquireFailed.
func Acquire(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("lock: create metadata directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, FileName)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lk, err := tryAcquire(path)
		if err == nil {
			lk.installSignalGuard()
			return lk, nil
		}
		if !errors.Is(err, ErrLockExists) {
			return nil, err
		}

		stale, staleErr := isStale(path)
		if staleErr != nil {
			return nil, staleErr
		}
		if stale {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %v", ErrCleanupFailed, err)
			}
			// Reclaimed; retry immediately without burning the backoff.
			continue
		}

		if attempt < maxAttempts {
			time.Sleep(time.Duration(attempt) * backoffStep)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrAcquireFailed, path)
}

func tryAcquire(path string) (*Lock, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrLockExists
		}
		return nil, fmt.Errorf("lock: create %s: %w", path, err)
	}
	defer file.Close()

	record := Record{PID: os.Getpid(), Timestamp: time.Now().UTC()}
	if err := json.NewEncoder(file).Encode(record); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("lock: write %s: %w", path, err)
	}
	return &Lock{path: path}, nil
}

// isStale reports whether the lock at path belongs to a process that is no
// longer running. An unreadable or malformed lock file is treated as stale:
// it cannot name a live owner.
func isStale(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Raced with the owner's release; the next attempt will win.
			return false, nil
		}
		return false, fmt.Errorf("lock: read %s: %w", path, err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return true, nil
	}
	if record.PID <= 0 {
		return true, nil
	}

	alive, err := process.PidExists(int32(record.PID))
	if err != nil {
		// Can't prove the owner is dead; treat the lock as live.
		return false, nil
	}
	return !alive, nil
}

// Release removes the lock file. It only removes a lock still owned by this
// process and is safe to call more than once.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.releaseLocked()
}

func (l *Lock) releaseLocked() error {
	if l.released {
		return nil
	}
	l.released = true

	if l.sigCh != nil {
		signal.Stop(l.sigCh)
		close(l.sigCh)
		l.sigCh = nil
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrReleaseFailed, err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err == nil && record.PID != os.Getpid() {
		// Someone reclaimed the lock from under us (e.g. after a long
		// stall); never remove another process's lock.
		return fmt.Errorf("%w: lock now owned by pid %d", ErrReleaseFailed, record.PID)
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrReleaseFailed, err)
	}
	return nil
}

// installSignalGuard releases the lock when the process receives SIGINT or
// SIGTERM, then re-raises the signal so the default termination behavior is
// preserved. This covers both the normal release path and interruption with
// a single abstraction.
func (l *Lock) installSignalGuard() {
	l.sigCh = make(chan os.Signal, 1)
	signal.Notify(l.sigCh, os.Interrupt, syscall.SIGTERM)
	go func(ch chan os.Signal) {
		sig, ok := <-ch
		if !ok {
			return
		}
		_ = l.Release()
		if s, isSyscall := sig.(syscall.Signal); isSyscall {
			_ = syscall.Kill(os.Getpid(), s)
		}
	}(l.sigCh)
}

// WithLock acquires the lock, runs fn, and releases the lock even when fn
// fails. The release error is surfaced only if fn itself succeeded.
func WithLock(dir string, fn func() error) error {
	lk, err := Acquire(dir)
	if err != nil {
		return err
	}
	fnErr := fn()
	if relErr := lk.Release(); relErr != nil && fnErr == nil {
		return relErr
	}
	return fnErr
}
