package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	lockFileName       = "posync.lock"
	defaultLockTimeout = 500 * time.Millisecond
	initialBackoff     = 5 * time.Millisecond
	maxBackoff         = 50 * time.Millisecond
)

// ErrLocked is returned when another process holds the data directory
var ErrLocked = errors.New("data directory in use")

// dirLock gives one process exclusive use of a data directory through an OS
// file lock. The OS drops the lock when the process exits, crashes included.
type dirLock struct {
	path string
	file *os.File
}

func newDirLock(dir string) *dirLock {
	return &dirLock{path: filepath.Join(dir, lockFileName)}
}

// acquire takes the lock, retrying with capped backoff until timeout.
// On timeout the error names the current holder.
func (l *dirLock) acquire(timeout time.Duration) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	l.file = f

	deadline := time.Now().Add(timeout)
	backoff := initialBackoff
	for {
		if err := l.tryLock(); err == nil {
			l.writeHolder()
			return nil
		}

		if time.Now().After(deadline) {
			holder := l.readHolder()
			l.file.Close()
			l.file = nil
			return fmt.Errorf("%w after %v\n  holder: %s", ErrLocked, timeout, holder)
		}

		time.Sleep(backoff)
		backoff = min(backoff*2, maxBackoff)
	}
}

func (l *dirLock) release() error {
	if l.file == nil {
		return nil
	}
	l.file.Truncate(0)
	l.unlock()
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *dirLock) writeHolder() {
	l.file.Truncate(0)
	l.file.Seek(0, 0)
	fmt.Fprintf(l.file, "pid:%d\ntime:%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	l.file.Sync()
}

// readHolder describes the process named in the lock file
func (l *dirLock) readHolder() string {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return "unknown"
	}

	var pid, since string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if v, ok := strings.CutPrefix(line, "pid:"); ok {
			pid = v
		} else if v, ok := strings.CutPrefix(line, "time:"); ok {
			since = v
		}
	}
	if pid == "" {
		return "unknown"
	}

	if n, err := strconv.Atoi(pid); err == nil && !isProcessAlive(n) {
		return fmt.Sprintf("pid:%s since %s (STALE - process dead)", pid, since)
	}
	return fmt.Sprintf("pid:%s since %s", pid, since)
}
