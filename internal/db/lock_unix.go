//go:build unix

package db

import (
	"golang.org/x/sys/unix"
)

func (l *dirLock) tryLock() error {
	return unix.Flock(int(l.file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}

func (l *dirLock) unlock() {
	if l.file != nil {
		unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	}
}

// isProcessAlive sends signal 0 to pid
func isProcessAlive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}
