//go:build windows

package db

import (
	"golang.org/x/sys/windows"
)

// tryLock locks the first byte of the file without waiting
func (l *dirLock) tryLock() error {
	ol := new(windows.Overlapped)
	return windows.LockFileEx(
		windows.Handle(l.file.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY,
		0,
		1,
		0,
		ol,
	)
}

func (l *dirLock) unlock() {
	if l.file != nil {
		ol := new(windows.Overlapped)
		windows.UnlockFileEx(windows.Handle(l.file.Fd()), 0, 1, 0, ol)
	}
}

func isProcessAlive(pid int) bool {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)

	var exitCode uint32
	if err := windows.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false
	}
	return exitCode == 259 // STILL_ACTIVE
}
