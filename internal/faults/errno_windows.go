//go:build windows

package faults

import (
	"errors"
	"syscall"

	"golang.org/x/sys/windows"
)

var connErrnos = []error{
	syscall.Errno(windows.WSAECONNREFUSED),
	syscall.Errno(windows.WSAECONNRESET),
	syscall.Errno(windows.WSAECONNABORTED),
	syscall.Errno(windows.WSAENETDOWN),
	syscall.Errno(windows.WSAENETUNREACH),
	syscall.Errno(windows.WSAEHOSTUNREACH),
	syscall.Errno(windows.WSAETIMEDOUT),
}

// isConnErrno reports whether err carries a winsock error that means the
// peer could not be reached.
func isConnErrno(err error) bool {
	for _, errno := range connErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
