//go:build unix

package faults

import (
	"errors"

	"golang.org/x/sys/unix"
)

var connErrnos = []error{
	unix.ECONNREFUSED,
	unix.ECONNRESET,
	unix.ECONNABORTED,
	unix.ENETDOWN,
	unix.ENETUNREACH,
	unix.EHOSTUNREACH,
	unix.ETIMEDOUT,
	unix.EPIPE,
}

// isConnErrno reports whether err carries a socket errno that means the peer
// could not be reached.
func isConnErrno(err error) bool {
	for _, errno := range connErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
