// Package faults defines the error taxonomy shared by the offline engine:
// network unavailable, server rejected, server unavailable, and local
// storage faults.
package faults

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

// Sentinel errors for each failure class. Wrap them with %w and test with errors.Is.
var (
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrServerRejected     = errors.New("server rejected")
	ErrServerUnavailable  = errors.New("server unavailable")
	ErrStorage            = errors.New("local storage fault")
)

// Class is the failure class of an error
type Class int

const (
	ClassNone Class = iota
	ClassNetworkUnavailable
	ClassServerRejected
	ClassServerUnavailable
	ClassStorage
	ClassUnknown
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassNetworkUnavailable:
		return "network_unavailable"
	case ClassServerRejected:
		return "server_rejected"
	case ClassServerUnavailable:
		return "server_unavailable"
	case ClassStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Retryable reports whether an operation that failed with this class should
// stay queued for another attempt. Unknown failures are retried so that no
// input is dropped on an error nobody classified.
func (c Class) Retryable() bool {
	switch c {
	case ClassNetworkUnavailable, ClassServerUnavailable, ClassUnknown:
		return true
	}
	return false
}

// Classify maps err to its failure class
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	switch {
	case errors.Is(err, ErrStorage):
		return ClassStorage
	case errors.Is(err, ErrServerRejected):
		return ClassServerRejected
	case errors.Is(err, ErrServerUnavailable):
		return ClassServerUnavailable
	case errors.Is(err, ErrNetworkUnavailable):
		return ClassNetworkUnavailable
	case errors.Is(err, context.Canceled):
		// The caller gave up; that says nothing about the network.
		return ClassUnknown
	case errors.Is(err, context.DeadlineExceeded):
		return ClassNetworkUnavailable
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassNetworkUnavailable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ClassNetworkUnavailable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ClassNetworkUnavailable
	}
	if isConnErrno(err) {
		return ClassNetworkUnavailable
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return ClassNetworkUnavailable
	}
	return ClassUnknown
}

// IsNetwork reports whether err means the backend could not be reached
func IsNetwork(err error) bool {
	return Classify(err) == ClassNetworkUnavailable
}

// IsRejected reports whether err is a server-side rejection of the payload
func IsRejected(err error) bool {
	return Classify(err) == ClassServerRejected
}

// Storage wraps err as a storage fault for operation op
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// Network wraps a transport error as network unavailable
func Network(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrNetworkUnavailable, err)
}
