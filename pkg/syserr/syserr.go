// Package syserr holds the small, fixed vocabulary of error kinds that the
// condition variable and mutex packages can return. It mirrors the shape of
// gVisor's pkg/errors and pkg/errors/linuxerr: a distinct *Error type
// wrapping a POSIX errno so that callers can compare by pointer identity
// instead of parsing strings, while still satisfying the error interface.
package syserr

import (
	"golang.org/x/sys/unix"
)

// Error is a syscall-errno-flavored error with a fixed, descriptive message.
type Error struct {
	errno   unix.Errno
	message string
}

// New creates a new *Error for errno.
func New(errno unix.Errno, message string) *Error {
	return &Error{errno: errno, message: message}
}

// Error implements error.
func (e *Error) Error() string { return e.message }

// Errno returns the underlying errno value, for callers that need to cross
// back into the unix.Errno space (e.g. to compare against a value returned
// by the mutex collaborator).
func (e *Error) Errno() unix.Errno { return e.errno }

// The fixed error kinds consumed by pkg/cond and pkg/mutex. Names follow
// spec section 7's abstract vocabulary rather than POSIX spelling.
var (
	// ErrPermissionDenied is returned when TimedWait is invoked without
	// owning an ownership-tracking mutex.
	ErrPermissionDenied = New(unix.EPERM, "condition variable wait: mutex not owned by calling thread")

	// ErrInvalidArgument is returned for a malformed deadline.
	ErrInvalidArgument = New(unix.EINVAL, "condition variable wait: invalid deadline")

	// ErrTimedOut is returned when a deadline elapses before a signal.
	ErrTimedOut = New(unix.ETIMEDOUT, "condition variable wait: timed out")

	// ErrOwnerDied is propagated from mutex reacquisition when the mutex
	// is a robust mutex whose previous owner terminated while holding it.
	ErrOwnerDied = New(unix.EOWNERDEAD, "mutex: previous owner died")
)

// Is reports whether err is the given sentinel, unwrapping the Errno if
// err is a bare unix.Errno (as syscalls return) rather than an *Error.
func Is(err error, sentinel *Error) bool {
	if err == sentinel {
		return true
	}
	if e, ok := err.(unix.Errno); ok {
		return e == sentinel.errno
	}
	return false
}
