package rnet

import (
	"syscall"

	"github.com/cockroachdb/errors"
)

// sendErrno unwraps a Socket.SendTo error down to its syscall.Errno,
// if any, so the §4.5/§7 send-error policy can classify it. Comparing
// against the named syscall constants (rather than platform-specific
// magic numbers) is what makes classifySendErrno portable: the
// syscall package maps each name to the right numeric value for the
// GOOS it was built for.
func sendErrno(err error) (syscall.Errno, bool) {
	if err == nil {
		return 0, false
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno, true
	}
	return 0, false
}
