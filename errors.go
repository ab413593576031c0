package rnet

import (
	"syscall"

	"github.com/cockroachdb/errors"
)

// Sentinel errors, comparable with errors.Is across the
// classifier -> manager -> host boundary.
var (
	ErrNotRunning       = errors.New("rnet: manager is not running")
	ErrAlreadyRunning   = errors.New("rnet: manager is already running")
	ErrAlreadyClosed    = errors.New("rnet: peer already closed")
	ErrUnknownPeer      = errors.New("rnet: unknown peer")
	ErrPayloadTooLarge  = errors.New("rnet: disconnect payload too large for peer MTU")
	ErrInvalidSocket    = errors.New("rnet: nil socket")
	ErrInvalidEngine    = errors.New("rnet: nil engine factory")
	ErrAlreadyResolved  = errors.New("rnet: connection request already resolved")
)

// sendErrorPolicy classifies a Socket.SendTo error per §4.5/§7.
type sendErrorPolicy int

const (
	sendErrTransient sendErrorPolicy = iota // ignored, e.g. no-route
	sendErrOversize                         // logged, no disconnect
	sendErrFatal                            // force-disconnect known peer, emit Error
)

// ignoredSendErrnos are socket error codes that never surface to the
// host nor trigger a disconnect (§4.5): no route to host is transient
// on a UDP socket, not a reason to tear down the peer. Named
// syscall.Errno constants are used instead of raw numbers so this
// classification is correct on every GOOS this module builds for, not
// just the WSA codes of one platform.
var ignoredSendErrnos = map[syscall.Errno]bool{
	syscall.EHOSTUNREACH: true,
	syscall.ENETUNREACH:  true,
}

// oversizeSendErrno is "message too long for the underlying
// transport" (WSAEMSGSIZE on Windows, EMSGSIZE elsewhere). It is
// logged and reported as a send failure but never triggers a
// disconnect.
const oversizeSendErrno = syscall.EMSGSIZE

func classifySendErrno(errno syscall.Errno) sendErrorPolicy {
	switch {
	case ignoredSendErrnos[errno]:
		return sendErrTransient
	case errno == oversizeSendErrno:
		return sendErrOversize
	default:
		return sendErrFatal
	}
}
