package rnet

import (
	"bytes"
	"net"

	"go.uber.org/atomic"
)

// EventKind tags what triggered an Event (§3).
type EventKind int32

const (
	EventConnect EventKind = iota
	EventDisconnect
	EventReceive
	EventReceiveUnconnected
	EventError
	EventLatencyUpdate
	EventDiscoveryRequest
	EventDiscoveryResponse
	EventConnectionRequest
)

// DisconnectReason explains why an EventDisconnect fired.
type DisconnectReason int32

const (
	ReasonRemoteConnectionClose DisconnectReason = iota
	ReasonDisconnectPeerCalled
	ReasonTimeout
	ReasonConnectionFailed
	ReasonSocketSendError
)

// UnconnectedKind distinguishes the three handshake-free packet kinds
// delivered through OnNetworkReceiveUnconnected.
type UnconnectedKind int32

const (
	KindUnconnectedMessage UnconnectedKind = iota
	KindDiscoveryRequest
	KindDiscoveryResponse
)

// Event is a tagged record drawn from the Event Pool (§4.1). The host
// must finish consuming Reader before ProcessEvent returns: in the
// synchronous poll model no further datagram overwrites the
// underlying buffer until then, but in UnsyncedEvents mode the host
// must copy any bytes it wants to retain before its callback returns.
type Event struct {
	Kind EventKind

	Peer       *Peer
	RemoteAddr net.Addr

	Reader  *bytes.Reader
	Channel uint8

	Aux    int // latency in ms, or a socket error code
	Reason DisconnectReason
	UKind  UnconnectedKind

	Request *ConnectionRequest
}

// reset clears every field so a recycled Event carries no stale
// references, per the pool invariant in spec.md §3.
func (e *Event) reset() {
	e.Kind = 0
	e.Peer = nil
	e.RemoteAddr = nil
	e.Reader = nil
	e.Channel = 0
	e.Aux = 0
	e.Reason = 0
	e.UKind = 0
	e.Request = nil
}

// ConnectionRequest is emitted for an inbound ConnectRequest; the host
// answers by calling Accept or Reject exactly once.
type ConnectionRequest struct {
	ConnectionID int64
	RemoteAddr   net.Addr
	Reader       *bytes.Reader

	resolve  func(accept bool)
	resolved atomic.Bool
}

// Accept admits the connection: a Peer is created (if the remote
// address is still absent) and an EventConnect fires.
func (r *ConnectionRequest) Accept() error {
	return r.doResolve(true)
}

// Reject declines the connection; the classifier does nothing further,
// the engine implementation may choose to send a rejection packet.
func (r *ConnectionRequest) Reject() error {
	return r.doResolve(false)
}

func (r *ConnectionRequest) doResolve(accept bool) error {
	if !r.resolved.CompareAndSwap(false, true) {
		return ErrAlreadyResolved
	}
	r.resolve(accept)
	return nil
}
