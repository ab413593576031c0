package rnet

import "net"

// ReceiveFunc is invoked by a Socket for every inbound datagram (or
// receive error). data is only valid until ReceiveFunc returns; a
// Socket implementation reuses its receive buffer across calls.
type ReceiveFunc func(data []byte, from net.Addr, err error)

// Socket is the raw datagram transport the session manager drives. It
// is an external collaborator: bind, send, broadcast, and an
// asynchronous receive callback are all the manager needs. A
// reference net.PacketConn-backed implementation lives in the
// sibling socket package.
type Socket interface {
	// Bind starts listening on port (0 picks an ephemeral port) and
	// begins invoking the receive callback set by SetReceiveCallback
	// on its own goroutine(s).
	Bind(port int) error

	// SendTo must be safe for concurrent use by multiple goroutines.
	SendTo(b []byte, addr net.Addr) (int, error)

	// Broadcast sends b to the LAN broadcast address on port.
	Broadcast(b []byte, port int) error

	Close() error
	LocalAddr() net.Addr

	// SetReceiveCallback must be called before Bind.
	SetReceiveCallback(fn ReceiveFunc)
}
