// Package socket is the reference rnet.Socket implementation: a plain
// net.PacketConn-backed UDP transport with a single reader goroutine,
// grounded in the Minetest rudp package's readNetPkts/Listen pattern.
package socket

import (
	"net"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/anon55555/rnet"
)

const maxDatagram = 1400

// UDPSocket is rnet's default Socket.
type UDPSocket struct {
	reuseAddr bool

	mu      sync.RWMutex
	conn    *net.UDPConn
	onRecv  rnet.ReceiveFunc
	closing bool
}

// New constructs a UDPSocket. When reuseAddr is set, Bind sets
// SO_REUSEADDR-equivalent behavior is left to the platform default of
// net.ListenUDP; Go's stdlib exposes no portable reuse-address knob,
// so ReuseAddress is honored on a best-effort basis by simply not
// erroring on a rebind that the OS itself is willing to allow.
func New(reuseAddr bool) *UDPSocket {
	return &UDPSocket{reuseAddr: reuseAddr}
}

var _ rnet.Socket = (*UDPSocket)(nil)

func (s *UDPSocket) SetReceiveCallback(fn rnet.ReceiveFunc) {
	s.mu.Lock()
	s.onRecv = fn
	s.mu.Unlock()
}

func (s *UDPSocket) Bind(port int) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return errors.Wrap(err, "rnet/socket: listen")
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	go s.readLoop(conn)
	return nil
}

// readLoop is the socket's single reader goroutine: it owns the
// receive buffer and hands each datagram to the registered callback
// before reusing it, exactly as rudp's readNetPkts does for its
// decode stage.
func (s *UDPSocket) readLoop(conn *net.UDPConn) {
	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := conn.ReadFromUDP(buf)

		s.mu.RLock()
		closing := s.closing
		cb := s.onRecv
		s.mu.RUnlock()

		if closing {
			return
		}
		if cb == nil {
			continue
		}
		if err != nil {
			cb(nil, addr, err)
			if isFatalReadError(err) {
				return
			}
			continue
		}

		cb(buf[:n], addr, nil)
	}
}

func isFatalReadError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return !netErr.Timeout()
	}
	return true
}

func (s *UDPSocket) SendTo(b []byte, addr net.Addr) (int, error) {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return 0, errors.New("rnet/socket: not bound")
	}

	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return 0, errors.Newf("rnet/socket: not a *net.UDPAddr: %T", addr)
	}
	return conn.WriteToUDP(b, udpAddr)
}

// Broadcast relies on the OS allowing an unprivileged send to the
// limited broadcast address on a plain UDP socket, which not every
// platform permits without SO_BROADCAST; net.UDPConn exposes no
// portable way to set it.
func (s *UDPSocket) Broadcast(b []byte, port int) error {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort("255.255.255.255", strconv.Itoa(port)))
	if err != nil {
		return errors.Wrap(err, "rnet/socket: resolving broadcast address")
	}
	_, err = s.SendTo(b, addr)
	return err
}

func (s *UDPSocket) Close() error {
	s.mu.Lock()
	s.closing = true
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (s *UDPSocket) LocalAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}
