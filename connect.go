package rnet

import (
	"net"

	"go.uber.org/zap"
)

// Connect initiates an outbound connection to addr, sending payload
// as the ConnectRequest's trailing bytes. Returns the existing peer
// idempotently if addr is already present, nil if the manager is not
// running or the Peer Table is full, per §4.5.
func (m *Manager) Connect(addr net.Addr, payload []byte) *Peer {
	if !m.running.Load() {
		return nil
	}

	key := addrKey(addr)
	if existing, ok := m.peers.get(key); ok {
		return existing
	}

	connectionID := m.connectIDSeq.Inc()
	engine := m.newEngine(m.sock.LocalAddr(), addr, connectionID, true)
	peer := newPeer(m, addr, connectionID, engine, StateConnecting)

	if !m.peers.insert(peer) {
		// Lost a race with a concurrent connect to the same address,
		// or capacity was reached between the check above and here.
		if existing, ok := m.peers.get(key); ok {
			return existing
		}
		return nil
	}

	if err := peer.engine.BeginHandshake(payload); err != nil {
		m.logger.Debug("rnet: initial connect request send failed, engine will retry", zap.Error(err))
	}

	return peer
}

// DisconnectPeer gracefully disconnects peer: a reliable Disconnect
// packet carrying payload is queued, peer moves from the Peer Table
// to the Shutdown Table, and a local Disconnect event fires
// immediately (§4.5).
func (m *Manager) DisconnectPeer(peer *Peer, payload []byte) error {
	if !m.running.Load() {
		return ErrNotRunning
	}

	if len(payload)+8 >= peer.MTU() {
		m.logger.Warn(
			"rnet: disconnect payload dropped, would exceed peer MTU",
			zap.Stringer("addr", peer.Addr()),
			zap.Int("mtu", peer.MTU()),
			zap.NamedError("reason", ErrPayloadTooLarge),
		)
		payload = nil
	}

	pkt := buildDisconnect(peer.ConnectionID(), payload)

	if _, ok := m.peers.transferToShutdown(peer.key, m.shutdown); !ok {
		return ErrUnknownPeer
	}
	peer.setState(StateShutdownRequested)

	if err := peer.engine.Shutdown(pkt); err != nil {
		m.logger.Debug("rnet: engine shutdown failed", zap.Error(err))
	}

	m.emit(EventDisconnect, func(e *Event) {
		e.Peer = peer
		e.Reason = ReasonDisconnectPeerCalled
	})

	return nil
}

// DisconnectPeerForce sends a single raw Disconnect packet and
// removes peer from the Peer Table immediately, without waiting for
// an acknowledgement or adding it to the Shutdown Table.
func (m *Manager) DisconnectPeerForce(peer *Peer) error {
	if !m.running.Load() {
		return ErrNotRunning
	}
	if _, ok := m.peers.remove(peer.key); !ok {
		return ErrUnknownPeer
	}
	m.disconnectForce(peer, ReasonDisconnectPeerCalled, 0)
	return nil
}

// disconnectForceLocked is used by the send-error path (§4.5): the
// peer is assumed not yet removed from the Peer Table.
func (m *Manager) disconnectForceLocked(peer *Peer, reason DisconnectReason, aux int) {
	if _, ok := m.peers.remove(peer.key); !ok {
		return
	}
	m.disconnectForce(peer, reason, aux)
}

func (m *Manager) disconnectForce(peer *Peer, reason DisconnectReason, aux int) {
	pkt := buildDisconnect(peer.ConnectionID(), nil)
	if _, err := m.sock.SendTo(pkt, peer.Addr()); err != nil {
		m.logger.Debug("rnet: force-disconnect send failed", zap.Error(err))
	}

	m.emit(EventDisconnect, func(e *Event) {
		e.Peer = peer
		e.Reason = reason
		e.Aux = aux
	})
}
