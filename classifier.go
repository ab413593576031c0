package rnet

import (
	"bytes"
	"net"

	"go.uber.org/zap"
)

// handleDatagram is the Packet Classifier (§4.4): it parses the
// one-byte property header and routes the datagram to an
// out-of-band flow or the owning peer's engine. It must be reentrant
// across concurrent datagrams from different addresses; it holds the
// Peer Table lock only across lookup and any removal.
func (m *Manager) handleDatagram(from net.Addr, data []byte, sockErr error) {
	if sockErr != nil {
		m.handleReceiveError(sockErr)
		return
	}
	if !m.running.Load() {
		return
	}
	if len(data) < 1 {
		m.logger.Debug("rnet: dropped empty datagram", zap.Stringer("from", from))
		return
	}

	prop := Property(data[0])
	body := data[1:]
	key := addrKey(from)

	switch prop {
	case PropDiscoveryRequest:
		if !m.cfg.DiscoveryEnabled {
			return
		}
		m.emitUnconnected(EventDiscoveryRequest, from, body, KindDiscoveryRequest)

	case PropDiscoveryResponse:
		m.emitUnconnected(EventDiscoveryResponse, from, body, KindDiscoveryResponse)

	case PropUnconnectedMessage:
		if !m.cfg.UnconnectedMessagesEnabled {
			return
		}
		m.emitUnconnected(EventReceiveUnconnected, from, body, KindUnconnectedMessage)

	case PropNatIntroduction, PropNatIntroductionRequest, PropNatPunchMessage:
		if !m.cfg.NatPunchEnabled || m.nat == nil {
			return
		}
		m.dispatchNat(prop, from, body)

	case PropDisconnect:
		m.handleDisconnectPkt(key, from, body)

	case PropAlreadyDisconnected:
		m.shutdown.remove(key)

	case PropConnectAccept:
		m.handleConnectAcceptPkt(key, body)

	case PropConnectRequest:
		m.handleConnectRequestPkt(from, key, body)

	default:
		m.handleForward(key, data)
	}
}

func (m *Manager) emitUnconnected(kind EventKind, from net.Addr, body []byte, uk UnconnectedKind) {
	m.emit(kind, func(e *Event) {
		e.RemoteAddr = from
		e.Reader = bytes.NewReader(body)
		e.UKind = uk
	})
}

// dispatchNat hands a NAT packet to the NAT Module off the I/O thread
// via the worker pool, so a flood of NAT traffic cannot stall receive.
// body is a subslice of the socket's reused receive buffer, so it must
// be copied before crossing to the pool goroutine, the same hazard
// ingressSimulator.offer documents and guards against.
func (m *Manager) dispatchNat(prop Property, from net.Addr, body []byte) {
	owned := make([]byte, len(body))
	copy(owned, body)

	nat := m.nat
	err := m.pool.Submit(func() {
		nat.Handle(prop, from, owned)
	})
	if err != nil {
		m.logger.Warn("rnet: NAT worker pool saturated, dropping packet", zap.Error(err))
	}
}

// handleReceiveError implements the aggressive ReceiveError policy of
// §7/§9: when Config.ReceiveErrorClearsPeerTable is set, the entire
// Peer Table is cleared. This is surprising for a transient error, so
// it is a configurable policy rather than hard-coded; the zero-value
// Config leaves the table intact, while LoadConfig enables it by
// default.
func (m *Manager) handleReceiveError(err error) {
	m.logger.Warn("rnet: socket receive error", zap.Error(err))

	if m.cfg.ReceiveErrorClearsPeerTable {
		m.peers.clear()
	}

	m.emit(EventError, func(e *Event) { e.Aux = 0 })
}

func (m *Manager) handleDisconnectPkt(key string, from net.Addr, body []byte) {
	peer, ok := m.peers.get(key)
	if !ok {
		m.sendAlreadyDisconnected(from)
		return
	}

	connectionID, payload, err := parseDisconnect(body)
	if err != nil {
		m.logger.Debug("rnet: malformed disconnect packet", zap.Stringer("from", from), zap.Error(err))
		return
	}

	if connectionID != peer.ConnectionID() {
		// Stale disconnect from a since-reused address; discard.
		return
	}

	if _, ok := m.peers.remove(key); !ok {
		return
	}

	m.emit(EventDisconnect, func(e *Event) {
		e.Peer = peer
		e.Reason = ReasonRemoteConnectionClose
		if len(payload) > 0 {
			e.Reader = bytes.NewReader(payload)
		}
	})
}

func (m *Manager) sendAlreadyDisconnected(to net.Addr) {
	if _, err := m.sock.SendTo(buildAlreadyDisconnected(), to); err != nil {
		m.logger.Debug("rnet: failed to send AlreadyDisconnected", zap.Stringer("to", to), zap.Error(err))
	}
}

func (m *Manager) handleConnectAcceptPkt(key string, body []byte) {
	peer, ok := m.peers.get(key)
	if !ok {
		return
	}
	peer.touch()

	if !peer.engine.ProcessConnectAccept(body) {
		return
	}

	if peer.State() != StateConnecting {
		return
	}
	peer.setState(StateConnected)
	m.emit(EventConnect, func(e *Event) { e.Peer = peer })
}

// handleConnectRequestPkt implements the ConnectRequest row of §4.4:
// a second peer for a known address is never created, a full table
// silently ignores the request (no reject packet, matching source
// behavior and the §9 open question), and a protocol id mismatch is
// silently dropped.
func (m *Manager) handleConnectRequestPkt(from net.Addr, key string, body []byte) {
	if m.peers.contains(key) {
		return
	}
	if m.peers.full() {
		return
	}

	connectionID, payload, ok := parseConnectRequest(body)
	if !ok {
		return
	}

	req := &ConnectionRequest{
		ConnectionID: connectionID,
		RemoteAddr:   from,
		Reader:       bytes.NewReader(payload),
	}
	req.resolve = func(accept bool) {
		if accept {
			m.acceptInbound(from, key, connectionID)
		}
	}

	m.emit(EventConnectionRequest, func(e *Event) { e.Request = req })
}

// acceptInbound runs on the host thread when ConnectionRequest.Accept
// is invoked, possibly long after the triggering datagram; it
// re-checks address absence since a race may have added it (§4.5).
// Once the Peer is inserted it replies with a ConnectAccept datagram,
// which completes the remote side's handshake.
func (m *Manager) acceptInbound(from net.Addr, key string, connectionID int64) {
	if !m.running.Load() {
		return
	}
	if m.peers.contains(key) {
		return
	}

	engine := m.newEngine(m.sock.LocalAddr(), from, connectionID, false)
	peer := newPeer(m, from, connectionID, engine, StateConnected)

	if !m.peers.insert(peer) {
		return
	}

	if _, err := m.sock.SendTo(withHeader(PropConnectAccept, nil), from); err != nil {
		m.logger.Debug("rnet: failed to send ConnectAccept", zap.Stringer("to", from), zap.Error(err))
	}

	m.emit(EventConnect, func(e *Event) { e.Peer = peer })
}

// handleForward is the catch-all row of §4.4: any packet property the
// classifier does not itself interpret is handed to the owning peer's
// engine, if the address is known.
func (m *Manager) handleForward(key string, data []byte) {
	peer, ok := m.peers.get(key)
	if !ok {
		return
	}
	peer.touch()

	delivered, err := peer.engine.ProcessPacket(data)
	if err != nil {
		m.logger.Debug("rnet: engine failed to process packet", zap.Stringer("addr", peer.Addr()), zap.Error(err))
	}

	for i := range delivered {
		d := delivered[i]
		m.emit(EventReceive, func(e *Event) {
			e.Peer = peer
			e.Reader = bytes.NewReader(d.Data)
			e.Channel = d.Channel
		})
	}
}
