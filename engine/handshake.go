package engine

import (
	"time"

	"github.com/anon55555/rnet"
)

// BeginHandshake implements rnet.PeerEngine: it sends the first
// ConnectRequest immediately and leaves retransmission to Update,
// which resends on the backoff schedule described on advanceHandshake
// (starting at ReconnectDelay) up to MaxConnectAttempts sends in all.
func (e *Engine) BeginHandshake(payload []byte) error {
	e.mu.Lock()
	e.handshakePkt = buildConnectRequest(e.connectionID, payload)
	e.attempts = 1
	e.sinceAttempt = 0
	e.mu.Unlock()

	return e.rawSend(e.handshakePkt)
}

// ProcessConnectAccept implements rnet.PeerEngine.
func (e *Engine) ProcessConnectAccept(data []byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != rnet.StateConnecting {
		return e.state == rnet.StateConnected
	}

	e.state = rnet.StateConnected
	e.handshakePkt = nil
	return true
}

// Shutdown implements rnet.PeerEngine: the pre-built Disconnect
// datagram is sent once immediately and retried by Update until acked
// or the peer is torn down by the Manager's Shutdown Table handling.
func (e *Engine) Shutdown(payload []byte) error {
	e.mu.Lock()
	e.shutdownPkt = payload
	e.state = rnet.StateShutdownRequested
	e.mu.Unlock()

	return e.rawSend(payload)
}

// Update implements rnet.PeerEngine: advances handshake retransmission
// and reliable-send retransmission by delta.
func (e *Engine) Update(delta time.Duration) {
	e.advanceHandshake(delta)
	e.advanceShutdown(delta)
	e.retransmitPending(delta)
}

// advanceShutdown resends the pending Disconnect datagram every
// ReconnectDelay, up to maxAttempts times, then stops resending
// silently: the engine's state stays StateShutdownRequested, and the
// Manager's Shutdown Table entry is only removed by an
// AlreadyDisconnected reply or by Stop.
func (e *Engine) advanceShutdown(delta time.Duration) {
	e.mu.Lock()
	if e.state != rnet.StateShutdownRequested || e.shutdownPkt == nil {
		e.mu.Unlock()
		return
	}

	e.sinceAttempt += delta
	if e.sinceAttempt < e.reconnect {
		e.mu.Unlock()
		return
	}
	e.sinceAttempt = 0

	e.attempts++
	if e.attempts > e.maxAttempts {
		e.shutdownPkt = nil
		e.mu.Unlock()
		return
	}
	pkt := e.shutdownPkt
	e.mu.Unlock()

	_ = e.rawSend(pkt)
}

// advanceHandshake resends the ConnectRequest on an
// exponentially-backed-off schedule (github.com/cenkalti/backoff/v4),
// seeded at ReconnectDelay and capped at 8x that, until either
// ProcessConnectAccept clears handshakePkt or MaxConnectAttempts is
// exhausted.
func (e *Engine) advanceHandshake(delta time.Duration) {
	e.mu.Lock()
	if e.state != rnet.StateConnecting || e.handshakePkt == nil {
		e.mu.Unlock()
		return
	}

	e.sinceAttempt += delta
	if e.sinceAttempt < e.nextDelay {
		e.mu.Unlock()
		return
	}
	e.sinceAttempt = 0
	e.nextDelay = e.handshakeBO.NextBackOff()

	if e.attempts >= e.maxAttempts {
		e.state = rnet.StateDisconnected
		e.handshakePkt = nil
		e.mu.Unlock()
		return
	}
	e.attempts++
	pkt := e.handshakePkt
	e.mu.Unlock()

	_ = e.rawSend(pkt)
}

func (e *Engine) retransmitPending(delta time.Duration) {
	now := time.Now()
	for _, ch := range e.chans {
		ch.mu.Lock()
		var due []*pendingRel
		for _, p := range ch.pending {
			p.sinceSent += delta
			if p.sinceSent >= retransmitGap {
				p.sinceSent = 0
				p.lastSent = now
				due = append(due, p)
			}
		}
		ch.mu.Unlock()

		for _, p := range due {
			_ = e.rawSend(withChannelHeader(p.data, p.channel))
		}
	}
}

// buildConnectRequest mirrors rnet's wire-level ConnectRequest layout
// exactly: [PropConnectRequest][ProtocolID LE int32][connectionID LE int64][payload].
// It is duplicated here, rather than imported, because rnet's builder
// is unexported; the two must never drift apart, since they describe
// the same wire packet from opposite ends of the handshake.
func buildConnectRequest(connectionID int64, payload []byte) []byte {
	buf := make([]byte, 1+4+8+len(payload))
	buf[0] = byte(rnet.PropConnectRequest)
	le.PutUint32(buf[1:5], uint32(rnet.ProtocolID))
	le.PutUint64(buf[5:13], uint64(connectionID))
	copy(buf[13:], payload)
	return buf
}
