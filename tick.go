package rnet

import (
	"time"
)

// runTick is the Logic Tick Driver (§4.6): a dedicated goroutine that
// wakes every Config.UpdateTime, advances every peer engine, enforces
// DisconnectTimeout, reaps failed outbound handshakes, and progresses
// shutdown-table entries.
func (m *Manager) runTick() {
	defer close(m.tickDone)

	ticker := time.NewTicker(m.cfg.UpdateTime)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-m.tickStop:
			return
		case now := <-ticker.C:
			delta := now.Sub(last)
			last = now
			m.tick(delta)
		}
	}
}

func (m *Manager) tick(delta time.Duration) {
	if m.ingress != nil {
		m.ingress.releaseDue(time.Now())
	}

	var toRemove []*Peer

	for _, peer := range m.peers.snapshot() {
		state := peer.State()

		switch {
		case state == StateConnected && peer.TimeSinceLastPacket() > m.cfg.DisconnectTimeout:
			toRemove = append(toRemove, peer)
			m.emit(EventDisconnect, func(e *Event) {
				e.Peer = peer
				e.Reason = ReasonTimeout
			})

		case state == StateDisconnected:
			toRemove = append(toRemove, peer)
			m.emit(EventDisconnect, func(e *Event) {
				e.Peer = peer
				e.Reason = ReasonConnectionFailed
			})

		case state == StateConnecting && peer.engine.ConnectionState() == StateDisconnected:
			peer.setState(StateDisconnected)
			toRemove = append(toRemove, peer)
			m.emit(EventDisconnect, func(e *Event) {
				e.Peer = peer
				e.Reason = ReasonConnectionFailed
			})

		default:
			peer.engine.Update(delta)
			m.maybeEmitLatency(peer)
		}
	}

	for _, peer := range toRemove {
		m.peers.remove(peer.key)
	}

	for _, peer := range m.shutdown.snapshot() {
		peer.engine.Update(delta)
	}
}

// maybeEmitLatency emits EventLatencyUpdate only when the engine's
// RTT estimate has changed since the last tick, keeping the common
// case (stable latency) allocation-free on the hot path.
func (m *Manager) maybeEmitLatency(peer *Peer) {
	current := peer.engine.LatencyMs()
	if int32(current) == peer.lastReportedLatency.Swap(int32(current)) {
		return
	}
	m.emit(EventLatencyUpdate, func(e *Event) {
		e.Peer = peer
		e.Aux = current
	})
}
