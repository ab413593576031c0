package rnet

import (
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Peer is owned by the Manager for its entire lifetime. The session
// manager treats it as an opaque handle except for the attributes and
// operations documented here (§3); everything else is delegated to
// its PeerEngine.
type Peer struct {
	mgr  *Manager // non-owning back-pointer; mgr outlives all peers
	addr net.Addr
	key  string

	connectionID int64
	engine       PeerEngine

	mu    sync.RWMutex
	state ConnectionState

	// lastSeen is updated by the classifier on every inbound datagram
	// attributed to this address, independent of the engine's own
	// internal timers, since the Logic Tick Driver's
	// DisconnectTimeout check is a session-manager concept (§4.6).
	lastSeen atomic.Int64 // unix nanoseconds

	// index is this Peer's position in the Peer Table's swap-remove
	// index array; maintained only by peerTable under its lock.
	index int

	// lastReportedLatency caches the last LatencyMs value handed to a
	// listener, so the Logic Tick Driver only emits EventLatencyUpdate
	// on change.
	lastReportedLatency atomic.Int32
}

func newPeer(mgr *Manager, addr net.Addr, connectionID int64, engine PeerEngine, state ConnectionState) *Peer {
	p := &Peer{
		mgr:          mgr,
		addr:         addr,
		key:          addrKey(addr),
		connectionID: connectionID,
		engine:       engine,
		state:        state,
		index:        -1,
	}
	p.lastSeen.Store(time.Now().UnixNano())
	return p
}

// Addr returns the peer's remote address.
func (p *Peer) Addr() net.Addr { return p.addr }

// ConnectionID returns the 64-bit id minted at handshake time,
// immutable for the life of the Peer.
func (p *Peer) ConnectionID() int64 { return p.connectionID }

// State returns the Manager's cached view of the peer's lifecycle
// state (§3).
func (p *Peer) State() ConnectionState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Peer) setState(s ConnectionState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// MTU returns the engine's current maximum transmission unit.
func (p *Peer) MTU() int { return p.engine.MTU() }

// TimeSinceLastPacket returns the time since the last inbound
// datagram from this address was observed by the classifier.
func (p *Peer) TimeSinceLastPacket() time.Duration {
	return time.Since(time.Unix(0, p.lastSeen.Load()))
}

func (p *Peer) touch() {
	p.lastSeen.Store(time.Now().UnixNano())
}

// Send transmits a payload through the peer's engine. Returns
// ErrAlreadyClosed if the peer has already transitioned to
// StateDisconnected (it is about to be, or has just been, removed
// from the Peer Table).
func (p *Peer) Send(data []byte, opts SendOptions) error {
	if p.State() == StateDisconnected {
		return ErrAlreadyClosed
	}
	return p.engine.Send(data, opts)
}

// Flush forces the peer's engine to push any buffered sends to the
// wire. Returns ErrAlreadyClosed under the same condition as Send.
func (p *Peer) Flush() error {
	if p.State() == StateDisconnected {
		return ErrAlreadyClosed
	}
	return p.engine.Flush()
}

func addrKey(a net.Addr) string {
	return a.Network() + ":" + a.String()
}
