package rnet

import (
	"bytes"
	"net"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/panjf2000/ants/v2"
	"github.com/samber/lo"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// ManagerOptions wires a Manager's external collaborators.
type ManagerOptions struct {
	Config    *Config
	Socket    Socket
	NewEngine EngineFactory
	Nat       NatHandler // optional; required only if Config.NatPunchEnabled
	Listener  Listener
	Logger    *zap.Logger // optional; a production logger is built if nil
}

// Manager is the session manager (C8): it owns the Peer Table,
// Shutdown Table, Event Pool/Queue, and orchestrates the I/O, logic
// tick, and host poll threads described in spec.md §5.
type Manager struct {
	cfg       *Config
	sock      Socket
	newEngine EngineFactory
	nat       NatHandler
	listener  Listener
	logger    *zap.Logger
	pool      *ants.Pool

	peers    *peerTable
	shutdown *shutdownTable

	eventPool  *eventPool
	eventQueue *eventQueue

	ingress *ingressSimulator

	running  atomic.Bool
	tickStop chan struct{}
	tickDone chan struct{}

	connectIDSeq atomic.Int64

	sendMu sync.Mutex // serializes Stop's best-effort broadcast disconnects
}

// NewManager validates opts and constructs a Manager. Start must be
// called before it accepts traffic.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Config == nil {
		return nil, errors.New("rnet: nil config")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Socket == nil {
		return nil, ErrInvalidSocket
	}
	if opts.NewEngine == nil {
		return nil, ErrInvalidEngine
	}
	if opts.Config.NatPunchEnabled && opts.Nat == nil {
		return nil, errors.New("rnet: NatPunchEnabled requires a NatHandler")
	}

	listener := opts.Listener
	if listener == nil {
		listener = ListenerFuncs{}
	}

	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = newLogger(opts.Config)
		if err != nil {
			return nil, errors.Wrap(err, "rnet: building logger")
		}
	}

	pool, err := ants.NewPool(opts.Config.WorkerPoolSize)
	if err != nil {
		return nil, errors.Wrap(err, "rnet: building worker pool")
	}

	m := &Manager{
		cfg:       opts.Config,
		sock:      opts.Socket,
		newEngine: opts.NewEngine,
		nat:       opts.Nat,
		listener:  listener,
		logger:    logger,
		pool:      pool,

		peers:    newPeerTable(opts.Config.Capacity),
		shutdown: newShutdownTable(),

		eventPool: newEventPool(),
	}
	m.eventQueue = newEventQueue(opts.Config.UnsyncedEvents, opts.Config.EventQueueLength, m.processEvent)

	if opts.Config.SimulatePacketLoss || opts.Config.SimulateLatency {
		m.ingress = newIngressSimulator(opts.Config, m.pool, m.logger, m.handleDatagram)
	}

	return m, nil
}

// Start binds the socket (port 0 picks an ephemeral port) and starts
// the logic tick thread. Idempotent failure if already running.
func (m *Manager) Start(port int) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	m.sock.SetReceiveCallback(func(data []byte, from net.Addr, err error) {
		m.onReceive(data, from, err)
	})

	if err := m.sock.Bind(port); err != nil {
		m.running.Store(false)
		return errors.Wrap(err, "rnet: binding socket")
	}

	m.tickStop = make(chan struct{})
	m.tickDone = make(chan struct{})
	go m.runTick()

	return nil
}

func (m *Manager) onReceive(data []byte, from net.Addr, err error) {
	if !m.running.Load() {
		return
	}
	if m.ingress != nil {
		m.ingress.offer(from, data, err)
		return
	}
	m.handleDatagram(from, data, err)
}

// IsRunning reports whether the Manager is between Start and Stop.
func (m *Manager) IsRunning() bool { return m.running.Load() }

// LocalAddr returns the address the Manager's socket is bound to.
func (m *Manager) LocalAddr() net.Addr { return m.sock.LocalAddr() }

// Stop sends a best-effort terminal disconnect to every peer, stops
// the logic thread, clears the Peer Table, and closes the socket.
// Stop is blocking and idempotent.
func (m *Manager) Stop() error {
	if !m.running.CompareAndSwap(true, false) {
		return nil
	}

	m.sendMu.Lock()
	for _, p := range m.peers.snapshot() {
		pkt := buildDisconnect(p.ConnectionID(), nil)
		if _, err := m.sock.SendTo(pkt, p.Addr()); err != nil {
			m.logger.Debug("rnet: best-effort terminal disconnect failed", zap.Error(err))
		}
	}
	m.sendMu.Unlock()

	m.peers.clear()
	m.shutdown.clear()

	close(m.tickStop)
	<-m.tickDone

	m.pool.Release()

	return m.sock.Close()
}

// emit acquires an Event of kind from the pool, fills it, and hands
// it to the event queue. If the queue is at Config.EventQueueLength
// capacity, the event is dropped and recycled immediately instead of
// growing the queue without bound.
func (m *Manager) emit(kind EventKind, fill func(e *Event)) {
	e := m.eventPool.acquire(kind)
	if fill != nil {
		fill(e)
	}
	if !m.eventQueue.enqueue(e) {
		m.logger.Warn("rnet: event queue at capacity, dropping event", zap.Int("kind", int(kind)))
		m.eventPool.recycle(e)
	}
}

// processEvent is the event queue's dispatch function: it routes an
// Event to the matching Listener callback, then recycles it. Never
// called while any manager mutex is held.
func (m *Manager) processEvent(e *Event) {
	defer m.eventPool.recycle(e)
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("rnet: listener callback panicked", zap.Any("recover", r))
		}
	}()

	switch e.Kind {
	case EventConnect:
		m.listener.OnPeerConnected(e.Peer)
	case EventDisconnect:
		m.listener.OnPeerDisconnected(e.Peer, e.Reason, e.Aux)
	case EventReceive:
		m.listener.OnNetworkReceive(e.Peer, e.Reader, e.Channel)
	case EventReceiveUnconnected, EventDiscoveryRequest, EventDiscoveryResponse:
		m.listener.OnNetworkReceiveUnconnected(e.RemoteAddr, e.Reader, e.UKind)
	case EventError:
		m.listener.OnNetworkError(e.RemoteAddr, e.Aux)
	case EventLatencyUpdate:
		m.listener.OnNetworkLatencyUpdate(e.Peer, e.Aux)
	case EventConnectionRequest:
		m.listener.OnConnectionRequest(e.Request)
	}
}

// PollEvents drains and dispatches every currently queued Event on
// the calling thread. Returns the number dispatched. A no-op when
// UnsyncedEvents is enabled, since events are dispatched inline at
// emit time.
func (m *Manager) PollEvents() int {
	return m.eventQueue.poll()
}

// SendToAll broadcasts payload to every connected peer, optionally
// skipping one.
func (m *Manager) SendToAll(payload []byte, opts SendOptions, exclude *Peer) {
	for _, p := range m.peers.snapshot() {
		if p == exclude {
			continue
		}
		if err := p.Send(payload, opts); err != nil {
			m.handleSendError(p, err)
		}
	}
}

// SendUnconnectedMessage sends payload to addr without a handshake.
// The receiver's UnconnectedMessagesEnabled setting gates acceptance,
// not the sender.
func (m *Manager) SendUnconnectedMessage(payload []byte, addr net.Addr) error {
	_, err := m.sock.SendTo(withHeader(PropUnconnectedMessage, payload), addr)
	return err
}

// SendDiscoveryRequest broadcasts a discovery request on the LAN at port.
func (m *Manager) SendDiscoveryRequest(payload []byte, port int) error {
	return m.sock.Broadcast(withHeader(PropDiscoveryRequest, payload), port)
}

// SendDiscoveryResponse unicasts a discovery reply to addr.
func (m *Manager) SendDiscoveryResponse(payload []byte, addr net.Addr) error {
	_, err := m.sock.SendTo(withHeader(PropDiscoveryResponse, payload), addr)
	return err
}

// Flush forces every connected peer's send queue to the wire.
func (m *Manager) Flush() {
	for _, p := range m.peers.snapshot() {
		if err := p.Flush(); err != nil {
			m.logger.Debug("rnet: flush failed", zap.Stringer("addr", p.Addr()), zap.Error(err))
		}
	}
}

// GetPeers returns a snapshot of every peer currently in the Peer
// Table, regardless of handshake state.
func (m *Manager) GetPeers() []*Peer {
	return m.peers.snapshot()
}

// GetConnectedPeers returns only the peers that have completed their
// handshake, filtering out the table's in-progress StateConnecting
// entries.
func (m *Manager) GetConnectedPeers() []*Peer {
	return lo.Filter(m.peers.snapshot(), func(p *Peer, _ int) bool {
		return p.State() == StateConnected
	})
}

// GetPeersNonAlloc fills out with connected peers and returns the
// count written, without allocating a new slice.
func (m *Manager) GetPeersNonAlloc(out []*Peer) int {
	return m.peers.snapshotInto(out)
}

// handleSendError applies the socket send error policy of §4.5/§7:
// transient errors are ignored, oversize datagrams are logged without
// disconnecting, and any other error force-disconnects a known peer
// and emits an Error event.
func (m *Manager) handleSendError(p *Peer, err error) {
	errno, ok := sendErrno(err)
	if !ok {
		return
	}

	switch classifySendErrno(errno) {
	case sendErrTransient:
		return
	case sendErrOversize:
		m.logger.Warn("rnet: oversize datagram", zap.Stringer("addr", p.Addr()))
		return
	case sendErrFatal:
		m.disconnectForceLocked(p, ReasonSocketSendError, int(errno))
		m.emit(EventError, func(e *Event) {
			e.RemoteAddr = p.Addr()
			e.Aux = int(errno)
		})
	}
}

func bytesReader(b []byte) *bytes.Reader {
	if b == nil {
		return bytes.NewReader(nil)
	}
	return bytes.NewReader(b)
}
