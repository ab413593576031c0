package rnet_test

import (
	"bytes"
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/anon55555/rnet"
	"github.com/anon55555/rnet/engine"
	"github.com/anon55555/rnet/socket"
)

func newTestManager(t *testing.T, accept bool) (*rnet.Manager, *trackingListener) {
	t.Helper()
	return newTestManagerConfig(t, accept, 8, 2*time.Second)
}

func newTestManagerConfig(t *testing.T, accept bool, capacity int, disconnectTimeout time.Duration) (*rnet.Manager, *trackingListener) {
	t.Helper()

	cfg := &rnet.Config{
		Capacity:           capacity,
		UpdateTime:         5 * time.Millisecond,
		DisconnectTimeout:  disconnectTimeout,
		ReconnectDelay:     20 * time.Millisecond,
		MaxConnectAttempts: 50,
		UnsyncedEvents:     true,
	}
	require.NoError(t, cfg.Validate())

	sock := socket.New(false)
	lst := newTrackingListener(accept)

	mgr, err := rnet.NewManager(rnet.ManagerOptions{
		Config: cfg,
		Socket: sock,
		NewEngine: engine.NewFactory(
			func(remote net.Addr, b []byte) error { _, err := sock.SendTo(b, remote); return err },
			cfg.MaxConnectAttempts,
			cfg.ReconnectDelay,
		),
		Listener: lst,
		Logger:   zap.NewNop(),
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Start(0))

	t.Cleanup(func() { _ = mgr.Stop() })

	return mgr, lst
}

// rawConnectRequest builds a ConnectRequest datagram by hand, the way
// an attacker or a bare UDP client would, without going through an
// Engine. Mirrors the wire layout documented on rnet.Property.
func rawConnectRequest(connectionID int64, payload []byte) []byte {
	buf := make([]byte, 1+4+8+len(payload))
	buf[0] = byte(rnet.PropConnectRequest)
	binary.LittleEndian.PutUint32(buf[1:5], uint32(rnet.ProtocolID))
	binary.LittleEndian.PutUint64(buf[5:13], uint64(connectionID))
	copy(buf[13:], payload)
	return buf
}

// rawDisconnect builds a Disconnect datagram carrying an arbitrary
// connectionID, used to simulate a stale or forged disconnect.
func rawDisconnect(connectionID int64, payload []byte) []byte {
	buf := make([]byte, 1+8+len(payload))
	buf[0] = byte(rnet.PropDisconnect)
	binary.LittleEndian.PutUint64(buf[1:9], uint64(connectionID))
	copy(buf[9:], payload)
	return buf
}

type trackingListener struct {
	rnet.ListenerFuncs

	accept bool

	mu                 sync.Mutex
	connected          []*rnet.Peer
	disconnects        []rnet.DisconnectReason
	received           [][]byte
	connectionRequests int
}

func newTrackingListener(accept bool) *trackingListener {
	l := &trackingListener{accept: accept}
	l.ListenerFuncs = rnet.ListenerFuncs{
		ConnectionRequest: func(req *rnet.ConnectionRequest) {
			l.mu.Lock()
			l.connectionRequests++
			l.mu.Unlock()
			if l.accept {
				_ = req.Accept()
			} else {
				_ = req.Reject()
			}
		},
		PeerConnected: func(p *rnet.Peer) {
			l.mu.Lock()
			l.connected = append(l.connected, p)
			l.mu.Unlock()
		},
		PeerDisconnected: func(p *rnet.Peer, reason rnet.DisconnectReason, aux int) {
			l.mu.Lock()
			l.disconnects = append(l.disconnects, reason)
			l.mu.Unlock()
		},
		NetworkReceive: func(p *rnet.Peer, r *bytes.Reader, channel uint8) {
			buf := make([]byte, r.Len())
			_, _ = r.Read(buf)
			l.mu.Lock()
			l.received = append(l.received, buf)
			l.mu.Unlock()
		},
	}
	return l
}

func (l *trackingListener) connectedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.connected)
}

func (l *trackingListener) receivedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.received)
}

func (l *trackingListener) disconnectCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.disconnects)
}

func (l *trackingListener) lastDisconnectReason() rnet.DisconnectReason {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.disconnects[len(l.disconnects)-1]
}

func (l *trackingListener) connectionRequestCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connectionRequests
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.True(t, cond(), "condition did not become true within %s", timeout)
}

func TestConnectHandshakeCompletes(t *testing.T) {
	srv, srvListener := newTestManager(t, true)
	clt, cltListener := newTestManager(t, true)

	srvAddr := srv.LocalAddr()
	peer := clt.Connect(srvAddr, []byte("hello"))
	require.NotNil(t, peer)

	waitFor(t, time.Second, func() bool { return srvListener.connectedCount() == 1 })
	waitFor(t, time.Second, func() bool { return cltListener.connectedCount() == 1 })
}

func TestRejectedConnectionRequestNeverConnects(t *testing.T) {
	srv, srvListener := newTestManager(t, false)
	clt, _ := newTestManager(t, true)

	peer := clt.Connect(srv.LocalAddr(), nil)
	require.NotNil(t, peer)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, srvListener.connectedCount())
}

func TestSendReliableIsReceived(t *testing.T) {
	srv, srvListener := newTestManager(t, true)
	clt, cltListener := newTestManager(t, true)

	peer := clt.Connect(srv.LocalAddr(), nil)
	require.NotNil(t, peer)
	waitFor(t, time.Second, func() bool { return cltListener.connectedCount() == 1 })
	waitFor(t, time.Second, func() bool { return srvListener.connectedCount() == 1 })

	require.NoError(t, peer.Send([]byte("ping"), rnet.SendOptions{Reliable: true, Channel: 0}))

	waitFor(t, time.Second, func() bool { return srvListener.receivedCount() == 1 })
}

// TestTimeoutDisconnectsStalePeer covers spec.md §8's Timeout scenario:
// a peer whose remote side stops responding entirely must be dropped
// by the Logic Tick Driver once DisconnectTimeout elapses, with
// ReasonTimeout reported and the Peer Table entry reclaimed.
func TestTimeoutDisconnectsStalePeer(t *testing.T) {
	srv, srvListener := newTestManagerConfig(t, true, 8, 150*time.Millisecond)
	clt, cltListener := newTestManagerConfig(t, true, 8, 2*time.Second)

	peer := clt.Connect(srv.LocalAddr(), nil)
	require.NotNil(t, peer)
	waitFor(t, time.Second, func() bool { return srvListener.connectedCount() == 1 })
	waitFor(t, time.Second, func() bool { return cltListener.connectedCount() == 1 })

	// Simulate the remote side vanishing: stop its manager so it can
	// neither ack nor keep-alive, without sending it a Disconnect.
	require.NoError(t, clt.Stop())

	waitFor(t, 2*time.Second, func() bool { return srvListener.disconnectCount() == 1 })
	assert.Equal(t, rnet.ReasonTimeout, srvListener.lastDisconnectReason())
	waitFor(t, time.Second, func() bool { return len(srv.GetPeers()) == 0 })
}

// TestGracefulDisconnectWithPayloadRoundTrip covers spec.md §8's
// graceful-disconnect scenario: DisconnectPeer moves the local side to
// the Shutdown Table and fires a local Disconnect immediately, while
// the remote side observes ReasonRemoteConnectionClose and removes the
// peer from its own Peer Table; its AlreadyDisconnected reply to a
// resent Disconnect then clears the local Shutdown Table entry.
func TestGracefulDisconnectWithPayloadRoundTrip(t *testing.T) {
	srv, srvListener := newTestManager(t, true)
	clt, cltListener := newTestManager(t, true)

	srvSidePeer := clt.Connect(srv.LocalAddr(), nil)
	require.NotNil(t, srvSidePeer)
	waitFor(t, time.Second, func() bool { return srvListener.connectedCount() == 1 })
	waitFor(t, time.Second, func() bool { return cltListener.connectedCount() == 1 })

	srvListener.mu.Lock()
	srvPeer := srvListener.connected[0]
	srvListener.mu.Unlock()

	require.NoError(t, srv.DisconnectPeer(srvPeer, []byte("bye")))

	waitFor(t, time.Second, func() bool { return srvListener.disconnectCount() == 1 })
	assert.Equal(t, rnet.ReasonDisconnectPeerCalled, srvListener.lastDisconnectReason())

	waitFor(t, time.Second, func() bool { return cltListener.disconnectCount() == 1 })
	assert.Equal(t, rnet.ReasonRemoteConnectionClose, cltListener.lastDisconnectReason())

	waitFor(t, time.Second, func() bool { return len(clt.GetPeers()) == 0 })
	waitFor(t, time.Second, func() bool { return len(srv.GetPeers()) == 0 })
}

// TestStaleDisconnectIsRejected covers spec.md §8's stale-Disconnect
// scenario: a Disconnect packet bearing a connectionId that doesn't
// match the established peer must be discarded silently, with no
// event and no change to the peer's connected state.
func TestStaleDisconnectIsRejected(t *testing.T) {
	srv, srvListener := newTestManager(t, true)
	clt, cltListener := newTestManager(t, true)

	peer := clt.Connect(srv.LocalAddr(), nil)
	require.NotNil(t, peer)
	waitFor(t, time.Second, func() bool { return srvListener.connectedCount() == 1 })
	waitFor(t, time.Second, func() bool { return cltListener.connectedCount() == 1 })

	raw, err := net.Dial("udp", srv.LocalAddr().String())
	require.NoError(t, err)
	defer raw.Close()

	_, err = raw.Write(rawDisconnect(peer.ConnectionID()+1, nil))
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, 0, srvListener.disconnectCount(), "forged disconnect with wrong connectionId must be ignored")
	assert.Equal(t, 1, len(srv.GetPeers()), "peer must remain connected")
}

// TestManagerLevelCapacityRejectsThirdPeer covers spec.md §8's
// capacity scenario at the Manager level: once the Peer Table is
// full, a further inbound ConnectRequest produces no new peer or
// event, and an outbound Connect call returns nil.
func TestManagerLevelCapacityRejectsThirdPeer(t *testing.T) {
	srv, srvListener := newTestManagerConfig(t, true, 2, 2*time.Second)
	cltA, cltAListener := newTestManager(t, true)
	cltB, cltBListener := newTestManager(t, true)

	require.NotNil(t, cltA.Connect(srv.LocalAddr(), nil))
	require.NotNil(t, cltB.Connect(srv.LocalAddr(), nil))
	waitFor(t, time.Second, func() bool { return srvListener.connectedCount() == 2 })
	waitFor(t, time.Second, func() bool { return cltAListener.connectedCount() == 1 })
	waitFor(t, time.Second, func() bool { return cltBListener.connectedCount() == 1 })

	assert.Nil(t, srv.Connect(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}, nil),
		"outbound Connect must return nil once the Peer Table is full")

	raw, err := net.Dial("udp", srv.LocalAddr().String())
	require.NoError(t, err)
	defer raw.Close()

	reqBefore := srvListener.connectionRequestCount()
	_, err = raw.Write(rawConnectRequest(999, nil))
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, reqBefore, srvListener.connectionRequestCount(),
		"a full Peer Table must not surface a ConnectionRequest for a third inbound address")
	assert.Equal(t, 2, srvListener.connectedCount())
}

// TestDisconnectPeerRaceNeverDuplicatesAddress covers the uniqueness
// invariant behind transferToShutdown (§5): a DisconnectPeer call
// racing an inbound ConnectRequest from the very same address must
// never let that address exist in the Peer Table twice, nor vanish
// from both tables long enough for the inbound request to mint a
// second Peer for it.
func TestDisconnectPeerRaceNeverDuplicatesAddress(t *testing.T) {
	srv, srvListener := newTestManager(t, true)
	clt, cltListener := newTestManager(t, true)

	peer := clt.Connect(srv.LocalAddr(), nil)
	require.NotNil(t, peer)
	waitFor(t, time.Second, func() bool { return srvListener.connectedCount() == 1 })
	waitFor(t, time.Second, func() bool { return cltListener.connectedCount() == 1 })

	srvListener.mu.Lock()
	srvPeer := srvListener.connected[0]
	srvListener.mu.Unlock()
	cltLocalAddr := clt.LocalAddr().(*net.UDPAddr)

	// Free clt's port, then rebind a bare UDP socket to that exact
	// address so a forged ConnectRequest can race DisconnectPeer from
	// the very same remote address srv already has a Peer for.
	require.NoError(t, clt.Stop())
	raw, err := net.ListenUDP("udp", cltLocalAddr)
	require.NoError(t, err)
	defer raw.Close()
	srvAddr, err := net.ResolveUDPAddr("udp", srv.LocalAddr().String())
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = srv.DisconnectPeer(srvPeer, nil)
	}()
	go func() {
		defer wg.Done()
		_, _ = raw.WriteTo(rawConnectRequest(peer.ConnectionID()+1, nil), srvAddr)
	}()
	wg.Wait()

	time.Sleep(200 * time.Millisecond)

	count := 0
	for _, p := range srv.GetPeers() {
		if p.Addr().String() == cltLocalAddr.String() {
			count++
		}
	}
	assert.LessOrEqual(t, count, 1,
		"the same remote address must never occupy the Peer Table twice")
}
