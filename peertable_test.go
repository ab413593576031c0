package rnet

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakePeer(t *testing.T, addr string, connectionID int64) *Peer {
	t.Helper()
	a, err := net.ResolveUDPAddr("udp", addr)
	require.NoError(t, err)
	return newPeer(nil, a, connectionID, &stubEngine{}, StateConnecting)
}

func TestPeerTableInsertGetRemove(t *testing.T) {
	pt := newPeerTable(2)

	p1 := fakePeer(t, "127.0.0.1:1", 1)
	p2 := fakePeer(t, "127.0.0.1:2", 2)

	assert.True(t, pt.insert(p1))
	assert.True(t, pt.insert(p2))
	assert.Equal(t, 2, pt.count())
	assert.True(t, pt.full())

	p3 := fakePeer(t, "127.0.0.1:3", 3)
	assert.False(t, pt.insert(p3), "capacity reached")

	got, ok := pt.get(p1.key)
	require.True(t, ok)
	assert.Same(t, p1, got)

	removed, ok := pt.remove(p1.key)
	require.True(t, ok)
	assert.Same(t, p1, removed)
	assert.Equal(t, 1, pt.count())

	_, ok = pt.remove(p1.key)
	assert.False(t, ok, "double remove")
}

func TestPeerTableInsertDuplicateAddress(t *testing.T) {
	pt := newPeerTable(4)
	p1 := fakePeer(t, "127.0.0.1:1", 1)
	p2 := fakePeer(t, "127.0.0.1:1", 2)

	assert.True(t, pt.insert(p1))
	assert.False(t, pt.insert(p2), "same address twice")
}

func TestPeerTableSwapRemoveKeepsIndexesConsistent(t *testing.T) {
	pt := newPeerTable(4)
	peers := []*Peer{
		fakePeer(t, "127.0.0.1:1", 1),
		fakePeer(t, "127.0.0.1:2", 2),
		fakePeer(t, "127.0.0.1:3", 3),
	}
	for _, p := range peers {
		require.True(t, pt.insert(p))
	}

	_, ok := pt.remove(peers[0].key)
	require.True(t, ok)

	snap := pt.snapshot()
	assert.Len(t, snap, 2)
	for i, p := range snap {
		assert.Equal(t, i, p.index)
	}
}

func TestPeerTableClear(t *testing.T) {
	pt := newPeerTable(4)
	p1 := fakePeer(t, "127.0.0.1:1", 1)
	require.True(t, pt.insert(p1))

	cleared := pt.clear()
	assert.Len(t, cleared, 1)
	assert.Equal(t, 0, pt.count())
	assert.Equal(t, -1, p1.index)
}

func TestShutdownTable(t *testing.T) {
	st := newShutdownTable()
	p1 := fakePeer(t, "127.0.0.1:1", 1)

	st.insert(p1)
	assert.True(t, st.contains(p1.key))
	assert.Len(t, st.snapshot(), 1)

	removed, ok := st.remove(p1.key)
	require.True(t, ok)
	assert.Same(t, p1, removed)
	assert.False(t, st.contains(p1.key))
}
