package rnet

import "sync"

// peerTable maps remote address to active Peer, bounded by capacity,
// plus a compact indexable slice for O(1) swap-with-last removal
// during tick iteration (§4.2).
type peerTable struct {
	mu       sync.RWMutex
	byAddr   map[string]*Peer
	list     []*Peer
	capacity int
}

func newPeerTable(capacity int) *peerTable {
	return &peerTable{
		byAddr:   make(map[string]*Peer),
		capacity: capacity,
	}
}

// insert adds p if its address is absent and the table has room.
// Returns false without modifying the table otherwise.
func (t *peerTable) insert(p *Peer) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.byAddr[p.key]; ok {
		return false
	}
	if len(t.byAddr) >= t.capacity {
		return false
	}

	p.index = len(t.list)
	t.list = append(t.list, p)
	t.byAddr[p.key] = p
	return true
}

func (t *peerTable) get(key string) (*Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.byAddr[key]
	return p, ok
}

func (t *peerTable) contains(key string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.byAddr[key]
	return ok
}

func (t *peerTable) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byAddr)
}

func (t *peerTable) full() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byAddr) >= t.capacity
}

// remove deletes the peer at key, swapping the last list entry into
// its slot to keep iteration O(n). Must be called under t.mu by
// callers that already hold it (removeLocked), or use remove for the
// standalone, self-locking form.
func (t *peerTable) remove(key string) (*Peer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(key)
}

func (t *peerTable) removeLocked(key string) (*Peer, bool) {
	p, ok := t.byAddr[key]
	if !ok {
		return nil, false
	}

	delete(t.byAddr, key)

	last := len(t.list) - 1
	if p.index != last {
		moved := t.list[last]
		t.list[p.index] = moved
		moved.index = p.index
	}
	t.list[last] = nil
	t.list = t.list[:last]
	p.index = -1

	return p, true
}

// transferToShutdown atomically moves the peer at key out of this
// table and into dst, holding t.mu across both the removal and the
// shutdown-table insert (§5's fixed Peer->Shutdown lock-acquisition
// order). This closes the window a separately-locked remove-then-insert
// would leave open, during which the address is in neither table and a
// concurrent inbound ConnectRequest could create a duplicate Peer for
// it.
func (t *peerTable) transferToShutdown(key string, dst *shutdownTable) (*Peer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.removeLocked(key)
	if !ok {
		return nil, false
	}
	dst.insert(p)
	return p, true
}

// snapshot returns a copy of every Peer currently in the table.
func (t *peerTable) snapshot() []*Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Peer, len(t.list))
	copy(out, t.list)
	return out
}

// snapshotInto fills out with connected peers, returning the count
// written, for the non-allocating GetPeersNonAlloc API.
func (t *peerTable) snapshotInto(out []*Peer) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := len(t.list)
	if n > len(out) {
		n = len(out)
	}
	copy(out[:n], t.list[:n])
	return n
}

// clear empties the table and returns every Peer that was in it, for
// Stop's best-effort terminal disconnect and the aggressive
// ReceiveError policy (§7).
func (t *peerTable) clear() []*Peer {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := t.list
	t.list = nil
	t.byAddr = make(map[string]*Peer)
	for _, p := range out {
		p.index = -1
	}
	return out
}
