// Package rnet implements the session-manager core of a reliable UDP
// networking library for latency-sensitive applications such as games
// and simulations.
//
// A Manager owns a single datagram Socket shared with many remote
// peers. It demultiplexes every inbound datagram into the matching
// per-peer PeerEngine, an unconnected-message/discovery flow, or the
// NAT module, drives peer liveness and retransmission on a dedicated
// logic tick, and hands events to the host application through a
// pooled, bounded-latency event queue.
//
// The per-peer reliability engine, the raw datagram socket, and NAT
// traversal are external collaborators consumed through narrow
// interfaces (PeerEngine, Socket, NatHandler); this package ships
// reference implementations of all three in the sibling engine,
// socket, and natpunch packages, but owns none of them directly.
package rnet
