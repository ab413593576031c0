package rnet

import (
	"bytes"
	"net"
)

// Listener is the capability set the host application provides (§6.2).
// It is a plain interface, not a class hierarchy: a host may implement
// it directly or via a struct of function-valued fields (see
// ListenerFuncs below).
type Listener interface {
	OnPeerConnected(p *Peer)
	OnPeerDisconnected(p *Peer, reason DisconnectReason, aux int)
	OnNetworkReceive(p *Peer, r *bytes.Reader, channel uint8)
	OnNetworkReceiveUnconnected(addr net.Addr, r *bytes.Reader, kind UnconnectedKind)
	OnNetworkError(addr net.Addr, errorCode int)
	OnNetworkLatencyUpdate(p *Peer, latencyMs int)
	OnConnectionRequest(req *ConnectionRequest)
}

// ListenerFuncs lets a host build a Listener from a record of
// function-valued fields instead of a type with seven methods; any
// nil field is a no-op, except ConnectionRequest, whose nil default
// rejects the request.
type ListenerFuncs struct {
	PeerConnected           func(p *Peer)
	PeerDisconnected        func(p *Peer, reason DisconnectReason, aux int)
	NetworkReceive          func(p *Peer, r *bytes.Reader, channel uint8)
	NetworkReceiveUnconnected func(addr net.Addr, r *bytes.Reader, kind UnconnectedKind)
	NetworkError            func(addr net.Addr, errorCode int)
	NetworkLatencyUpdate    func(p *Peer, latencyMs int)
	ConnectionRequest       func(req *ConnectionRequest)
}

func (f ListenerFuncs) OnPeerConnected(p *Peer) {
	if f.PeerConnected != nil {
		f.PeerConnected(p)
	}
}

func (f ListenerFuncs) OnPeerDisconnected(p *Peer, reason DisconnectReason, aux int) {
	if f.PeerDisconnected != nil {
		f.PeerDisconnected(p, reason, aux)
	}
}

func (f ListenerFuncs) OnNetworkReceive(p *Peer, r *bytes.Reader, channel uint8) {
	if f.NetworkReceive != nil {
		f.NetworkReceive(p, r, channel)
	}
}

func (f ListenerFuncs) OnNetworkReceiveUnconnected(addr net.Addr, r *bytes.Reader, kind UnconnectedKind) {
	if f.NetworkReceiveUnconnected != nil {
		f.NetworkReceiveUnconnected(addr, r, kind)
	}
}

func (f ListenerFuncs) OnNetworkError(addr net.Addr, errorCode int) {
	if f.NetworkError != nil {
		f.NetworkError(addr, errorCode)
	}
}

func (f ListenerFuncs) OnNetworkLatencyUpdate(p *Peer, latencyMs int) {
	if f.NetworkLatencyUpdate != nil {
		f.NetworkLatencyUpdate(p, latencyMs)
	}
}

func (f ListenerFuncs) OnConnectionRequest(req *ConnectionRequest) {
	if f.ConnectionRequest != nil {
		f.ConnectionRequest(req)
	} else {
		_ = req.Reject()
	}
}
