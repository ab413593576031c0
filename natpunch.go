package rnet

import "net"

// NatHandler consumes packets the classifier routes to the NAT
// traversal flow without interpreting them itself. A minimal,
// worker-pool-backed implementation lives in the sibling natpunch
// package.
type NatHandler interface {
	Handle(prop Property, from net.Addr, payload []byte)
}
