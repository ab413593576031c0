// Package natpunch is a minimal rnet.NatHandler: it logs the three
// NAT packet kinds the classifier routes to it and leaves actual hole
// punching out of scope, per the session manager's external-NAT-Module
// boundary.
package natpunch

import (
	"net"

	"go.uber.org/zap"

	"github.com/anon55555/rnet"
)

// Handler is a logging-only NatHandler. Embedding applications that
// need real NAT traversal implement rnet.NatHandler themselves and
// pass it via ManagerOptions.Nat instead.
type Handler struct {
	logger *zap.Logger
}

// New constructs a Handler. A no-op logger is used if logger is nil.
func New(logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{logger: logger}
}

var _ rnet.NatHandler = (*Handler)(nil)

func (h *Handler) Handle(prop rnet.Property, from net.Addr, payload []byte) {
	h.logger.Debug("rnet/natpunch: packet received",
		zap.Stringer("prop", prop),
		zap.Stringer("from", from),
		zap.Int("size", len(payload)),
	)

	switch prop {
	case rnet.PropNatIntroductionRequest:
		h.handleIntroductionRequest(from, payload)
	case rnet.PropNatIntroduction:
		h.handleIntroduction(from, payload)
	case rnet.PropNatPunchMessage:
		h.handlePunch(from, payload)
	}
}

// handleIntroductionRequest would normally register from as wanting
// to be introduced to the peer named in payload; this reference
// implementation only logs it.
func (h *Handler) handleIntroductionRequest(from net.Addr, payload []byte) {
	h.logger.Info("rnet/natpunch: introduction request", zap.Stringer("from", from))
}

// handleIntroduction would normally relay the introduced peer's
// address to the requester so it can begin punching.
func (h *Handler) handleIntroduction(from net.Addr, payload []byte) {
	h.logger.Info("rnet/natpunch: introduction", zap.Stringer("from", from))
}

// handlePunch would normally send a handful of unconnected probe
// datagrams at the introduced address to open a NAT mapping.
func (h *Handler) handlePunch(from net.Addr, payload []byte) {
	h.logger.Info("rnet/natpunch: punch message", zap.Stringer("from", from))
}
