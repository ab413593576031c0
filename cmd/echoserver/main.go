/*
Echoserver is a minimal rnet session manager host: it accepts every
inbound connection, echoes every received payload back to its sender
reliably on the same channel, and logs connect/disconnect events.

Usage:

	echoserver port
*/
package main

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/anon55555/rnet"
	"github.com/anon55555/rnet/engine"
	"github.com/anon55555/rnet/natpunch"
	"github.com/anon55555/rnet/socket"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: echoserver port")
		os.Exit(1)
	}
	port, err := strconv.Atoi(os.Args[1])
	if err != nil {
		log.Fatal(err)
	}

	cfg := &rnet.Config{
		Capacity:                    4096,
		UnconnectedMessagesEnabled:  true,
		DiscoveryEnabled:            true,
		ReceiveErrorClearsPeerTable: true,
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	sock := socket.New(cfg.ReuseAddress)

	mgr, err := rnet.NewManager(rnet.ManagerOptions{
		Config: cfg,
		Socket: sock,
		NewEngine: engine.NewFactory(
			func(remote net.Addr, b []byte) error {
				_, err := sock.SendTo(b, remote)
				return err
			},
			cfg.MaxConnectAttempts,
			cfg.ReconnectDelay,
		),
		Nat:      natpunch.New(logger),
		Logger:   logger,
		Listener: newEchoListener(logger),
	})
	if err != nil {
		log.Fatal(err)
	}

	if err := mgr.Start(port); err != nil {
		log.Fatal(err)
	}
	logger.Info("echoserver listening", zap.Int("port", port))

	for {
		mgr.PollEvents()
	}
}

type echoListener struct {
	rnet.ListenerFuncs
	logger *zap.Logger
}

func newEchoListener(logger *zap.Logger) *echoListener {
	l := &echoListener{logger: logger}
	l.ListenerFuncs = rnet.ListenerFuncs{
		ConnectionRequest: func(req *rnet.ConnectionRequest) {
			if err := req.Accept(); err != nil {
				logger.Warn("accept failed", zap.Error(err))
			}
		},
		PeerConnected: func(p *rnet.Peer) {
			logger.Info("peer connected", zap.Stringer("addr", p.Addr()))
		},
		PeerDisconnected: func(p *rnet.Peer, reason rnet.DisconnectReason, aux int) {
			logger.Info("peer disconnected", zap.Stringer("addr", p.Addr()), zap.Int("reason", int(reason)))
		},
		NetworkReceive: func(p *rnet.Peer, r *bytes.Reader, channel uint8) {
			buf, err := io.ReadAll(r)
			if err != nil {
				logger.Warn("read failed", zap.Error(err))
				return
			}
			if err := p.Send(buf, rnet.SendOptions{Reliable: true, Channel: channel}); err != nil {
				logger.Warn("echo send failed", zap.Error(err))
			}
		},
	}
	return l
}
