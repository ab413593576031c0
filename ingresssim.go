package rnet

import (
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// immediateDeliveryThreshold is the small-delay bypass of §4.7: a
// simulated latency at or below this is delivered inline instead of
// being queued for the tick driver to release, matching the source's
// "don't bother deferring a delay nobody will notice" behavior.
const immediateDeliveryThreshold = 5 * time.Millisecond

// ingressSimulator is the Ingress Simulator (C7, §4.7): a debugging aid
// that sits between the socket's receive callback and the Packet
// Classifier, dropping a configurable fraction of datagrams and
// delaying the rest by a random amount within
// [SimulationMinLatency, SimulationMaxLatency]. It is only constructed
// when Config.SimulatePacketLoss or Config.SimulateLatency is set.
type ingressSimulator struct {
	cfg     *Config
	pool    *ants.Pool
	logger  *zap.Logger
	deliver func(from net.Addr, data []byte, err error)
	rng     *rand.Rand

	mu      sync.Mutex
	pending []delayedDatagram
}

type delayedDatagram struct {
	from     net.Addr
	data     []byte
	err      error
	deadline time.Time
}

func newIngressSimulator(cfg *Config, pool *ants.Pool, logger *zap.Logger, deliver func(from net.Addr, data []byte, err error)) *ingressSimulator {
	return &ingressSimulator{
		cfg:     cfg,
		pool:    pool,
		logger:  logger,
		deliver: deliver,
		// A private source, not the global one: reproducible sequences
		// in tests that seed it, and no contention with unrelated
		// callers of math/rand's global lock.
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// offer is called from the I/O thread for every inbound datagram.
// Socket receive errors always pass straight through undelayed and
// undropped, since they carry no reusable buffer to copy and the
// classifier needs to react to them promptly (§4.5).
func (s *ingressSimulator) offer(from net.Addr, data []byte, err error) {
	if err != nil {
		s.deliver(from, nil, err)
		return
	}

	if s.cfg.SimulatePacketLoss {
		s.mu.Lock()
		roll := s.rng.Float64() * 100
		s.mu.Unlock()
		if roll < s.cfg.SimulationPacketLossChance {
			return
		}
	}

	if !s.cfg.SimulateLatency {
		s.deliver(from, data, nil)
		return
	}

	lo, hi := s.cfg.SimulationMinLatency, s.cfg.SimulationMaxLatency
	delay := lo
	if hi > lo {
		s.mu.Lock()
		delay = lo + time.Duration(s.rng.Int63n(int64(hi-lo)))
		s.mu.Unlock()
	}

	if delay <= immediateDeliveryThreshold {
		s.deliver(from, data, nil)
		return
	}

	// The socket's receive buffer is reused on the next read, so a
	// deferred datagram must own a copy of its bytes.
	owned := make([]byte, len(data))
	copy(owned, data)

	s.mu.Lock()
	s.pending = append(s.pending, delayedDatagram{
		from:     from,
		data:     owned,
		deadline: time.Now().Add(delay),
	})
	s.mu.Unlock()
}

// releaseDue is called once per logic tick and releases every
// delayed datagram whose deadline has passed, submitting them in the
// order they were received. It never blocks on s.deliver while
// holding the lock, and hands each delivery to the worker pool rather
// than running it inline on the tick goroutine, matching the pool's
// use for NAT dispatch (§6.6); pool workers run concurrently, so the
// order in which released datagrams reach the classifier is not
// guaranteed.
func (s *ingressSimulator) releaseDue(now time.Time) {
	s.mu.Lock()
	var due []delayedDatagram
	remaining := s.pending[:0]
	for _, d := range s.pending {
		if now.After(d.deadline) {
			due = append(due, d)
		} else {
			remaining = append(remaining, d)
		}
	}
	s.pending = remaining
	s.mu.Unlock()

	for _, d := range due {
		d := d
		if err := s.pool.Submit(func() { s.deliver(d.from, d.data, nil) }); err != nil {
			s.logger.Warn("rnet: ingress simulator worker pool saturated, delivering inline", zap.Error(err))
			s.deliver(d.from, d.data, nil)
		}
	}
}
