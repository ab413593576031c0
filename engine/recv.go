package engine

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/anon55555/rnet"
)

// ProcessPacket implements rnet.PeerEngine. data is the full datagram
// including the leading channel-framing byte the classifier left
// untouched; see channelPropBase in engine.go.
func (e *Engine) ProcessPacket(data []byte) ([]rnet.DeliveredPacket, error) {
	e.mu.Lock()
	e.lastRecv = time.Now()
	e.mu.Unlock()

	if len(data) < 1 {
		return nil, errShortPacket
	}

	channel := int(data[0]) - channelPropBase
	if channel < 0 || channel >= channelCount {
		return nil, errChannel
	}

	return e.processChannelFrame(uint8(channel), data[1:])
}

func (e *Engine) processChannelFrame(channel uint8, body []byte) ([]rnet.DeliveredPacket, error) {
	if len(body) < 1 {
		return nil, errShortPacket
	}

	switch rawType(body[0]) {
	case rawAck:
		return nil, e.processAck(channel, body[1:])
	case rawRel:
		return e.processRel(channel, body[1:])
	default:
		return e.processUnreliable(channel, body)
	}
}

func (e *Engine) processAck(channel uint8, body []byte) error {
	if len(body) < 2 {
		return errShortPacket
	}
	sn := be.Uint16(body[0:2])

	ch := e.chans[channel]
	ch.mu.Lock()
	pending, ok := ch.pending[sn]
	if ok {
		delete(ch.pending, sn)
	}
	ch.mu.Unlock()

	if ok {
		e.updateRTT(time.Since(pending.lastSent))
	}
	return nil
}

func (e *Engine) processRel(channel uint8, body []byte) ([]rnet.DeliveredPacket, error) {
	if len(body) < 2 {
		return nil, errShortPacket
	}
	sn := be.Uint16(body[0:2])
	payload := body[2:]

	if err := e.sendAck(channel, sn); err != nil {
		return nil, err
	}

	ch := e.chans[channel]
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if seqBehind(sn, ch.inRelSN) {
		// Already delivered; the peer hasn't seen our ack yet.
		return nil, nil
	}

	slot := sn & 0x7fff
	ch.inRelBuf[slot] = append([]byte(nil), payload...)

	var out []rnet.DeliveredPacket
	for {
		slot := ch.inRelSN & 0x7fff
		next := ch.inRelBuf[slot]
		if next == nil {
			break
		}
		ch.inRelBuf[slot] = nil
		ch.inRelSN++

		delivered, err := e.reassemble(channel, next)
		if err != nil {
			return out, err
		}
		out = append(out, delivered...)
	}

	return out, nil
}

func (e *Engine) processUnreliable(channel uint8, body []byte) ([]rnet.DeliveredPacket, error) {
	return e.reassemble(channel, body)
}

// reassemble interprets a de-duplicated, in-order payload as either a
// whole message (rawOrig) or one chunk of a split message, returning
// a delivered packet once every chunk of a split has arrived.
func (e *Engine) reassemble(channel uint8, body []byte) ([]rnet.DeliveredPacket, error) {
	if len(body) < 1 {
		return nil, errShortPacket
	}

	switch rawType(body[0]) {
	case rawOrig:
		return []rnet.DeliveredPacket{{Data: body[origHdrSize:], Channel: channel}}, nil

	case rawSplit:
		if len(body) < splitHdrSize {
			return nil, errShortPacket
		}
		sn := be.Uint16(body[1:3])
		count := be.Uint16(body[3:5])
		index := be.Uint16(body[5:7])
		chunk := body[splitHdrSize:]

		if index >= count {
			return nil, errors.New("rnet/engine: chunk index >= count")
		}

		ch := e.chans[channel]
		ch.mu.Lock()
		s, ok := ch.inSplits[sn]
		if !ok {
			s = &inSplit{chunks: make([][]byte, count)}
			ch.inSplits[sn] = s
		}
		if s.chunks[index] == nil {
			s.chunks[index] = append([]byte(nil), chunk...)
			s.got++
		}
		done := s.got == len(s.chunks)
		if done {
			delete(ch.inSplits, sn)
		}
		ch.mu.Unlock()

		if !done {
			return nil, nil
		}

		var whole []byte
		for _, c := range s.chunks {
			whole = append(whole, c...)
		}
		return []rnet.DeliveredPacket{{Data: whole, Channel: channel}}, nil

	default:
		return nil, nil
	}
}

func (e *Engine) sendAck(channel uint8, sn uint16) error {
	frame := make([]byte, ackHdrSize)
	frame[0] = byte(rawAck)
	be.PutUint16(frame[1:3], sn)
	return e.rawSend(withChannelHeader(frame, channel))
}

func (e *Engine) updateRTT(sample time.Duration) {
	ms := int(sample.Milliseconds())
	e.mu.Lock()
	if e.rttMs == 0 {
		e.rttMs = ms
	} else {
		e.rttMs = (e.rttMs*3 + ms) / 4
	}
	e.mu.Unlock()
}

// seqBehind reports whether sn precedes base by seqnum-wraparound
// arithmetic (16-bit circular sequence space, as in rudp).
func seqBehind(sn, base uint16) bool {
	return base-sn < 0x8000 && sn != base
}
