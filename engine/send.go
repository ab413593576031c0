package engine

import (
	"time"

	"github.com/anon55555/rnet"
)

// Send implements rnet.PeerEngine. Oversized payloads are split into
// MTU-bounded chunks (rawSplit) that the remote engine reassembles;
// reliable sends additionally get a sequence number tracked in the
// channel's pending map until acked or Update retransmits them.
func (e *Engine) Send(data []byte, opts rnet.SendOptions) error {
	if int(opts.Channel) >= channelCount {
		return errChannel
	}

	e.mu.Lock()
	state := e.state
	e.mu.Unlock()
	if state == rnet.StateShutdownRequested {
		return rnet.ErrAlreadyClosed
	}

	hdr := origHdrSize
	if opts.Reliable {
		hdr += relHdrSize
	}

	// The leading channel byte added by withChannelHeader also counts
	// toward the datagram size.
	if 1+hdr+len(data) <= e.mtu {
		return e.sendFramed(data, opts)
	}

	ch := e.chans[opts.Channel]
	ch.mu.Lock()
	sn := ch.outSplitN
	ch.outSplitN++
	ch.mu.Unlock()

	chunkSize := e.mtu - hdr - splitHdrSize
	if chunkSize <= 0 {
		return errTooBig
	}

	chunks := splitBytes(data, chunkSize)
	if len(chunks) > 0xffff {
		return errTooBig
	}

	for i, chunk := range chunks {
		frame := make([]byte, splitHdrSize+len(chunk))
		frame[0] = byte(rawSplit)
		be.PutUint16(frame[1:3], sn)
		be.PutUint16(frame[3:5], uint16(len(chunks)))
		be.PutUint16(frame[5:7], uint16(i))
		copy(frame[splitHdrSize:], chunk)

		if err := e.sendRaw(frame, opts); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) sendFramed(data []byte, opts rnet.SendOptions) error {
	frame := make([]byte, origHdrSize+len(data))
	frame[0] = byte(rawOrig)
	copy(frame[origHdrSize:], data)
	return e.sendRaw(frame, opts)
}

func (e *Engine) sendRaw(body []byte, opts rnet.SendOptions) error {
	if !opts.Reliable {
		return e.rawSend(withChannelHeader(body, opts.Channel))
	}

	ch := e.chans[opts.Channel]
	ch.mu.Lock()
	sn := ch.outRelSN
	ch.outRelSN++

	frame := make([]byte, relHdrSize+len(body))
	frame[0] = byte(rawRel)
	be.PutUint16(frame[1:3], sn)
	copy(frame[relHdrSize:], body)

	ch.pending[sn] = &pendingRel{data: frame, channel: opts.Channel, lastSent: time.Now()}
	ch.mu.Unlock()

	return e.rawSend(withChannelHeader(frame, opts.Channel))
}

// Flush is a no-op: the engine has no outbound buffering stage
// separate from Send, so there is nothing to force to the wire.
func (e *Engine) Flush() error { return nil }

func withChannelHeader(frame []byte, channel uint8) []byte {
	out := make([]byte, 1+len(frame))
	out[0] = byte(channelPropBase + int(channel))
	copy(out[1:], frame)
	return out
}

func splitBytes(data []byte, size int) [][]byte {
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for i := 0; i < len(data); i += size {
		end := i + size
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[i:end])
	}
	return chunks
}
