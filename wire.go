package rnet

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

var le = binary.LittleEndian

// Property is the one-byte packet-kind discriminator that begins
// every datagram (§6.4).
type Property uint8

const (
	PropConnectRequest Property = iota
	PropConnectAccept
	PropDisconnect
	PropAlreadyDisconnected
	PropDiscoveryRequest
	PropDiscoveryResponse
	PropUnconnectedMessage
	PropNatIntroduction
	PropNatIntroductionRequest
	PropNatPunchMessage
)

func (p Property) String() string {
	switch p {
	case PropConnectRequest:
		return "ConnectRequest"
	case PropConnectAccept:
		return "ConnectAccept"
	case PropDisconnect:
		return "Disconnect"
	case PropAlreadyDisconnected:
		return "AlreadyDisconnected"
	case PropDiscoveryRequest:
		return "DiscoveryRequest"
	case PropDiscoveryResponse:
		return "DiscoveryResponse"
	case PropUnconnectedMessage:
		return "UnconnectedMessage"
	case PropNatIntroduction:
		return "NatIntroduction"
	case PropNatIntroductionRequest:
		return "NatIntroductionRequest"
	case PropNatPunchMessage:
		return "NatPunchMessage"
	default:
		return "Unknown"
	}
}

// ProtocolID is a compile-time constant; ConnectRequest packets
// carrying any other value are silently rejected (§6.4).
const ProtocolID int32 = 0x524e4554 // "RNET"

const (
	// connectRequestMinSize is the minimum size of a ConnectRequest
	// body measured after the property header: protocolId (4) +
	// connectionId (8). See spec.md §9's open question: the source
	// counts only these bytes, excluding the property byte itself.
	connectRequestMinSize = 4 + 8

	connectionIDSize = 8
)

var errShortPacket = errors.New("rnet: packet too short")

// buildDisconnect encodes a Disconnect packet: [prop][connectionId][payload].
func buildDisconnect(connectionID int64, payload []byte) []byte {
	buf := make([]byte, 1+connectionIDSize+len(payload))
	buf[0] = byte(PropDisconnect)
	le.PutUint64(buf[1:9], uint64(connectionID))
	copy(buf[9:], payload)
	return buf
}

// parseDisconnect splits a Disconnect body (post property-header bytes)
// into its connectionId and trailing payload.
func parseDisconnect(body []byte) (connectionID int64, payload []byte, err error) {
	if len(body) < connectionIDSize {
		return 0, nil, errShortPacket
	}
	return int64(le.Uint64(body[:connectionIDSize])), body[connectionIDSize:], nil
}

// buildAlreadyDisconnected encodes the single-byte AlreadyDisconnected reply.
func buildAlreadyDisconnected() []byte {
	return []byte{byte(PropAlreadyDisconnected)}
}

// buildConnectRequest encodes a ConnectRequest packet:
// [prop][protocolId LE int32][connectionId LE int64][payload].
func buildConnectRequest(connectionID int64, payload []byte) []byte {
	buf := make([]byte, 1+4+connectionIDSize+len(payload))
	buf[0] = byte(PropConnectRequest)
	le.PutUint32(buf[1:5], uint32(ProtocolID))
	le.PutUint64(buf[5:13], uint64(connectionID))
	copy(buf[13:], payload)
	return buf
}

// parseConnectRequest validates and splits a ConnectRequest body (the
// bytes after the property header) per the §6.4/§9 size rule: the
// manager requires size >= 12 measured post-header, and rejects
// mismatched protocol ids silently.
func parseConnectRequest(body []byte) (connectionID int64, payload []byte, ok bool) {
	if len(body) < connectRequestMinSize {
		return 0, nil, false
	}
	if pid := int32(le.Uint32(body[0:4])); pid != ProtocolID {
		return 0, nil, false
	}
	return int64(le.Uint64(body[4:12])), body[12:], true
}

func withHeader(prop Property, payload []byte) []byte {
	buf := make([]byte, 1+len(payload))
	buf[0] = byte(prop)
	copy(buf[1:], payload)
	return buf
}
