package rnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildParseConnectRequest(t *testing.T) {
	pkt := buildConnectRequest(42, []byte("hello"))
	assert.Equal(t, byte(PropConnectRequest), pkt[0])

	connectionID, payload, ok := parseConnectRequest(pkt[1:])
	require.True(t, ok)
	assert.Equal(t, int64(42), connectionID)
	assert.Equal(t, []byte("hello"), payload)
}

func TestParseConnectRequestRejectsWrongProtocol(t *testing.T) {
	pkt := buildConnectRequest(1, nil)
	le.PutUint32(pkt[1:5], 0xdeadbeef)

	_, _, ok := parseConnectRequest(pkt[1:])
	assert.False(t, ok)
}

func TestParseConnectRequestRejectsShortBody(t *testing.T) {
	_, _, ok := parseConnectRequest([]byte{1, 2, 3})
	assert.False(t, ok)
}

func TestBuildParseDisconnect(t *testing.T) {
	pkt := buildDisconnect(7, []byte("bye"))
	assert.Equal(t, byte(PropDisconnect), pkt[0])

	connectionID, payload, err := parseDisconnect(pkt[1:])
	require.NoError(t, err)
	assert.Equal(t, int64(7), connectionID)
	assert.Equal(t, []byte("bye"), payload)
}

func TestParseDisconnectShortBody(t *testing.T) {
	_, _, err := parseDisconnect([]byte{1, 2})
	assert.ErrorIs(t, err, errShortPacket)
}

func TestBuildAlreadyDisconnected(t *testing.T) {
	assert.Equal(t, []byte{byte(PropAlreadyDisconnected)}, buildAlreadyDisconnected())
}

func TestWithHeader(t *testing.T) {
	pkt := withHeader(PropUnconnectedMessage, []byte("ping"))
	assert.Equal(t, byte(PropUnconnectedMessage), pkt[0])
	assert.Equal(t, []byte("ping"), pkt[1:])
}

func TestPropertyString(t *testing.T) {
	assert.Equal(t, "ConnectRequest", PropConnectRequest.String())
	assert.Equal(t, "Unknown", Property(200).String())
}
