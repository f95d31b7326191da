package securechannel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelloAckRoundTrip(t *testing.T) {
	h := Hello{
		ProtocolVersion:   0,
		ReceiveBufferSize: 65536,
		SendBufferSize:    65536,
		MaxMessageSize:    1 << 20,
		MaxChunkCount:     0,
		EndpointURL:       "opc.tcp://localhost:4840",
	}
	buf := EncodeHello(h)
	got, err := DecodeHello(buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)

	a := Acknowledge{ProtocolVersion: 0, ReceiveBufferSize: 8192, SendBufferSize: 8192, MaxMessageSize: 1 << 16, MaxChunkCount: 1}
	abuf := EncodeAcknowledge(a)
	gotA, err := DecodeAcknowledge(abuf)
	require.NoError(t, err)
	assert.Equal(t, a, gotA)
}

func TestChunkHeaderRoundTripWithChannelID(t *testing.T) {
	h := ChunkHeader{Type: MessageMsg, Final: ChunkFinalFinal, Size: 123, ChannelID: 42}
	buf := make([]byte, 12)
	n := EncodeChunkHeader(buf, h)
	assert.Equal(t, 12, n)

	got, consumed, err := DecodeChunkHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, 12, consumed)
	assert.Equal(t, h, got)
}

func TestChunkHeaderRoundTripHelNoChannelID(t *testing.T) {
	h := ChunkHeader{Type: MessageHello, Final: ChunkFinalFinal, Size: 8}
	buf := make([]byte, 8)
	n := EncodeChunkHeader(buf, h)
	assert.Equal(t, 8, n)

	got, consumed, err := DecodeChunkHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, 8, consumed)
	assert.Equal(t, uint32(0), got.ChannelID)
}

func TestDecodeChunkHeaderTooShort(t *testing.T) {
	_, _, err := DecodeChunkHeader([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestAsymmetricSecurityHeaderRoundTrip(t *testing.T) {
	h := AsymmetricSecurityHeader{
		SecurityPolicyURI:            "http://opcfoundation.org/UA/SecurityPolicy#None",
		SenderCertificate:            nil,
		ReceiverCertificateThumbprint: nil,
	}
	buf := EncodeAsymmetricSecurityHeader(nil, h)
	got, rest, err := DecodeAsymmetricSecurityHeader(buf)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, h.SecurityPolicyURI, got.SecurityPolicyURI)
	assert.Nil(t, got.SenderCertificate)
}

func TestSequenceHeaderRoundTrip(t *testing.T) {
	h := SequenceHeader{SequenceNumber: 7, RequestID: 99}
	buf := EncodeSequenceHeader(nil, h)
	got, rest, err := DecodeSequenceHeader(buf)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, h, got)
}
