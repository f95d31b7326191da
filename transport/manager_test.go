package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferPrefixReservationIsHiddenUntilReserved(t *testing.T) {
	b := NewBuffer(16, 32)
	payload := b.Payload()
	require.Len(t, payload, 32)

	copy(payload, []byte("hello"))
	assert.Equal(t, 32, len(b.Wire())) // nothing reserved yet: Wire == Payload length

	hdr := b.ReservePrefix(4)
	require.Len(t, hdr, 4)
	copy(hdr, []byte{0xAA, 0xBB, 0xCC, 0xDD})

	wire := b.Wire()
	assert.Len(t, wire, 36)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD}, wire[:4])
	assert.Equal(t, byte('h'), wire[4])
}

func TestBufferReservePrefixPanicsOverCapacity(t *testing.T) {
	b := NewBuffer(4, 16)
	assert.Panics(t, func() {
		b.ReservePrefix(5)
	})
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "OPENING", StateOpening.String())
	assert.Equal(t, "ESTABLISHED", StateEstablished.String())
	assert.Equal(t, "CLOSING", StateClosing.String())
}

func TestUnknownConnectionErrorRoundTrips(t *testing.T) {
	err := NewUnknownConnectionError(ConnectionID(7))
	assert.True(t, IsUnknownConnection(err))
}
