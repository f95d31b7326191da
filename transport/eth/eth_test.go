//go:build linux

package eth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMACRoundTrip(t *testing.T) {
	m, err := ParseMAC("01-80-C2-00-00-01")
	require.NoError(t, err)
	assert.Equal(t, "01-80-C2-00-00-01", m.String())
}

func TestParseMACRejectsMalformed(t *testing.T) {
	_, err := ParseMAC("not-a-mac")
	require.Error(t, err)
	_, err = ParseMAC("01-80-C2-00-00")
	require.Error(t, err)
}

func TestMulticastDetection(t *testing.T) {
	multicast, _ := ParseMAC("01-80-C2-00-00-01")
	assert.True(t, multicast.Multicast())

	unicast, _ := ParseMAC("00-1A-2B-3C-4D-5E")
	assert.False(t, unicast.Multicast())

	broadcast, _ := ParseMAC("FF-FF-FF-FF-FF-FF")
	assert.False(t, broadcast.Multicast())
}

// TestVLANFrameHeaderEncode mirrors scenario S6: dest/source MAC, 0x8100
// TPID, PCP=3/DEI=false/VID=5 packed into the TCI, then ethertype 0x88AB.
func TestVLANFrameHeaderEncode(t *testing.T) {
	mac, _ := ParseMAC("01-80-C2-00-00-01")
	h := FrameHeader{
		Dest:      mac,
		Source:    mac,
		HasVLAN:   true,
		PCP:       3,
		DEI:       false,
		VID:       5,
		EtherType: 0x88AB,
	}
	buf := h.Encode()
	require.Len(t, buf, 18)
	assert.Equal(t, mac[:], buf[0:6])
	assert.Equal(t, mac[:], buf[6:12])
	assert.Equal(t, []byte{0x81, 0x00}, buf[12:14])
	assert.Equal(t, []byte{0x60, 0x05}, buf[14:16]) // PCP=3 (0b011) << 13 | VID=5
	assert.Equal(t, []byte{0x88, 0xAB}, buf[16:18])
}

func TestDecodeFrameRoundTripsVLANTag(t *testing.T) {
	mac, _ := ParseMAC("01-80-C2-00-00-01")
	h := FrameHeader{Dest: mac, Source: mac, HasVLAN: true, PCP: 3, VID: 5, EtherType: 0x88AB}
	buf := append(h.Encode(), []byte("data")...)

	f, err := DecodeFrame(buf)
	require.NoError(t, err)
	assert.True(t, f.HasVLAN)
	assert.Equal(t, uint16(5), f.VID)
	assert.Equal(t, uint8(3), f.PCP)
	assert.Equal(t, uint16(0x88AB), f.EtherType)
	assert.Equal(t, []byte("data"), f.Payload)
}

func TestDecodeFrameNoVLAN(t *testing.T) {
	mac, _ := ParseMAC("00-11-22-33-44-55")
	h := FrameHeader{Dest: mac, Source: mac, EtherType: 0x0800}
	buf := append(h.Encode(), []byte("xy")...)
	require.Len(t, buf, 16)

	f, err := DecodeFrame(buf)
	require.NoError(t, err)
	assert.False(t, f.HasVLAN)
	assert.Equal(t, uint16(0x0800), f.EtherType)
	assert.Equal(t, []byte("xy"), f.Payload)
}

func TestDecodeFrameTooShort(t *testing.T) {
	_, err := DecodeFrame([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestPatchLengthFieldRewritesTrailingField(t *testing.T) {
	mac, _ := ParseMAC("00-11-22-33-44-55")
	h := FrameHeader{Dest: mac, Source: mac, EtherType: 0}
	buf := append(h.Encode(), make([]byte, 4)...)
	patchLengthField(buf, h, 4)
	assert.Equal(t, []byte{0x00, 0x04}, buf[len(h.Encode())-2:len(h.Encode())])
}
