package securechannel

import (
	"encoding/binary"

	"github.com/uacore/eventcore/status"
)

// MessageType is the 3-byte ASCII chunk type tag.
type MessageType [3]byte

var (
	MessageHello = MessageType{'H', 'E', 'L'}
	MessageAck   = MessageType{'A', 'C', 'K'}
	MessageError = MessageType{'E', 'R', 'R'}
	MessageOpen  = MessageType{'O', 'P', 'N'}
	MessageMsg   = MessageType{'M', 'S', 'G'}
	MessageClose = MessageType{'C', 'L', 'O'}
)

// ChunkFinal is the 1-byte ASCII final marker.
type ChunkFinal byte

const (
	ChunkFinalFinal         ChunkFinal = 'F' // last chunk of a message
	ChunkFinalIntermediate  ChunkFinal = 'C' // more chunks to come
	ChunkFinalAbort         ChunkFinal = 'A' // abort, discard the message so far
)

// headerSize is MessageType(3) + ChunkFinal(1) + size(4) = 8 bytes, common
// to every chunk, including HEL/ACK/ERR which carry no channel id.
const headerSize = 8

// ChunkHeader is the fixed common prefix of every chunk on the wire.
type ChunkHeader struct {
	Type      MessageType
	Final     ChunkFinal
	Size      uint32 // total chunk size, including this header
	ChannelID uint32 // absent (zero) for HEL/ACK/ERR
}

// hasChannelID reports whether t carries a ChannelID field after the
// common header, per spec: all except HEL/ACK/ERR do.
func (t MessageType) hasChannelID() bool {
	return t != MessageHello && t != MessageAck && t != MessageError
}

// DecodeChunkHeader parses the fixed header from the front of buf.
func DecodeChunkHeader(buf []byte) (ChunkHeader, int, error) {
	if len(buf) < headerSize {
		return ChunkHeader{}, 0, status.New(status.InvalidArgument, "securechannel: chunk shorter than header")
	}
	h := ChunkHeader{
		Type:  MessageType{buf[0], buf[1], buf[2]},
		Final: ChunkFinal(buf[3]),
		Size:  binary.LittleEndian.Uint32(buf[4:8]),
	}
	n := headerSize
	if h.hasChannelID() {
		if len(buf) < n+4 {
			return ChunkHeader{}, 0, status.New(status.InvalidArgument, "securechannel: chunk too short for channel id")
		}
		h.ChannelID = binary.LittleEndian.Uint32(buf[n : n+4])
		n += 4
	}
	if h.Size < uint32(n) {
		return ChunkHeader{}, 0, status.New(status.InvalidArgument, "securechannel: chunk size smaller than header")
	}
	return h, n, nil
}

// EncodeChunkHeader writes h's fixed header to buf, returning the number
// of bytes written. buf must have room for the header: 12 bytes when h.Type
// carries a channel id, 8 bytes for HEL/ACK/ERR.
func EncodeChunkHeader(buf []byte, h ChunkHeader) int {
	buf[0], buf[1], buf[2] = h.Type[0], h.Type[1], h.Type[2]
	buf[3] = byte(h.Final)
	binary.LittleEndian.PutUint32(buf[4:8], h.Size)
	n := headerSize
	if h.Type.hasChannelID() {
		binary.LittleEndian.PutUint32(buf[n:n+4], h.ChannelID)
		n += 4
	}
	return n
}

// AsymmetricSecurityHeader precedes the payload of an OPN chunk.
type AsymmetricSecurityHeader struct {
	SecurityPolicyURI            string
	SenderCertificate             []byte
	ReceiverCertificateThumbprint []byte
}

// SymmetricSecurityHeader precedes the payload of an MSG or CLO chunk.
type SymmetricSecurityHeader struct {
	TokenID uint32
}

// SequenceHeader follows the security header in every chunk.
type SequenceHeader struct {
	SequenceNumber uint32
	RequestID      uint32
}

func encodeByteString(buf []byte, s []byte) []byte {
	if s == nil {
		return binary.LittleEndian.AppendUint32(buf, 0xFFFFFFFF)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func decodeByteString(buf []byte) ([]byte, []byte, error) {
	if len(buf) < 4 {
		return nil, nil, status.New(status.InvalidArgument, "securechannel: truncated byte string length")
	}
	n := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]
	if n == 0xFFFFFFFF {
		return nil, buf, nil
	}
	if uint32(len(buf)) < n {
		return nil, nil, status.New(status.InvalidArgument, "securechannel: truncated byte string")
	}
	return buf[:n:n], buf[n:], nil
}

// EncodeAsymmetricSecurityHeader appends h to buf.
func EncodeAsymmetricSecurityHeader(buf []byte, h AsymmetricSecurityHeader) []byte {
	buf = encodeByteString(buf, []byte(h.SecurityPolicyURI))
	buf = encodeByteString(buf, h.SenderCertificate)
	buf = encodeByteString(buf, h.ReceiverCertificateThumbprint)
	return buf
}

// DecodeAsymmetricSecurityHeader parses h from the front of buf, returning
// the unconsumed remainder.
func DecodeAsymmetricSecurityHeader(buf []byte) (AsymmetricSecurityHeader, []byte, error) {
	uri, buf, err := decodeByteString(buf)
	if err != nil {
		return AsymmetricSecurityHeader{}, nil, err
	}
	sender, buf, err := decodeByteString(buf)
	if err != nil {
		return AsymmetricSecurityHeader{}, nil, err
	}
	thumb, buf, err := decodeByteString(buf)
	if err != nil {
		return AsymmetricSecurityHeader{}, nil, err
	}
	return AsymmetricSecurityHeader{
		SecurityPolicyURI:             string(uri),
		SenderCertificate:             sender,
		ReceiverCertificateThumbprint: thumb,
	}, buf, nil
}

// EncodeSymmetricSecurityHeader appends h to buf.
func EncodeSymmetricSecurityHeader(buf []byte, h SymmetricSecurityHeader) []byte {
	return binary.LittleEndian.AppendUint32(buf, h.TokenID)
}

// DecodeSymmetricSecurityHeader parses h from the front of buf.
func DecodeSymmetricSecurityHeader(buf []byte) (SymmetricSecurityHeader, []byte, error) {
	if len(buf) < 4 {
		return SymmetricSecurityHeader{}, nil, status.New(status.InvalidArgument, "securechannel: truncated symmetric security header")
	}
	return SymmetricSecurityHeader{TokenID: binary.LittleEndian.Uint32(buf)}, buf[4:], nil
}

// EncodeSequenceHeader appends h to buf.
func EncodeSequenceHeader(buf []byte, h SequenceHeader) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, h.SequenceNumber)
	buf = binary.LittleEndian.AppendUint32(buf, h.RequestID)
	return buf
}

// DecodeSequenceHeader parses h from the front of buf.
func DecodeSequenceHeader(buf []byte) (SequenceHeader, []byte, error) {
	if len(buf) < 8 {
		return SequenceHeader{}, nil, status.New(status.InvalidArgument, "securechannel: truncated sequence header")
	}
	return SequenceHeader{
		SequenceNumber: binary.LittleEndian.Uint32(buf[0:4]),
		RequestID:      binary.LittleEndian.Uint32(buf[4:8]),
	}, buf[8:], nil
}

// Hello is the client's connection handshake payload.
type Hello struct {
	ProtocolVersion   uint32
	ReceiveBufferSize uint32
	SendBufferSize    uint32
	MaxMessageSize    uint32
	MaxChunkCount     uint32
	EndpointURL       string
}

// EncodeHello serializes h as the payload of a HEL chunk.
func EncodeHello(h Hello) []byte {
	buf := make([]byte, 0, 20+4+len(h.EndpointURL))
	buf = binary.LittleEndian.AppendUint32(buf, h.ProtocolVersion)
	buf = binary.LittleEndian.AppendUint32(buf, h.ReceiveBufferSize)
	buf = binary.LittleEndian.AppendUint32(buf, h.SendBufferSize)
	buf = binary.LittleEndian.AppendUint32(buf, h.MaxMessageSize)
	buf = binary.LittleEndian.AppendUint32(buf, h.MaxChunkCount)
	buf = encodeByteString(buf, []byte(h.EndpointURL))
	return buf
}

// DecodeHello parses a HEL payload.
func DecodeHello(buf []byte) (Hello, error) {
	if len(buf) < 20 {
		return Hello{}, status.New(status.InvalidArgument, "securechannel: truncated HEL payload")
	}
	h := Hello{
		ProtocolVersion:   binary.LittleEndian.Uint32(buf[0:4]),
		ReceiveBufferSize: binary.LittleEndian.Uint32(buf[4:8]),
		SendBufferSize:    binary.LittleEndian.Uint32(buf[8:12]),
		MaxMessageSize:    binary.LittleEndian.Uint32(buf[12:16]),
		MaxChunkCount:     binary.LittleEndian.Uint32(buf[16:20]),
	}
	url, _, err := decodeByteString(buf[20:])
	if err != nil {
		return Hello{}, err
	}
	h.EndpointURL = string(url)
	return h, nil
}

// Acknowledge is the server's response to a Hello, mirroring its own limits.
type Acknowledge struct {
	ProtocolVersion   uint32
	ReceiveBufferSize uint32
	SendBufferSize    uint32
	MaxMessageSize    uint32
	MaxChunkCount     uint32
}

// EncodeAcknowledge serializes a as the payload of an ACK chunk.
func EncodeAcknowledge(a Acknowledge) []byte {
	buf := make([]byte, 0, 20)
	buf = binary.LittleEndian.AppendUint32(buf, a.ProtocolVersion)
	buf = binary.LittleEndian.AppendUint32(buf, a.ReceiveBufferSize)
	buf = binary.LittleEndian.AppendUint32(buf, a.SendBufferSize)
	buf = binary.LittleEndian.AppendUint32(buf, a.MaxMessageSize)
	buf = binary.LittleEndian.AppendUint32(buf, a.MaxChunkCount)
	return buf
}

// DecodeAcknowledge parses an ACK payload.
func DecodeAcknowledge(buf []byte) (Acknowledge, error) {
	if len(buf) < 20 {
		return Acknowledge{}, status.New(status.InvalidArgument, "securechannel: truncated ACK payload")
	}
	return Acknowledge{
		ProtocolVersion:   binary.LittleEndian.Uint32(buf[0:4]),
		ReceiveBufferSize: binary.LittleEndian.Uint32(buf[4:8]),
		SendBufferSize:    binary.LittleEndian.Uint32(buf[8:12]),
		MaxMessageSize:    binary.LittleEndian.Uint32(buf[12:16]),
		MaxChunkCount:     binary.LittleEndian.Uint32(buf[16:20]),
	}, nil
}
