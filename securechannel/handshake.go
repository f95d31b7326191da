package securechannel

import "github.com/uacore/eventcore/status"

// Handshake tracks the HEL/ACK state of a single physical connection, ahead
// of any SecureChannel existing on it: a connection accepts exactly one
// Hello before a channel may be opened with OPN.
type Handshake struct {
	helloReceived bool
	Hello         Hello
}

// ReceiveHello records the client's Hello, or reports MultipleHello if one
// was already received on this connection — per the "a second HEL on the
// same connection results in MultipleHel and a CLOSING callback" rule.
func (h *Handshake) ReceiveHello(hello Hello) error {
	if h.helloReceived {
		return status.New(status.MultipleHello, "securechannel: multiple HEL on one connection")
	}
	h.helloReceived = true
	h.Hello = hello
	return nil
}

// Established reports whether this connection has completed its HEL/ACK
// exchange and may now accept OPN.
func (h *Handshake) Established() bool { return h.helloReceived }

// NegotiateAcknowledge builds the server's ACK mirroring its own limits,
// independent of whatever the client requested: per the HEL/ACK contract,
// the server always reports its own buffer/message/chunk limits.
func NegotiateAcknowledge(serverRecvBuf, serverSendBuf, serverMaxMsg, serverMaxChunk uint32) Acknowledge {
	return Acknowledge{
		ProtocolVersion:   0,
		ReceiveBufferSize: serverRecvBuf,
		SendBufferSize:    serverSendBuf,
		MaxMessageSize:    serverMaxMsg,
		MaxChunkCount:     serverMaxChunk,
	}
}
