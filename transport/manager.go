// Package transport defines the ConnectionManager contract shared by every
// concrete transport (tcp, eth, lwip): open/send/shutdown plus a zero-copy
// Buffer type whose prefix bytes are reserved for transport-specific
// headers. Grounded on the common shape of open62541's UA_ConnectionManager
// (see original_source/arch/common and src/ua_stack_channel.h for the
// protocol this plumbing carries) and on this module's own ioloop.Source
// for lifecycle.
package transport

import (
	"github.com/uacore/eventcore/ioloop"
	"github.com/uacore/eventcore/kvparams"
	"github.com/uacore/eventcore/status"
)

// ConnectionID identifies one connection (a listen socket, an accepted or
// actively-connected socket, or an Ethernet raw-socket peer) within a
// ConnectionManager. Zero is never issued.
type ConnectionID uint64

// State is reported on every Callback invocation for a connection.
type State int

const (
	// StateOpening is used only for asynchronous active-open (TCP connect):
	// the connection exists but is not yet writable/established.
	StateOpening State = iota
	// StateEstablished is reported once when a connection becomes usable,
	// and again (with a non-empty Payload) for every receive.
	StateEstablished
	// StateClosing is the exactly-once terminal notification, delivered
	// from the delayed-teardown path with an empty Payload.
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "OPENING"
	case StateEstablished:
		return "ESTABLISHED"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// Callback is invoked by a ConnectionManager to report connection lifecycle
// and inbound data. appCtx is the value given to Open, passed back unchanged
// on every invocation for that connection; the callback receives no other
// per-connection context and returns nothing to the ConnectionManager.
type Callback func(cm ConnectionManager, id ConnectionID, appCtx any, state State, params kvparams.Map, payload []byte)

// ConnectionManager is the contract every transport variant implements.
type ConnectionManager interface {
	// Name identifies the variant, e.g. "tcp", "eth", "lwip".
	Name() string

	// Open validates params against the variant's restriction table and
	// begins establishing a connection (listen socket, active connect, or
	// raw-socket bind). The ConnectionID is allocated synchronously, but the
	// ESTABLISHED callback may be asynchronous (active TCP connect).
	Open(params kvparams.Map, appCtx any, cb Callback) (ConnectionID, error)

	// Send transmits buf, which MUST have been obtained from
	// AllocNetworkBuffer(id, ...) so that any transport header the variant
	// needs is already in place.
	Send(id ConnectionID, params kvparams.Map, buf []byte) error

	// Shutdown schedules teardown of id. Idempotent: shutting down an
	// already-closing or unknown connection is not an error.
	Shutdown(id ConnectionID) error

	// AllocNetworkBuffer returns a buffer for a Send on id with room for
	// size payload bytes. The layout is variant-specific: a variant with a
	// per-send header (eth) writes it into the buffer's leading bytes, ahead
	// of the payload; a variant without one (tcp) returns payload bytes only.
	AllocNetworkBuffer(id ConnectionID, size int) ([]byte, error)

	// FreeNetworkBuffer releases a buffer obtained from AllocNetworkBuffer.
	FreeNetworkBuffer(buf []byte)
}

// Buffer is a zero-copy network buffer: payload-writable bytes preceded by
// a fixed-size hidden prefix capacity reserved for transport headers.
// Prefix() exposes that capacity only at send time, letting a header be
// written in place instead of copying the payload into a fresh buffer.
type Buffer struct {
	raw        []byte // prefixCap + payload capacity
	prefixCap  int
	prefixUsed int
}

// NewBuffer allocates a Buffer with prefixCap bytes reserved ahead of a
// payload area of at least payloadSize bytes.
func NewBuffer(prefixCap, payloadSize int) *Buffer {
	return &Buffer{
		raw:       make([]byte, prefixCap+payloadSize),
		prefixCap: prefixCap,
	}
}

// Payload returns the slice an application writes its message into.
func (b *Buffer) Payload() []byte { return b.raw[b.prefixCap:] }

// ReservePrefix grows the used-prefix region by n bytes, writing backward
// from the boundary between prefix and payload, and returns that region for
// the caller to fill with a header. It panics if n exceeds the buffer's
// remaining prefix capacity; callers size AllocNetworkBuffer's prefixCap to
// the variant's maximum header size precisely so this cannot happen on the
// happy path.
func (b *Buffer) ReservePrefix(n int) []byte {
	if n < 0 || n > b.prefixCap-b.prefixUsed {
		panic("transport: prefix reservation exceeds reserved capacity")
	}
	b.prefixUsed += n
	start := b.prefixCap - b.prefixUsed
	return b.raw[start : start+n]
}

// Wire returns the full on-wire bytes: whatever prefix was reserved,
// followed by the payload, ready to hand to a socket write.
func (b *Buffer) Wire() []byte {
	return b.raw[b.prefixCap-b.prefixUsed:]
}

// RegisteredFD couples an OS file descriptor with the ConnectionID and
// ioloop.SourceID that own it, letting a single dispatch callback translate
// a poller readiness event back into application-level send/receive calls.
// Mirrors the teacher's fd->owner bookkeeping in ioloop.Loop.
type RegisteredFD struct {
	FD         int
	ID         ConnectionID
	SourceID   ioloop.SourceID
	AppCtx     any
	ConnCtx    any
	RemoteAddr string
}

// NewUnknownConnectionError reports (wrapped with status.NotFound) that id
// names a connection the manager has no record of. Exported so every
// variant package raises the same error shape.
func NewUnknownConnectionError(id ConnectionID) error {
	return status.Newf(status.NotFound, "transport: unknown connection %d", id)
}

// IsUnknownConnection reports whether err denotes an unknown-connection
// failure, for callers that want to treat a late Shutdown/Send on an
// already-torn-down connection as benign.
func IsUnknownConnection(err error) bool {
	return status.Is(err, status.NotFound)
}
