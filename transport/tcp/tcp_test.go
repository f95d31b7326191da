package tcp

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uacore/eventcore/ioloop"
	"github.com/uacore/eventcore/kvparams"
	"github.com/uacore/eventcore/status"
	"github.com/uacore/eventcore/transport"
)

func TestOpenRejectsMissingPort(t *testing.T) {
	l, err := ioloop.New()
	require.NoError(t, err)
	defer l.Shutdown()

	m := New(l)
	_, err = m.Open(kvparams.Map{"listen": true}, nil, func(transport.ConnectionManager, transport.ConnectionID, any, transport.State, kvparams.Map, []byte) {})
	require.Error(t, err)
	assert.True(t, status.Is(err, status.InvalidArgument))
}

func TestOpenRejectsActiveOpenWithoutAddress(t *testing.T) {
	l, err := ioloop.New()
	require.NoError(t, err)
	defer l.Shutdown()

	m := New(l)
	_, err = m.Open(kvparams.Map{"port": uint16(4840)}, nil, func(transport.ConnectionManager, transport.ConnectionID, any, transport.State, kvparams.Map, []byte) {})
	require.Error(t, err)
}

// freeLoopbackPort reserves an ephemeral port via the standard library, then
// releases it immediately so this package's raw-socket listener can bind it.
// Inherently racy against other processes, acceptable for test purposes.
func freeLoopbackPort(t *testing.T) uint16 {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return uint16(port)
}

// TestListenAcceptSendReceive exercises S4's HEL handshake shape end to end
// over real loopback sockets: a listener accepts one connection, the client
// sends bytes, and they arrive on the accepted connection's callback.
func TestListenAcceptSendReceive(t *testing.T) {
	loop, err := ioloop.New()
	require.NoError(t, err)
	defer loop.Shutdown()

	go func() { _ = loop.Run() }()

	serverMgr := New(loop)
	clientMgr := New(loop)
	port := freeLoopbackPort(t)

	var (
		mu          sync.Mutex
		acceptedID  transport.ConnectionID
		acceptedMgr transport.ConnectionManager
	)
	established := make(chan struct{}, 4)
	received := make(chan []byte, 1)

	require.NoError(t, loop.Submit(func() {
		_, err := serverMgr.Open(kvparams.Map{
			"address": "127.0.0.1",
			"port":    port,
			"listen":  true,
			"reuse":   true,
		}, nil, func(cm transport.ConnectionManager, id transport.ConnectionID, _ any, state transport.State, params kvparams.Map, payload []byte) {
			if state != transport.StateEstablished {
				return
			}
			if _, isListenAnnounce := params["address"]; isListenAnnounce {
				established <- struct{}{}
				return
			}
			mu.Lock()
			acceptedID, acceptedMgr = id, cm
			mu.Unlock()
			if len(payload) > 0 {
				received <- append([]byte(nil), payload...)
			}
		})
		require.NoError(t, err)
	}))

	select {
	case <-established:
	case <-time.After(time.Second):
		t.Fatal("listen socket never reported ESTABLISHED")
	}

	require.NoError(t, loop.Submit(func() {
		_, err := clientMgr.Open(kvparams.Map{
			"address": "127.0.0.1",
			"port":    port,
		}, nil, func(cm transport.ConnectionManager, id transport.ConnectionID, _ any, state transport.State, _ kvparams.Map, _ []byte) {
			if state != transport.StateEstablished {
				return
			}
			buf, err := cm.AllocNetworkBuffer(id, 5)
			require.NoError(t, err)
			copy(buf, []byte("hello"))
			require.NoError(t, cm.Send(id, nil, buf))
		})
		require.NoError(t, err)
	}))

	select {
	case got := <-received:
		assert.Equal(t, []byte("hello"), got)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received client's bytes")
	}

	require.NoError(t, loop.Submit(func() {
		mu.Lock()
		defer mu.Unlock()
		if acceptedMgr != nil {
			require.NoError(t, acceptedMgr.Shutdown(acceptedID))
		}
	}))
}

func TestBindReservedLowPortWithoutPrivilegeFails(t *testing.T) {
	l, err := ioloop.New()
	require.NoError(t, err)
	defer l.Shutdown()

	m := New(l)
	_, err = m.Open(kvparams.Map{
		"address": "127.0.0.1",
		"port":    uint16(1), // privileged; binding as non-root fails
		"listen":  true,
	}, nil, func(transport.ConnectionManager, transport.ConnectionID, any, transport.State, kvparams.Map, []byte) {})
	if err == nil {
		t.Skip("test process has privilege to bind low ports")
	}
	assert.True(t, status.Is(err, status.Internal))
}

func TestShutdownUnknownConnectionIsNoop(t *testing.T) {
	l, err := ioloop.New()
	require.NoError(t, err)
	defer l.Shutdown()

	m := New(l)
	require.NoError(t, m.Shutdown(transport.ConnectionID(999)))
}

func TestSendUnknownConnectionIsNotFound(t *testing.T) {
	l, err := ioloop.New()
	require.NoError(t, err)
	defer l.Shutdown()

	m := New(l)
	err = m.Send(transport.ConnectionID(999), nil, []byte("x"))
	require.Error(t, err)
	assert.True(t, transport.IsUnknownConnection(err))
}
