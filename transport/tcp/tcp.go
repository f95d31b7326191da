// Package tcp implements the POSIX TCP transport.ConnectionManager variant:
// listen/accept and active-connect state machines over non-blocking
// SOCK_STREAM sockets, driven entirely from the owning ioloop.Loop
// goroutine. Grounded on open62541's ua_tcp transport (see
// original_source/arch/common and src/ua_stack_channel.h for the protocol
// this carries) and on this module's ioloop.FastPoller/Source machinery for
// the Go-native non-blocking I/O shape.
package tcp

import (
	"net"
	"strconv"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/uacore/eventcore/ioloop"
	"github.com/uacore/eventcore/kvparams"
	"github.com/uacore/eventcore/status"
	"github.com/uacore/eventcore/transport"
)

// Restrictions is the per-implementation parameter table for Open, per the
// TCP variant's parameter list.
var Restrictions = []kvparams.Restriction{
	{Name: "recv-bufsize", Type: kvparams.TypeOf[uint32](), Cardinality: kvparams.Scalar, Required: false},
	{Name: "address", Type: kvparams.TypeOf[string](), Cardinality: kvparams.Scalar, Required: false},
	{Name: "port", Type: kvparams.TypeOf[uint16](), Cardinality: kvparams.Scalar, Required: true},
	{Name: "listen", Type: kvparams.TypeOf[bool](), Cardinality: kvparams.Scalar, Required: false},
	{Name: "validate", Type: kvparams.TypeOf[bool](), Cardinality: kvparams.Scalar, Required: false},
	{Name: "reuse", Type: kvparams.TypeOf[bool](), Cardinality: kvparams.Scalar, Required: false},
}

const defaultRecvBufSize = 64 * 1024

// conn is one managed socket: a listen socket or an accepted/actively
// connected peer.
type conn struct {
	id       transport.ConnectionID
	fd       int
	sourceID ioloop.SourceID
	appCtx   any
	connCtx  any
	cb       transport.Callback
	params   kvparams.Map

	listening bool
	connected bool // false while an active-open connect() is pending
	closing   bool

	remoteAddr string
}

// Start/Stop make conn satisfy ioloop.Source, so Shutdown can ride the
// loop's normal source-lifecycle bookkeeping (idempotent StopSource, exactly
// once MarkSourceStopped) instead of a bespoke teardown path.
func (c *conn) Start(*ioloop.Loop, ioloop.SourceID) error { return nil }

func (c *conn) Stop(l *ioloop.Loop, id ioloop.SourceID) error {
	_ = l.UnregisterFD(c.fd)
	l.DeferTeardown(func() {
		_ = unix.Close(c.fd)
		if c.cb != nil {
			c.cb(nil, c.id, c.appCtx, transport.StateClosing, nil, nil)
		}
		l.MarkSourceStopped(id)
	})
	return nil
}

// Manager implements transport.ConnectionManager over POSIX TCP sockets.
type Manager struct {
	loop *ioloop.Loop

	mu     sync.Mutex
	conns  map[transport.ConnectionID]*conn
	nextID uint64

	rxBuf []byte
}

// New constructs a Manager bound to loop. All Open/Send/Shutdown calls, and
// every callback invocation, happen on loop's goroutine.
func New(loop *ioloop.Loop) *Manager {
	return &Manager{
		loop:  loop,
		conns: make(map[transport.ConnectionID]*conn),
		rxBuf: make([]byte, defaultRecvBufSize),
	}
}

func (m *Manager) Name() string { return "tcp" }

func (m *Manager) allocID() transport.ConnectionID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return transport.ConnectionID(m.nextID)
}

func boolParam(p kvparams.Map, name string) bool {
	v, _ := p[name].(bool)
	return v
}

func stringParam(p kvparams.Map, name string) string {
	v, _ := p[name].(string)
	return v
}

// Open implements the listen and active-connect paths described for the
// TCP variant: resolve address:port, create a non-blocking SOCK_STREAM
// socket, and either bind+listen or issue a non-blocking connect.
func (m *Manager) Open(params kvparams.Map, appCtx any, cb transport.Callback) (transport.ConnectionID, error) {
	if err := kvparams.Validate(nil, "tcp", Restrictions, params); err != nil {
		return 0, err
	}

	port, _ := params["port"].(uint16)
	address := stringParam(params, "address")
	listen := boolParam(params, "listen")
	validate := boolParam(params, "validate")
	reuse := boolParam(params, "reuse")

	host := address
	if host == "" {
		if listen {
			host = "0.0.0.0"
		} else {
			return 0, status.New(status.InvalidArgument, "tcp: address required for active open")
		}
	}

	sa, family, err := resolveSockaddr(host, port)
	if err != nil {
		return 0, status.Wrap(status.InvalidArgument, "tcp: resolve", err)
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, status.Wrap(status.Internal, "tcp: socket", err)
	}

	if reuse {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

	id := m.allocID()
	c := &conn{id: id, fd: fd, appCtx: appCtx, cb: cb, params: params}

	if listen {
		if err := unix.Bind(fd, sa); err != nil {
			_ = unix.Close(fd)
			return 0, status.Wrap(status.Internal, "tcp: bind", err)
		}
		if validate {
			_ = unix.Close(fd)
			return id, nil
		}
		if err := unix.Listen(fd, 128); err != nil {
			_ = unix.Close(fd)
			return 0, status.Wrap(status.Internal, "tcp: listen", err)
		}
		c.listening = true
		c.connected = true

		c.sourceID = m.loop.RegisterSource(c)
		if err := m.loop.RegisterFD(fd, ioloop.EventRead, c.sourceID, func(ev ioloop.IOEvents) {
			m.onListenReadable(c, ev)
		}); err != nil {
			_ = unix.Close(fd)
			return 0, err
		}

		m.mu.Lock()
		m.conns[id] = c
		m.mu.Unlock()

		cb(m, id, appCtx, transport.StateEstablished, kvparams.Map{"address": address, "port": port}, nil)
		return id, nil
	}

	// Active open: non-blocking connect, reported once writable.
	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		_ = unix.Close(fd)
		return 0, status.Wrap(status.ConnectionRejected, "tcp: connect", err)
	}

	c.sourceID = m.loop.RegisterSource(c)
	if err := m.loop.RegisterFD(fd, ioloop.EventWrite, c.sourceID, func(ev ioloop.IOEvents) {
		m.onConnectWritable(c, ev)
	}); err != nil {
		_ = unix.Close(fd)
		return 0, err
	}

	m.mu.Lock()
	m.conns[id] = c
	m.mu.Unlock()

	cb(m, id, appCtx, transport.StateOpening, nil, nil)
	return id, nil
}

func (m *Manager) onConnectWritable(c *conn, ev ioloop.IOEvents) {
	if ev&(ioloop.EventError|ioloop.EventHangup) != 0 {
		m.teardown(c)
		return
	}
	errno, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil || errno != 0 {
		m.teardown(c)
		return
	}
	c.connected = true
	if err := m.loop.ModifyFD(c.fd, ioloop.EventRead); err != nil {
		m.teardown(c)
		return
	}
	c.cb(m, c.id, c.appCtx, transport.StateEstablished, nil, nil)
}

func (m *Manager) onListenReadable(c *conn, ev ioloop.IOEvents) {
	for {
		nfd, sa, err := unix.Accept4(c.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			return
		}
		_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

		id := m.allocID()
		nc := &conn{id: id, fd: nfd, appCtx: c.appCtx, cb: c.cb, connected: true, remoteAddr: sockaddrString(sa)}
		nc.sourceID = m.loop.RegisterSource(nc)
		m.mu.Lock()
		m.conns[id] = nc
		m.mu.Unlock()

		if err := m.loop.RegisterFD(nfd, ioloop.EventRead, nc.sourceID, func(ev ioloop.IOEvents) {
			m.onDataReadable(nc, ev)
		}); err != nil {
			m.mu.Lock()
			delete(m.conns, id)
			m.mu.Unlock()
			_ = unix.Close(nfd)
			continue
		}

		c.cb(m, id, c.appCtx, transport.StateEstablished, kvparams.Map{"remote-address": nc.remoteAddr}, nil)
	}
}

func (m *Manager) onDataReadable(c *conn, ev ioloop.IOEvents) {
	if ev&(ioloop.EventError|ioloop.EventHangup) != 0 {
		m.teardown(c)
		return
	}
	n, err := unix.Read(c.fd, m.rxBuf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return
		}
		m.teardown(c)
		return
	}
	if n == 0 {
		m.teardown(c)
		return
	}
	c.cb(m, c.id, c.appCtx, transport.StateEstablished, nil, m.rxBuf[:n])
}

// Send writes buf (obtained from AllocNetworkBuffer) to the connection,
// retrying on EAGAIN with a short bounded poll for writability, per the TCP
// variant's send path; any other error tears the connection down.
func (m *Manager) Send(id transport.ConnectionID, _ kvparams.Map, buf []byte) error {
	m.mu.Lock()
	c, ok := m.conns[id]
	m.mu.Unlock()
	if !ok {
		return transport.NewUnknownConnectionError(id)
	}
	if c.closing {
		return status.New(status.ConnectionClosed, "tcp: connection is closing")
	}

	for len(buf) > 0 {
		n, err := unix.Write(c.fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
				if !pollWritable(c.fd) {
					m.teardown(c)
					return status.New(status.ConnectionClosed, "tcp: send timed out waiting for writability")
				}
				continue
			}
			m.teardown(c)
			return status.Wrap(status.ConnectionClosed, "tcp: write", err)
		}
		buf = buf[n:]
	}
	return nil
}

// Shutdown schedules teardown of id. Idempotent.
func (m *Manager) Shutdown(id transport.ConnectionID) error {
	m.mu.Lock()
	c, ok := m.conns[id]
	m.mu.Unlock()
	if !ok {
		return nil // already gone: idempotent per the contract
	}
	m.teardown(c)
	return nil
}

func (m *Manager) teardown(c *conn) {
	m.mu.Lock()
	if c.closing {
		m.mu.Unlock()
		return
	}
	c.closing = true
	delete(m.conns, c.id)
	m.mu.Unlock()
	_ = m.loop.StopSource(c.sourceID)
}

// AllocNetworkBuffer returns a buffer with no reserved header prefix: raw
// TCP is a byte stream with no per-send transport header of its own.
func (m *Manager) AllocNetworkBuffer(_ transport.ConnectionID, size int) ([]byte, error) {
	return transport.NewBuffer(0, size).Wire(), nil
}

// FreeNetworkBuffer is a no-op: buffers are plain heap slices, released to
// the garbage collector like any other.
func (m *Manager) FreeNetworkBuffer([]byte) {}

func resolveSockaddr(host string, port uint16) (unix.Sockaddr, int, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		addrs, err := net.LookupIP(host)
		if err != nil || len(addrs) == 0 {
			return nil, 0, status.Newf(status.InvalidArgument, "tcp: cannot resolve %q", host)
		}
		ip = addrs[0]
	}
	if v4 := ip.To4(); v4 != nil {
		var sa unix.SockaddrInet4
		sa.Port = int(port)
		copy(sa.Addr[:], v4)
		return &sa, unix.AF_INET, nil
	}
	var sa unix.SockaddrInet6
	sa.Port = int(port)
	copy(sa.Addr[:], ip.To16())
	return &sa, unix.AF_INET6, nil
}

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	default:
		return ""
	}
}

func pollWritable(fd int) bool {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		n, err := unix.Poll(fds, 1000)
		if err == unix.EINTR {
			continue
		}
		return err == nil && n > 0 && fds[0].Revents&unix.POLLOUT != 0
	}
}
