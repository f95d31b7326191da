//go:build linux

package ioloop

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/uacore/eventcore/status"
)

// maxFDs bounds direct-indexed FD lookup; descriptors beyond this are
// rejected with a status.InvalidArgument error rather than growing unbounded
// on a misbehaving peer.
const maxFDs = 65536

// IOEvents is a bitmask of I/O readiness conditions.
type IOEvents uint32

const (
	EventRead IOEvents = 1 << iota
	EventWrite
	EventError
	EventHangup
)

// IOCallback is invoked with the ready events for a registered fd.
type IOCallback func(IOEvents)

type fdSlot struct {
	callback IOCallback
	events   IOEvents
	active   bool
}

// FastPoller wraps epoll for the registered-fd readiness loop.
type FastPoller struct {
	epfd     int32
	version  atomic.Uint64
	eventBuf [256]unix.EpollEvent
	fds      [maxFDs]fdSlot
	fdMu     sync.RWMutex
	closed   atomic.Bool
}

func (p *FastPoller) Init() error {
	if p.closed.Load() {
		return status.New(status.Internal, "ioloop: poller closed")
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return status.Wrap(status.Internal, "ioloop: epoll_create1", err)
	}
	p.epfd = int32(epfd)
	return nil
}

func (p *FastPoller) Close() error {
	p.closed.Store(true)
	if p.epfd > 0 {
		return unix.Close(int(p.epfd))
	}
	return nil
}

func (p *FastPoller) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	if p.closed.Load() {
		return status.New(status.Internal, "ioloop: poller closed")
	}
	if fd < 0 || fd >= maxFDs {
		return status.Newf(status.InvalidArgument, "ioloop: fd %d out of range", fd)
	}

	p.fdMu.Lock()
	if p.fds[fd].active {
		p.fdMu.Unlock()
		return status.Newf(status.InvalidArgument, "ioloop: fd %d already registered", fd)
	}
	p.fds[fd] = fdSlot{callback: cb, events: events, active: true}
	p.version.Add(1)
	p.fdMu.Unlock()

	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		p.fdMu.Lock()
		p.fds[fd] = fdSlot{}
		p.fdMu.Unlock()
		return status.Wrap(status.Internal, "ioloop: epoll_ctl add", err)
	}
	return nil
}

func (p *FastPoller) UnregisterFD(fd int) error {
	if fd < 0 || fd >= maxFDs {
		return status.Newf(status.InvalidArgument, "ioloop: fd %d out of range", fd)
	}
	p.fdMu.Lock()
	if !p.fds[fd].active {
		p.fdMu.Unlock()
		return status.Newf(status.NotFound, "ioloop: fd %d not registered", fd)
	}
	p.fds[fd] = fdSlot{}
	p.version.Add(1)
	p.fdMu.Unlock()
	return unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *FastPoller) ModifyFD(fd int, events IOEvents) error {
	if fd < 0 || fd >= maxFDs {
		return status.Newf(status.InvalidArgument, "ioloop: fd %d out of range", fd)
	}
	p.fdMu.Lock()
	if !p.fds[fd].active {
		p.fdMu.Unlock()
		return status.Newf(status.NotFound, "ioloop: fd %d not registered", fd)
	}
	p.fds[fd].events = events
	p.version.Add(1)
	p.fdMu.Unlock()

	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	return unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_MOD, fd, ev)
}

// PollIO blocks up to timeoutMs for readiness, dispatching callbacks
// inline, and returns the number of events processed.
func (p *FastPoller) PollIO(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, status.New(status.Internal, "ioloop: poller closed")
	}
	v := p.version.Load()
	n, err := unix.EpollWait(int(p.epfd), p.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, status.Wrap(status.Internal, "ioloop: epoll_wait", err)
	}
	if p.version.Load() != v {
		// Registration changed mid-wait; the returned slice may reference fds
		// that are no longer registered. Discard rather than risk dispatching
		// into a removed slot.
		return 0, nil
	}
	p.dispatch(n)
	return n, nil
}

func (p *FastPoller) dispatch(n int) {
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Fd)
		if fd < 0 || fd >= maxFDs {
			continue
		}
		p.fdMu.RLock()
		info := p.fds[fd]
		p.fdMu.RUnlock()
		if info.active && info.callback != nil {
			info.callback(epollToEvents(p.eventBuf[i].Events))
		}
	}
}

func eventsToEpoll(events IOEvents) uint32 {
	var e uint32
	if events&EventRead != 0 {
		e |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func epollToEvents(e uint32) IOEvents {
	var events IOEvents
	if e&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if e&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if e&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
