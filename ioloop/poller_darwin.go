//go:build darwin

package ioloop

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/uacore/eventcore/status"
)

const maxFDs = 65536

type IOEvents uint32

const (
	EventRead IOEvents = 1 << iota
	EventWrite
	EventError
	EventHangup
)

type IOCallback func(IOEvents)

type fdSlot struct {
	callback IOCallback
	events   IOEvents
	active   bool
}

// FastPoller wraps kqueue for the registered-fd readiness loop.
type FastPoller struct {
	kq       int32
	eventBuf [256]unix.Kevent_t
	fds      []fdSlot
	fdMu     sync.RWMutex
	closed   atomic.Bool
}

func (p *FastPoller) Init() error {
	if p.closed.Load() {
		return status.New(status.Internal, "ioloop: poller closed")
	}
	kq, err := unix.Kqueue()
	if err != nil {
		return status.Wrap(status.Internal, "ioloop: kqueue", err)
	}
	unix.CloseOnExec(kq)
	p.kq = int32(kq)
	p.fds = make([]fdSlot, maxFDs)
	return nil
}

func (p *FastPoller) Close() error {
	p.closed.Store(true)
	if p.kq > 0 {
		return unix.Close(int(p.kq))
	}
	return nil
}

func (p *FastPoller) grow(fd int) {
	if fd < len(p.fds) {
		return
	}
	newFds := make([]fdSlot, fd*2+1)
	copy(newFds, p.fds)
	p.fds = newFds
}

func (p *FastPoller) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	if p.closed.Load() {
		return status.New(status.Internal, "ioloop: poller closed")
	}
	if fd < 0 {
		return status.Newf(status.InvalidArgument, "ioloop: fd %d out of range", fd)
	}

	p.fdMu.Lock()
	p.grow(fd)
	if p.fds[fd].active {
		p.fdMu.Unlock()
		return status.Newf(status.InvalidArgument, "ioloop: fd %d already registered", fd)
	}
	p.fds[fd] = fdSlot{callback: cb, events: events, active: true}
	p.fdMu.Unlock()

	changes := kqueueChanges(fd, events, true)
	if _, err := unix.Kevent(int(p.kq), changes, nil, nil); err != nil {
		p.fdMu.Lock()
		p.fds[fd] = fdSlot{}
		p.fdMu.Unlock()
		return status.Wrap(status.Internal, "ioloop: kevent register", err)
	}
	return nil
}

func (p *FastPoller) UnregisterFD(fd int) error {
	p.fdMu.Lock()
	if fd < 0 || fd >= len(p.fds) || !p.fds[fd].active {
		p.fdMu.Unlock()
		return status.Newf(status.NotFound, "ioloop: fd %d not registered", fd)
	}
	events := p.fds[fd].events
	p.fds[fd] = fdSlot{}
	p.fdMu.Unlock()

	changes := kqueueChanges(fd, events, false)
	_, err := unix.Kevent(int(p.kq), changes, nil, nil)
	return err
}

func (p *FastPoller) ModifyFD(fd int, events IOEvents) error {
	p.fdMu.Lock()
	if fd < 0 || fd >= len(p.fds) || !p.fds[fd].active {
		p.fdMu.Unlock()
		return status.Newf(status.NotFound, "ioloop: fd %d not registered", fd)
	}
	old := p.fds[fd].events
	p.fds[fd].events = events
	p.fdMu.Unlock()

	var changes []unix.Kevent_t
	changes = append(changes, kqueueChanges(fd, old, false)...)
	changes = append(changes, kqueueChanges(fd, events, true)...)
	_, err := unix.Kevent(int(p.kq), changes, nil, nil)
	return err
}

func (p *FastPoller) PollIO(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, status.New(status.Internal, "ioloop: poller closed")
	}
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * 1e6)
		ts = &t
	}
	n, err := unix.Kevent(int(p.kq), nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, status.Wrap(status.Internal, "ioloop: kevent wait", err)
	}
	p.dispatch(n)
	return n, nil
}

func (p *FastPoller) dispatch(n int) {
	for i := 0; i < n; i++ {
		ev := p.eventBuf[i]
		fd := int(ev.Ident)
		p.fdMu.RLock()
		var info fdSlot
		if fd >= 0 && fd < len(p.fds) {
			info = p.fds[fd]
		}
		p.fdMu.RUnlock()
		if !info.active || info.callback == nil {
			continue
		}
		var events IOEvents
		switch ev.Filter {
		case unix.EVFILT_READ:
			events = EventRead
		case unix.EVFILT_WRITE:
			events = EventWrite
		}
		if ev.Flags&unix.EV_EOF != 0 {
			events |= EventHangup
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			events |= EventError
		}
		info.callback(events)
	}
}

func kqueueChanges(fd int, events IOEvents, enable bool) []unix.Kevent_t {
	flags := uint16(unix.EV_DELETE)
	if enable {
		flags = unix.EV_ADD | unix.EV_ENABLE
	}
	var changes []unix.Kevent_t
	if events&EventRead != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if events&EventWrite != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return changes
}
