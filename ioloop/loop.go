package ioloop

import (
	"sync"

	"github.com/joeycumines/logiface"

	"github.com/uacore/eventcore/status"
	"github.com/uacore/eventcore/timer"
)

// Task is a unit of work submitted to the loop from any goroutine.
type Task func()

// Loop is the single-threaded, cooperatively scheduled core that drives
// every ConnectionManager, SecureChannel and PubSub component in this
// module. Exactly one goroutine calls Run; registration, timer and
// I/O-poller mutation all happen only inside that goroutine, directly or
// via a Task submitted through Submit.
//
// Grounded on the teacher's Loop (eventloop/loop.go): the state machine,
// wakeup-fd discipline and poll/drain iteration are kept; the
// promise/microtask/goja-interop machinery is not, since nothing in this
// module's domain needs a JS-shaped task model.
type Loop struct {
	state  *fastState
	logger *logiface.Logger[logiface.Event]

	timer *timer.Timer

	poller FastPoller

	wakeReadFd, wakeWriteFd int

	externalMu sync.Mutex
	external   []Task
	spare      []Task

	delayed *delayedQueue

	mu        sync.Mutex
	sources   map[SourceID]*sourceEntry
	sourceSeq uint64

	fds map[int]SourceID // registered fd -> owning source, for CLOSING bookkeeping

	pollIntervalMs int

	done chan struct{}
}

// New constructs a Loop. The returned Loop is Idle until Run is called.
func New(opts ...Option) (*Loop, error) {
	cfg := resolveOptions(opts)

	l := &Loop{
		state:          newFastState(),
		logger:         cfg.logger,
		timer:          timer.New(),
		delayed:        newDelayedQueue(),
		sources:        make(map[SourceID]*sourceEntry),
		fds:            make(map[int]SourceID),
		pollIntervalMs: cfg.pollInterval,
		done:           make(chan struct{}),
	}

	if err := l.poller.Init(); err != nil {
		return nil, status.Wrap(status.Internal, "ioloop: poller init", err)
	}

	readFd, writeFd, err := createWakeFd()
	if err != nil {
		_ = l.poller.Close()
		return nil, status.Wrap(status.Internal, "ioloop: create wakeup fd", err)
	}
	l.wakeReadFd, l.wakeWriteFd = readFd, writeFd

	if err := l.poller.RegisterFD(readFd, EventRead, func(IOEvents) {
		drainWakeFd(readFd)
	}); err != nil {
		closeWakeFd(readFd, writeFd)
		_ = l.poller.Close()
		return nil, status.Wrap(status.Internal, "ioloop: register wakeup fd", err)
	}

	return l, nil
}

// Submit enqueues fn to run on the loop goroutine. Safe from any goroutine,
// including the loop goroutine itself (fn then runs on the next Drain).
func (l *Loop) Submit(fn Task) error {
	if !l.state.CanAcceptWork() {
		return status.New(status.Internal, "ioloop: loop is terminated")
	}
	l.externalMu.Lock()
	l.external = append(l.external, fn)
	l.externalMu.Unlock()
	return signalWakeFd(l.wakeWriteFd)
}

// DeferTeardown enqueues fn on the lock-free delayed queue. Use this only
// for teardown closures that must run after the caller has already
// unlinked its state from any tree/array the loop's own goroutine touches;
// Submit is the right choice for everything else.
func (l *Loop) DeferTeardown(fn func()) {
	l.delayed.Push(fn)
}

func (l *Loop) drainExternal() {
	l.externalMu.Lock()
	l.external, l.spare = l.spare[:0], l.external
	tasks := l.spare
	l.externalMu.Unlock()

	for _, t := range tasks {
		if t != nil {
			t()
		}
	}
}

// Timer exposes the loop's Timer so components can schedule callbacks that
// run on the loop goroutine via Run's own process step.
func (l *Loop) Timer() *timer.Timer { return l.timer }

// RegisterFD registers fd with the poller, recording owner for lifecycle
// bookkeeping. Must be called from the loop goroutine.
func (l *Loop) RegisterFD(fd int, events IOEvents, owner SourceID, cb IOCallback) error {
	if err := l.poller.RegisterFD(fd, events, cb); err != nil {
		return err
	}
	l.mu.Lock()
	l.fds[fd] = owner
	l.mu.Unlock()
	return nil
}

// UnregisterFD removes fd from the poller.
func (l *Loop) UnregisterFD(fd int) error {
	l.mu.Lock()
	delete(l.fds, fd)
	l.mu.Unlock()
	return l.poller.UnregisterFD(fd)
}

// ModifyFD changes the monitored events for a registered fd.
func (l *Loop) ModifyFD(fd int, events IOEvents) error {
	return l.poller.ModifyFD(fd, events)
}

// Run blocks, driving the loop until Shutdown is called. Run must be
// called from exactly one goroutine and must not be called re-entrantly.
func (l *Loop) Run() error {
	if !l.state.TryTransition(Idle, Running) {
		return status.New(status.Internal, "ioloop: loop already running or terminated")
	}
	defer close(l.done)

	for {
		state := l.state.Load()
		if state == Terminating {
			break
		}

		l.drainExternal()

		now := l.monotonicNow()
		next := l.timer.Process(now, func(cb timer.Callback, data any) { cb(data) })
		l.delayed.Drain()

		timeoutMs := l.pollIntervalMs
		if next != timer.DateTimeMax {
			deltaTicks := int64(next - now)
			if deltaTicks < 0 {
				deltaTicks = 0
			}
			deltaMs := int(deltaTicks / 10000) // 100ns ticks -> ms
			if deltaMs < timeoutMs {
				timeoutMs = deltaMs
			}
		}

		l.state.TryTransition(Running, Sleeping)
		_, err := l.poller.PollIO(timeoutMs)
		l.state.TransitionAny([]RunState{Sleeping, Running}, Running)
		if err != nil {
			if l.logger != nil {
				l.logger.Err().Err(err).Log("ioloop: poll error")
			}
		}
	}

	l.state.Store(Terminated)
	return nil
}

// Shutdown requests the loop stop at the next iteration boundary and
// blocks until Run returns. On a loop that never ran it only releases the
// loop's resources. Idempotent.
func (l *Loop) Shutdown() {
	switch {
	case l.state.TryTransition(Idle, Terminated):
		// never ran: there is no Run to wait for
	case l.state.TransitionAny([]RunState{Running, Sleeping}, Terminating):
		_ = signalWakeFd(l.wakeWriteFd)
		<-l.done
	default:
		// an earlier Shutdown already released, or is releasing, the resources
		if l.state.Load() == Terminating {
			<-l.done
		}
		return
	}
	closeWakeFd(l.wakeReadFd, l.wakeWriteFd)
	_ = l.poller.Close()
}

// State returns the loop's current run state.
func (l *Loop) State() RunState { return l.state.Load() }

// monotonicNow returns the current time as the 100ns-tick DateTime domain
// the Timer operates in. Stamped from a process-local monotonic counter
// rather than wall-clock time, so it's immune to clock adjustment.
func (l *Loop) monotonicNow() timer.DateTime {
	return timer.DateTime(nowTicks())
}
