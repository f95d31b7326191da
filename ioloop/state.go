package ioloop

import "sync/atomic"

// RunState is the lifecycle of a Loop.
//
//	Idle (0) --Run()--> Running (3) --poll sleeps--> Sleeping (2)
//	Sleeping --wakes--> Running
//	Running/Sleeping --Shutdown()--> Terminating (4) --drained--> Terminated (1)
//	Terminated is absorbing.
type RunState uint64

const (
	Idle RunState = iota
	Terminated
	Sleeping
	Running
	Terminating
)

func (s RunState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case Sleeping:
		return "Sleeping"
	case Terminating:
		return "Terminating"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// fastState is a lock-free CAS state machine, read on every loop iteration.
type fastState struct {
	v atomic.Uint64
}

func newFastState() *fastState {
	s := &fastState{}
	s.v.Store(uint64(Idle))
	return s
}

func (s *fastState) Load() RunState { return RunState(s.v.Load()) }

func (s *fastState) Store(state RunState) { s.v.Store(uint64(state)) }

func (s *fastState) TryTransition(from, to RunState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

func (s *fastState) TransitionAny(validFrom []RunState, to RunState) bool {
	for _, from := range validFrom {
		if s.v.CompareAndSwap(uint64(from), uint64(to)) {
			return true
		}
	}
	return false
}

func (s *fastState) IsRunning() bool {
	st := s.Load()
	return st == Running || st == Sleeping
}

func (s *fastState) CanAcceptWork() bool {
	st := s.Load()
	return st == Idle || st == Running || st == Sleeping
}
