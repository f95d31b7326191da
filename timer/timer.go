// Package timer implements the callback timer used by the event loop:
// a time-ordered queue of one-shot and repeated callbacks, backed by two
// ordtree.Tree instances (time-ordered, id-ordered) kept in lockstep.
//
// Grounded on open62541's UA_Timer (arch/common/ua_timer.c): the mutex is
// released before invoking a callback, so a callback may itself add, change
// or remove entries without deadlocking. Process must not be deleted from
// within one of its own callbacks.
package timer

import (
	"sync"

	"github.com/uacore/eventcore/ordtree"
	"github.com/uacore/eventcore/status"
)

// CycleMissPolicy controls how a repeated entry's next firing is computed
// when a firing was missed (the loop was blocked past the scheduled time).
type CycleMissPolicy int

const (
	// CurrentTime reschedules relative to "now": nextTime = now + interval.
	// Used for monitored items, where the interval is the fastest sampling
	// rate, not a hard real-time deadline.
	CurrentTime CycleMissPolicy = iota
	// BaseTime reschedules relative to the original cadence, skipping
	// forward by whole intervals from the entry's own missed nextTime so
	// firings stay phase-locked to the original base time.
	BaseTime
)

// Id identifies a registered timer entry. Ids are always greater than zero.
type Id uint64

// Callback is invoked with the data supplied at registration.
type Callback func(data any)

// DateTime is this package's time domain: a monotonic-clock count of 100ns
// ticks, matching the wire unit OPC UA uses for DateTime.
type DateTime int64

// DateTimeMax is the sentinel "no next entry" timestamp.
const DateTimeMax DateTime = 1<<63 - 1

// entry is a single scheduled callback, held by pointer in both trees.
type entry struct {
	id       Id
	nextTime DateTime
	interval DateTime // 0 for a one-shot entry, removed after firing
	policy   CycleMissPolicy
	callback Callback
	data     any
}

// Timer is a mutex-protected dual-indexed schedule of callbacks.
type Timer struct {
	mu        sync.Mutex
	byTime    *ordtree.Tree[DateTime, *entry]
	byID      *ordtree.Tree[Id, *entry]
	idCounter Id
}

func cmpDateTime(a, b DateTime) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpID(a, b Id) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// New creates an empty Timer.
func New() *Timer {
	return &Timer{
		byTime: ordtree.New[DateTime, *entry](cmpDateTime),
		byID:   ordtree.New[Id, *entry](cmpID),
	}
}

// calculateNextTime returns the first execution time strictly after
// currentTime that is phase-locked to baseTime with the given interval.
//
// If baseTime is in the future (cycleDelay < 0), the modulo wraps forward
// so the result still lands after currentTime.
func calculateNextTime(currentTime, baseTime, interval DateTime) DateTime {
	diff := currentTime - baseTime
	cycleDelay := diff % interval
	if cycleDelay < 0 {
		cycleDelay += interval
	}
	return currentTime + interval - cycleDelay
}

// AddTimed schedules a one-shot callback to fire at (or after) date.
func (t *Timer) AddTimed(cb Callback, data any, date DateTime) Id {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.add(cb, data, date, 0, CurrentTime)
}

// AddRepeated schedules a repeating callback. If baseTime is nil, "now"
// (currentTime) is used as the phase anchor. intervalTicks must be > 0.
func (t *Timer) AddRepeated(cb Callback, data any, intervalTicks DateTime, currentTime DateTime, baseTime *DateTime, policy CycleMissPolicy) (Id, error) {
	if intervalTicks <= 0 {
		return 0, status.New(status.InvalidArgument, "timer: interval must be positive")
	}

	var nextTime DateTime
	if baseTime == nil {
		nextTime = currentTime + intervalTicks
	} else {
		nextTime = calculateNextTime(currentTime, *baseTime, intervalTicks)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.add(cb, data, nextTime, intervalTicks, policy), nil
}

func (t *Timer) add(cb Callback, data any, nextTime, interval DateTime, policy CycleMissPolicy) Id {
	t.idCounter++
	e := &entry{
		id:       t.idCounter,
		nextTime: nextTime,
		interval: interval,
		policy:   policy,
		callback: cb,
		data:     data,
	}
	t.byTime.Insert(nextTime, e)
	t.byID.Insert(e.id, e)
	return e.id
}

// Change updates the interval, base time and cycle-miss policy of a
// repeated callback, recomputing its next execution time the same way
// AddRepeated does. Returns a NotFound error if id is unknown.
func (t *Timer) Change(id Id, currentTime, intervalTicks DateTime, baseTime *DateTime, policy CycleMissPolicy) error {
	if intervalTicks <= 0 {
		return status.New(status.InvalidArgument, "timer: interval must be positive")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	node := t.byID.Find(id)
	if node == nil {
		return status.Newf(status.NotFound, "timer: unknown callback id %d", id)
	}
	e := node.Value

	timeNode := t.findByTimeNode(e)
	if timeNode != nil {
		t.byTime.Remove(timeNode)
	}

	if baseTime == nil {
		e.nextTime = currentTime + intervalTicks
	} else {
		e.nextTime = calculateNextTime(currentTime, *baseTime, intervalTicks)
	}
	e.interval = intervalTicks
	e.policy = policy

	t.byTime.Insert(e.nextTime, e)
	return nil
}

// Remove deletes a callback by id. Removing an unknown id is a no-op.
func (t *Timer) Remove(id Id) {
	t.mu.Lock()
	defer t.mu.Unlock()

	node := t.byID.Find(id)
	if node == nil {
		return
	}
	e := node.Value
	t.byID.Remove(node)
	if timeNode := t.findByTimeNode(e); timeNode != nil {
		t.byTime.Remove(timeNode)
	}
}

// findByTimeNode performs an O(log n + k) scan of byTime entries sharing
// e.nextTime to find the node holding e. Needed because ordtree.Remove
// requires the exact node, and byTime nodes are keyed on a value that can
// collide across entries, unlike byID.
func (t *Timer) findByTimeNode(e *entry) *ordtree.Node[DateTime, *entry] {
	n := t.byTime.Find(e.nextTime)
	for n != nil && n.Value != e {
		next := t.byTime.Next(n)
		if next == nil || cmpDateTime(next.Key, e.nextTime) != 0 {
			return nil
		}
		n = next
	}
	return n
}

// ExecutionCallback is invoked once per due entry, outside the Timer's lock.
type ExecutionCallback func(cb Callback, data any)

// Process dispatches every entry due at or before nowMonotonic, in
// time order. A one-shot entry is removed, and a repeating entry is
// rescheduled, before its callback runs. The lock is released around each
// dispatch and reacquired before moving to the next entry, so a callback
// may freely call Add*/Change/Remove on this same Timer.
//
// Returns the timestamp of the earliest remaining entry, or DateTimeMax if
// none remain. The returned value is never less than nowMonotonic.
func (t *Timer) Process(nowMonotonic DateTime, exec ExecutionCallback) DateTime {
	t.mu.Lock()
	for {
		first := t.byTime.Min()
		if first == nil || first.Value.nextTime > nowMonotonic {
			break
		}
		e := first.Value
		t.byTime.Remove(first)

		if e.interval == 0 {
			t.byID.Remove(t.byID.Find(e.id))
			cb, data := e.callback, e.data
			t.mu.Unlock()
			if cb != nil {
				exec(cb, data)
			}
			t.mu.Lock()
			continue
		}

		// Advance by one interval; if still overdue, apply the cycle-miss
		// policy so a single slow callback cannot spin the loop.
		e.nextTime += e.interval
		if e.nextTime < nowMonotonic {
			if e.policy == BaseTime {
				e.nextTime = calculateNextTime(nowMonotonic, e.nextTime, e.interval)
			} else {
				e.nextTime = nowMonotonic + e.interval
			}
		}
		t.byTime.Insert(e.nextTime, e)

		if e.callback == nil {
			continue
		}
		cb, data := e.callback, e.data
		t.mu.Unlock()
		exec(cb, data)
		t.mu.Lock()
	}

	next := DateTimeMax
	if first := t.byTime.Min(); first != nil {
		next = first.Value.nextTime
	}
	if next < nowMonotonic {
		next = nowMonotonic
	}
	t.mu.Unlock()
	return next
}

// NextRepeatedTime returns the timestamp of the earliest scheduled entry,
// or DateTimeMax if the timer is empty. Unlike Process, this does not
// dispatch anything.
func (t *Timer) NextRepeatedTime() DateTime {
	t.mu.Lock()
	defer t.mu.Unlock()
	if first := t.byTime.Min(); first != nil {
		return first.Value.nextTime
	}
	return DateTimeMax
}

// Clear removes every entry from the timer.
func (t *Timer) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byTime = ordtree.New[DateTime, *entry](cmpDateTime)
	t.byID = ordtree.New[Id, *entry](cmpID)
}

// Len returns the number of currently scheduled entries.
func (t *Timer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byID.Len()
}
