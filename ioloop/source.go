package ioloop

import "github.com/uacore/eventcore/status"

// SourceState is the lifecycle every Source moves through under the loop's
// direction. Transitions are driven exclusively by the loop goroutine.
type SourceState int

const (
	SourceFresh SourceState = iota
	SourceStarting
	SourceStarted
	SourceStopping
	SourceStopped
)

func (s SourceState) String() string {
	switch s {
	case SourceFresh:
		return "Fresh"
	case SourceStarting:
		return "Starting"
	case SourceStarted:
		return "Started"
	case SourceStopping:
		return "Stopping"
	case SourceStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// SourceID identifies a Source registered with a Loop.
type SourceID uint64

// Source is anything the loop drives through a start/stop lifecycle:
// a ConnectionManager, a SecureChannel's renewal watchdog, a PubSub
// WriterGroup's publish cycle. The loop calls Start once when transitioning
// Fresh -> Starting and Stop once when asked to shut down; Source is
// responsible for calling back into the loop (via the handle passed to
// Start) to report SourceStarted/SourceStopped.
type Source interface {
	Start(l *Loop, id SourceID) error
	Stop(l *Loop, id SourceID) error
}

type sourceEntry struct {
	source Source
	state  SourceState
}

// RegisterSource adds src in the Fresh state and returns its id. The
// caller must still call StartSource to begin its lifecycle; registration
// alone does not start anything, mirroring the "added, not yet active"
// semantics a ConnectionManager or WriterGroup needs when constructed
// ahead of the loop being run.
func (l *Loop) RegisterSource(src Source) SourceID {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sourceSeq++
	id := SourceID(l.sourceSeq)
	l.sources[id] = &sourceEntry{source: src, state: SourceFresh}
	return id
}

// StartSource transitions a registered source from Fresh to Starting and
// invokes its Start method.
func (l *Loop) StartSource(id SourceID) error {
	l.mu.Lock()
	e, ok := l.sources[id]
	if !ok {
		l.mu.Unlock()
		return status.Newf(status.NotFound, "ioloop: unknown source %d", id)
	}
	if e.state != SourceFresh {
		l.mu.Unlock()
		return status.Newf(status.InvalidArgument, "ioloop: source %d not Fresh (state=%s)", id, e.state)
	}
	e.state = SourceStarting
	l.mu.Unlock()

	return e.source.Start(l, id)
}

// MarkSourceStarted is called back by a Source once its asynchronous start
// sequence (e.g. a TCP listen/connect handshake) completes.
func (l *Loop) MarkSourceStarted(id SourceID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.sources[id]; ok && e.state == SourceStarting {
		e.state = SourceStarted
	}
}

// StopSource transitions a source to Stopping and invokes its Stop method.
// Calling StopSource on a source that is already Stopping is a no-op
// returning nil. Once MarkSourceStopped has removed the source from the
// registry, StopSource reports it as unknown with a NotFound error.
func (l *Loop) StopSource(id SourceID) error {
	l.mu.Lock()
	e, ok := l.sources[id]
	if !ok {
		l.mu.Unlock()
		return status.Newf(status.NotFound, "ioloop: unknown source %d", id)
	}
	if e.state == SourceStopping || e.state == SourceStopped {
		l.mu.Unlock()
		return nil
	}
	e.state = SourceStopping
	l.mu.Unlock()

	return e.source.Stop(l, id)
}

// MarkSourceStopped finalizes a source's shutdown and removes it from the
// registry. Per the "RegisteredFD removal" invariant, this is the single
// point where the terminal teardown notification is considered delivered.
func (l *Loop) MarkSourceStopped(id SourceID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.sources[id]; ok {
		e.state = SourceStopped
	}
	delete(l.sources, id)
}

// SourceState reports the current state of a registered source.
func (l *Loop) SourceState(id SourceID) (SourceState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.sources[id]
	if !ok {
		return SourceStopped, false
	}
	return e.state, true
}
