package ioloop

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoop(t *testing.T) *Loop {
	t.Helper()
	l, err := New(WithMaxPollIntervalMillis(50))
	require.NoError(t, err)
	return l
}

func TestLoopRunShutdown(t *testing.T) {
	l := newTestLoop(t)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		require.NoError(t, l.Run())
	}()

	// Give Run a moment to reach the Running/Sleeping state.
	time.Sleep(20 * time.Millisecond)
	assert.True(t, l.State() == Running || l.State() == Sleeping)

	l.Shutdown()
	wg.Wait()
	assert.Equal(t, Terminated, l.State())
}

func TestLoopSubmitRunsOnLoopGoroutine(t *testing.T) {
	l := newTestLoop(t)

	var ran atomic.Bool
	done := make(chan struct{})
	require.NoError(t, l.Submit(func() {
		ran.Store(true)
		close(done)
	}))

	go func() { _ = l.Run() }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("submitted task never ran")
	}
	assert.True(t, ran.Load())

	l.Shutdown()
}

func TestLoopDeferTeardownRuns(t *testing.T) {
	l := newTestLoop(t)

	done := make(chan struct{})
	l.DeferTeardown(func() { close(done) })

	go func() { _ = l.Run() }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("deferred teardown never ran")
	}

	l.Shutdown()
}

func TestLoopTimerFiresDuringRun(t *testing.T) {
	l := newTestLoop(t)

	fired := make(chan struct{})
	var once sync.Once
	_, err := l.Timer().AddRepeated(func(any) {
		once.Do(func() { close(fired) })
	}, nil, 1, 0, nil, 0)
	require.NoError(t, err)

	go func() { _ = l.Run() }()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer callback never fired")
	}

	l.Shutdown()
}

type stubSource struct {
	started, stopped atomic.Bool
}

func (s *stubSource) Start(l *Loop, id SourceID) error {
	s.started.Store(true)
	l.MarkSourceStarted(id)
	return nil
}

func (s *stubSource) Stop(l *Loop, id SourceID) error {
	s.stopped.Store(true)
	l.MarkSourceStopped(id)
	return nil
}

func TestSourceLifecycle(t *testing.T) {
	l := newTestLoop(t)
	src := &stubSource{}

	id := l.RegisterSource(src)
	st, ok := l.SourceState(id)
	require.True(t, ok)
	assert.Equal(t, SourceFresh, st)

	require.NoError(t, l.StartSource(id))
	assert.True(t, src.started.Load())
	st, ok = l.SourceState(id)
	require.True(t, ok)
	assert.Equal(t, SourceStarted, st)

	require.NoError(t, l.StopSource(id))
	assert.True(t, src.stopped.Load())
	_, ok = l.SourceState(id)
	assert.False(t, ok, "source should be removed from the registry once stopped")
}

func TestStopSourceIdempotent(t *testing.T) {
	l := newTestLoop(t)
	src := &stubSource{}
	id := l.RegisterSource(src)
	require.NoError(t, l.StartSource(id))
	require.NoError(t, l.StopSource(id))
	// second stop: source already removed -> NotFound, not a panic.
	err := l.StopSource(id)
	require.Error(t, err)
}
