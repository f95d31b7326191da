package timer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S1. Timer ordering: earlier deadlines fire first regardless of
// registration order.
func TestScenarioS1TimerOrdering(t *testing.T) {
	tm := New()

	type firing struct {
		label string
		data  int
	}
	var record []firing

	idA := tm.AddTimed(func(data any) {
		record = append(record, firing{"A", data.(int)})
	}, 1, 100)
	idB := tm.AddTimed(func(data any) {
		record = append(record, firing{"B", data.(int)})
	}, 2, 50)
	require.NotEqual(t, idA, idB)

	next := tm.Process(200, func(cb Callback, data any) { cb(data) })

	require.Len(t, record, 2)
	assert.Equal(t, "B", record[0].label)
	assert.Equal(t, 2, record[0].data)
	assert.Equal(t, "A", record[1].label)
	assert.Equal(t, 1, record[1].data)
	assert.GreaterOrEqual(t, int64(next), int64(200))
}

// S2/invariant 2: CurrentTime cycle-miss policy reschedules relative to
// "now", never firing earlier than one interval after the missed firing.
func TestCurrentTimePolicyCycleMiss(t *testing.T) {
	tm := New()
	var fireCount int

	id, err := tm.AddRepeated(func(data any) {
		fireCount++
	}, nil, 10, 0, nil, CurrentTime)
	require.NoError(t, err)
	require.NotZero(t, id)

	// Simulate a huge cycle miss: process way past several intervals. A
	// single Process call only fires an entry once per invocation, however
	// overdue; CurrentTime then reschedules from "now", landing on 1010.
	next := tm.Process(1000, func(cb Callback, data any) { cb(data) })
	assert.Equal(t, 1, fireCount)
	assert.Equal(t, DateTime(1010), next)
}

// S3: BaseTime cycle-miss policy stays phase-locked to the original cadence
// instead of anchoring to "now".
func TestBaseTimePolicyCycleMiss(t *testing.T) {
	tm := New()

	var calls int
	base := DateTime(0)
	_, err := tm.AddRepeated(func(data any) {
		calls++
	}, nil, 10, 0, &base, BaseTime)
	require.NoError(t, err)

	// First due at t=10. Jump straight to t=103: a naive "+interval" step
	// would land on 20 (still overdue); BaseTime must skip forward to the
	// next multiple of 10 that is > 103, i.e. 110, staying phase-locked to
	// the original base rather than anchoring on "now".
	next := tm.Process(103, func(cb Callback, data any) { cb(data) })
	assert.Equal(t, 1, calls)
	assert.Equal(t, DateTime(110), next)
}

func TestAddRepeatedZeroIntervalIsInvalidArgument(t *testing.T) {
	tm := New()
	_, err := tm.AddRepeated(func(any) {}, nil, 0, 0, nil, CurrentTime)
	require.Error(t, err)

	_, err = tm.AddRepeated(func(any) {}, nil, -5, 0, nil, CurrentTime)
	require.Error(t, err)
}

func TestProcessEmptyTreeReturnsInfinitySentinel(t *testing.T) {
	tm := New()
	next := tm.Process(12345, func(Callback, any) { t.Fatal("should not be called") })
	assert.Equal(t, DateTimeMax, next)
}

func TestProcessEmptyTreeNeverBelowNow(t *testing.T) {
	tm := New()
	tm.AddTimed(func(any) {}, nil, 5)
	// process at now=5 fires it, leaving the tree empty; the result is the
	// "no next entry" sentinel, which is never less than now.
	next := tm.Process(5, func(cb Callback, data any) { cb(data) })
	assert.Equal(t, DateTimeMax, next)
}

func TestCalculateNextTimeFutureBaseTimeStillAfterNow(t *testing.T) {
	// baseTime > currentTime: result must still be > currentTime.
	got := calculateNextTime(100, 500, 30)
	assert.Greater(t, got, DateTime(100))
}

func TestOneShotRemovedAfterFiring(t *testing.T) {
	tm := New()
	var n int
	tm.AddTimed(func(any) { n++ }, nil, 10)
	require.Equal(t, 1, tm.Len())

	tm.Process(10, func(cb Callback, data any) { cb(data) })
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, tm.Len())
}

func TestChangeRepeatedCallback(t *testing.T) {
	tm := New()
	var n int
	id, err := tm.AddRepeated(func(any) { n++ }, nil, 100, 0, nil, CurrentTime)
	require.NoError(t, err)

	err = tm.Change(id, 0, 10, nil, BaseTime)
	require.NoError(t, err)

	next := tm.Process(10, func(cb Callback, data any) { cb(data) })
	assert.Equal(t, 1, n)
	assert.Equal(t, DateTime(20), next)
}

func TestChangeUnknownIDIsNotFound(t *testing.T) {
	tm := New()
	err := tm.Change(9999, 0, 10, nil, CurrentTime)
	require.Error(t, err)
}

func TestRemoveUnknownIDIsNoop(t *testing.T) {
	tm := New()
	tm.Remove(42)
	assert.Equal(t, 0, tm.Len())
}

// Invariant 1: the time-ordered and id-ordered indexes always contain
// exactly the same entries.
func TestTimeAndIDIndexesStayInSync(t *testing.T) {
	tm := New()
	var ids []Id
	for i := 0; i < 20; i++ {
		id := tm.AddTimed(func(any) {}, nil, DateTime(i))
		ids = append(ids, id)
	}
	require.Equal(t, 20, tm.byID.Len())
	require.Equal(t, 20, tm.byTime.Len())

	for _, id := range ids[:10] {
		tm.Remove(id)
	}
	assert.Equal(t, 10, tm.byID.Len())
	assert.Equal(t, 10, tm.byTime.Len())
}

// Duplicate deadlines (same nextTime, different entries) must coexist.
func TestDuplicateDeadlinesCoexist(t *testing.T) {
	tm := New()
	var record []int
	tm.AddTimed(func(data any) { record = append(record, data.(int)) }, 1, 50)
	tm.AddTimed(func(data any) { record = append(record, data.(int)) }, 2, 50)
	tm.AddTimed(func(data any) { record = append(record, data.(int)) }, 3, 50)

	tm.Process(50, func(cb Callback, data any) { cb(data) })
	assert.Equal(t, []int{1, 2, 3}, record)
}
