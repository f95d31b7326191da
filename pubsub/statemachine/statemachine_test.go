package statemachine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uacore/eventcore/status"
)

func TestEnableDisabledGoesOperationalWithoutPrecondition(t *testing.T) {
	m := New()
	conn, err := m.Add(KindConnection, 0, nil, false)
	require.NoError(t, err)

	require.NoError(t, m.Enable(conn))
	assert.Equal(t, Operational, m.Get(conn).State)
}

func TestEnableWithPreconditionLandsPreoperationalThenMatches(t *testing.T) {
	m := New()
	rg, err := m.Add(KindReaderGroup, 0, nil, true)
	require.NoError(t, err)

	require.NoError(t, m.Enable(rg))
	assert.Equal(t, Preoperational, m.Get(rg).State)

	m.MatchPrecondition(rg)
	assert.Equal(t, Operational, m.Get(rg).State)
}

func TestChildOnlyOperationalWhenParentOperational(t *testing.T) {
	m := New()
	conn, err := m.Add(KindConnection, 0, nil, false)
	require.NoError(t, err)
	wg, err := m.Add(KindWriterGroup, conn, nil, false)
	require.NoError(t, err)

	// parent not yet enabled: child enable lands Paused, not Operational.
	require.NoError(t, m.Enable(wg))
	assert.Equal(t, Paused, m.Get(wg).State)

	require.NoError(t, m.Enable(conn))
	assert.Equal(t, Operational, m.Get(conn).State)
	assert.Equal(t, Operational, m.Get(wg).State, "child promotes once parent becomes operational")
}

func TestParentLeavingOperationalPausesEnabledChildren(t *testing.T) {
	m := New()
	conn, err := m.Add(KindConnection, 0, nil, false)
	require.NoError(t, err)
	wg, err := m.Add(KindWriterGroup, conn, nil, false)
	require.NoError(t, err)

	require.NoError(t, m.Enable(conn))
	require.NoError(t, m.Enable(wg))
	assert.Equal(t, Operational, m.Get(wg).State)

	m.SetError(conn, errors.New("boom"))
	assert.Equal(t, Error, m.Get(conn).State)
	assert.Equal(t, Paused, m.Get(wg).State)
}

func TestDisableCascadesToChildrenUnconditionally(t *testing.T) {
	m := New()
	conn, err := m.Add(KindConnection, 0, nil, false)
	require.NoError(t, err)
	wg, err := m.Add(KindWriterGroup, conn, nil, false)
	require.NoError(t, err)
	require.NoError(t, m.Enable(conn))
	require.NoError(t, m.Enable(wg))

	m.Disable(conn)
	assert.Equal(t, Disabled, m.Get(conn).State)
	assert.Equal(t, Disabled, m.Get(wg).State)
}

func TestCustomStateMachineBadStatusForcesError(t *testing.T) {
	m := New()
	custom := func(id ID, target State, actual *State) error {
		return errors.New("rejected")
	}
	conn, err := m.Add(KindConnection, 0, custom, false)
	require.NoError(t, err)

	err = m.Enable(conn)
	require.Error(t, err)
	assert.Equal(t, Error, m.Get(conn).State)
}

func TestCustomStateMachineCanOverrideActualState(t *testing.T) {
	m := New()
	custom := func(id ID, target State, actual *State) error {
		*actual = Preoperational
		return nil
	}
	conn, err := m.Add(KindConnection, 0, custom, false)
	require.NoError(t, err)

	require.NoError(t, m.Enable(conn))
	assert.Equal(t, Preoperational, m.Get(conn).State)
}

func TestStateChangeCallbackFires(t *testing.T) {
	m := New()
	var seen []State
	m.OnStateChange = func(id ID, newState State, err error) {
		seen = append(seen, newState)
	}
	conn, err := m.Add(KindConnection, 0, nil, false)
	require.NoError(t, err)

	require.NoError(t, m.Enable(conn))
	require.Contains(t, seen, Operational)
}

func TestLifecycleCallbackErrorAbortsAdd(t *testing.T) {
	m := New()
	m.OnLifecycle = func(id ID, kind Kind, adding bool) error {
		if adding {
			return errors.New("no room")
		}
		return nil
	}
	_, err := m.Add(KindConnection, 0, nil, false)
	require.Error(t, err)
	assert.Nil(t, m.Get(1))
}

func TestAddDataSetReaderRejectsSecondReader(t *testing.T) {
	m := New()
	rg, err := m.Add(KindReaderGroup, 0, nil, false)
	require.NoError(t, err)

	_, err = m.AddDataSetReader(rg, nil, false)
	require.NoError(t, err)

	_, err = m.AddDataSetReader(rg, nil, false)
	require.Error(t, err)
	assert.True(t, status.Is(err, status.Internal))
}
