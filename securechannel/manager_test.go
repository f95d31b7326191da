package securechannel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uacore/eventcore/securechannel/securitypolicy"
	"github.com/uacore/eventcore/status"
)

func TestIssueAssignsIncreasingChannelIDs(t *testing.T) {
	m := NewManager(time.Hour, securitypolicy.None{})

	ch1, err := m.Issue("", time.Minute, nil, nil, SecurityModeSign)
	require.NoError(t, err)
	ch2, err := m.Issue("", time.Minute, nil, nil, SecurityModeSign)
	require.NoError(t, err)

	assert.Less(t, ch1.ChannelID, ch2.ChannelID)
	assert.Equal(t, StateOpen, ch1.State)
}

func TestIssueRejectsUnknownSecurityPolicy(t *testing.T) {
	m := NewManager(time.Hour, securitypolicy.None{})
	_, err := m.Issue("http://example.com/Basic256", time.Minute, nil, nil, SecurityModeSignAndEncrypt)
	require.Error(t, err)
	assert.True(t, status.Is(err, status.SecurityPolicyRejected))
}

// S5-style: Renew on a CLOSED channel is an error; otherwise it keeps
// channelId and issues a fresh token while the previous one survives a
// grace period.
func TestRenewOnClosedChannelFails(t *testing.T) {
	m := NewManager(time.Hour, securitypolicy.None{})
	ch, err := m.Issue("", time.Minute, nil, nil, SecurityModeSign)
	require.NoError(t, err)
	require.NoError(t, m.Close(ch.ChannelID))

	// Close removes it from the manager, so Renew reports NotFound rather
	// than the CLOSED-state error — both are valid error outcomes for a
	// no-longer-live channel; what matters is Renew never succeeds.
	err = m.Renew(ch.ChannelID, time.Minute)
	require.Error(t, err)
}

func TestRenewKeepsChannelIDAndGrantsGraceToken(t *testing.T) {
	m := NewManager(time.Hour, securitypolicy.None{})
	ch, err := m.Issue("", time.Minute, nil, nil, SecurityModeSign)
	require.NoError(t, err)
	oldToken := ch.current.id

	require.NoError(t, m.Renew(ch.ChannelID, time.Minute))

	assert.NotEqual(t, oldToken, ch.current.id)
	require.NoError(t, ch.CheckToken(oldToken, time.Now()))
	require.NoError(t, ch.CheckToken(ch.current.id, time.Now()))
}

func TestRenewThrottlesRapidRepeats(t *testing.T) {
	m := NewManager(time.Hour, securitypolicy.None{})
	ch, err := m.Issue("", time.Minute, nil, nil, SecurityModeSign)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, m.Renew(ch.ChannelID, time.Minute))
	}

	err = m.Renew(ch.ChannelID, time.Minute)
	require.Error(t, err)
	assert.True(t, status.Is(err, status.ConnectionRejected))
}

func TestCheckSequenceNumberStrictlyIncreasing(t *testing.T) {
	ch := &Channel{}
	require.NoError(t, ch.CheckSequenceNumber(1))
	require.NoError(t, ch.CheckSequenceNumber(2))
	err := ch.CheckSequenceNumber(2)
	require.Error(t, err)
	assert.True(t, status.Is(err, status.SequenceNumberInvalid))
}

func TestCheckSequenceNumberWraparound(t *testing.T) {
	ch := &Channel{}
	require.NoError(t, ch.CheckSequenceNumber(^uint32(0)))
	require.NoError(t, ch.CheckSequenceNumber(0))
}

func TestCheckRequestIDMonotonic(t *testing.T) {
	ch := &Channel{}
	require.NoError(t, ch.CheckRequestID(5))
	require.NoError(t, ch.CheckRequestID(6))
	require.Error(t, ch.CheckRequestID(6))
}

func TestCloseUnknownChannelIsNotFound(t *testing.T) {
	m := NewManager(time.Hour, securitypolicy.None{})
	err := m.Close(9999)
	require.Error(t, err)
	assert.True(t, status.Is(err, status.NotFound))
}

func TestGetUnknownChannelIsNotFound(t *testing.T) {
	m := NewManager(time.Hour, securitypolicy.None{})
	_, err := m.Get(9999)
	require.Error(t, err)
	assert.True(t, status.Is(err, status.NotFound))
}
