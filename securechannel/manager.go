// Package securechannel implements the OPC UA chunk framer and the
// SecureChannel/Manager pair that provisions, renews and tears down
// channels over HEL/ACK + OPN/MSG/CLO, per the transport-layer security
// conversation described in open62541's ua_stack_channel(_manager).c —
// reworked here as an explicit struct with no package-level state, per the
// "no global mutable state" design note.
package securechannel

import (
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"

	"github.com/uacore/eventcore/securechannel/securitypolicy"
	"github.com/uacore/eventcore/status"
)

// State is the lifecycle of a SecureChannel.
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpening:
		return "OPENING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// SecurityMode mirrors the OPC UA MessageSecurityMode enum at the level
// this module cares about: whether MSG chunks are integrity/confidentiality
// protected. The actual cryptography is out of scope; only the mode tag
// and the securitypolicy.Policy acceptance gate are modeled.
type SecurityMode int

const (
	SecurityModeInvalid SecurityMode = iota
	SecurityModeSign
	SecurityModeSignAndEncrypt
)

// token is one issued or renewed security token; the grace window lets a
// peer keep using the previous token for a short period after renewal.
type token struct {
	id        uint32
	createdAt time.Time
	lifetime  time.Duration
}

func (t token) expired(now time.Time) bool {
	return now.Sub(t.createdAt) > t.lifetime
}

// Channel is a single SecureChannel's mutable state.
type Channel struct {
	mu sync.Mutex

	ChannelID uint32
	State     State

	SecurityMode      SecurityMode
	SecurityPolicyURI string

	RemoteNonce []byte
	LocalNonce  []byte

	current  token
	previous *token // present only briefly after a Renew, for grace-period MSGs

	sequenceNumber uint32
	requestID      uint32
	haveSequence   bool
	haveRequest    bool

	createdAt time.Time
}

// CheckSequenceNumber validates that sn is exactly one more than the last
// observed sequence number (with the defined wraparound window at the
// uint32 boundary), per invariant 5: sequenceNumber observed on send is
// strictly increasing modulo wraparound.
func (c *Channel) CheckSequenceNumber(sn uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.haveSequence {
		c.sequenceNumber = sn
		c.haveSequence = true
		return nil
	}
	if sn != c.sequenceNumber+1 && !(c.sequenceNumber == ^uint32(0) && sn == 0) {
		return status.New(status.SequenceNumberInvalid, "securechannel: out-of-order sequence number")
	}
	c.sequenceNumber = sn
	return nil
}

// CheckRequestID validates that id is monotonic per channel: strictly
// greater than the previous value observed.
func (c *Channel) CheckRequestID(id uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.haveRequest {
		c.requestID = id
		c.haveRequest = true
		return nil
	}
	if id <= c.requestID {
		return status.New(status.Internal, "securechannel: non-monotonic request id")
	}
	c.requestID = id
	return nil
}

// NextSequenceNumber returns the next sequence number to stamp on an
// outgoing response, incrementing the channel's send-side counter.
func (c *Channel) NextSequenceNumber() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sequenceNumber++
	return c.sequenceNumber
}

// CheckToken validates tokenID against the current token, or the previous
// token within its grace period, per the MSG path's
// "tokenId ∈ {current, previous-within-grace}" rule.
func (c *Channel) CheckToken(tokenID uint32, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tokenID == c.current.id && !c.current.expired(now) {
		return nil
	}
	if c.previous != nil && tokenID == c.previous.id && !c.previous.expired(now) {
		return nil
	}
	return status.Newf(status.TokenUnknown, "securechannel: unknown or expired token id %d", tokenID)
}

// Manager owns channel id allocation and the set of live channels. One
// Manager exists per OPC UA server/client endpoint; there is no
// package-level state anywhere in this package.
type Manager struct {
	mu sync.Mutex

	maxChannelLifetime time.Duration
	policy             securitypolicy.Policy
	renewLimiter       *catrate.Limiter

	lastChannelID uint32
	channels      map[uint32]*Channel
}

// defaultRenewRates bounds how often a single channel may renew its
// token: more than a handful of renews in quick succession is a client
// bug or an attempt to churn the server's token bookkeeping, not a
// legitimate lifetime refresh.
var defaultRenewRates = map[time.Duration]int{
	time.Minute: 4,
	time.Hour:   20,
}

// NewManager constructs a Manager. maxChannelLifetime clamps any lifetime
// requested by a client's OPN; policy gates which offered security policy
// URIs are accepted. Renew is throttled per channelId via a sliding-window
// limiter, since a channel renewing far faster than any real lifetime
// refresh schedule needs indicates a misbehaving or hostile peer.
func NewManager(maxChannelLifetime time.Duration, policy securitypolicy.Policy) *Manager {
	if policy == nil {
		policy = securitypolicy.None{}
	}
	return &Manager{
		maxChannelLifetime: maxChannelLifetime,
		policy:             policy,
		renewLimiter:       catrate.NewLimiter(defaultRenewRates),
		channels:           make(map[uint32]*Channel),
	}
}

// Issue allocates a fresh channelId (strictly increasing within the
// manager) and token, recording the requested lifetime clamped by the
// manager's maxChannelLifetime.
func (m *Manager) Issue(offeredSecurityPolicyURI string, requestedLifetime time.Duration, remoteNonce, localNonce []byte, mode SecurityMode) (*Channel, error) {
	if err := m.policy.Accept(offeredSecurityPolicyURI); err != nil {
		return nil, err
	}

	lifetime := requestedLifetime
	if lifetime <= 0 || lifetime > m.maxChannelLifetime {
		lifetime = m.maxChannelLifetime
	}

	now := time.Now()

	m.mu.Lock()
	m.lastChannelID++
	if m.lastChannelID == 0 {
		m.lastChannelID++ // skip zero on wraparound: id 0 is never issued
	}
	channelID := m.lastChannelID
	ch := &Channel{
		ChannelID:         channelID,
		State:             StateOpen,
		SecurityMode:      mode,
		SecurityPolicyURI: offeredSecurityPolicyURI,
		RemoteNonce:       remoteNonce,
		LocalNonce:        localNonce,
		current:           token{id: 1, createdAt: now, lifetime: lifetime},
		createdAt:         now,
	}
	m.channels[channelID] = ch
	m.mu.Unlock()

	return ch, nil
}

// Renew regenerates tokenId and refreshes lifetime for an existing,
// non-CLOSED channel, keeping channelId stable. The previous token remains
// valid for one grace period so in-flight MSGs stamped with it still pass
// CheckToken.
func (m *Manager) Renew(channelID uint32, requestedLifetime time.Duration) error {
	m.mu.Lock()
	ch, ok := m.channels[channelID]
	m.mu.Unlock()
	if !ok {
		return status.Newf(status.NotFound, "securechannel: unknown channel %d", channelID)
	}

	if _, allowed := m.renewLimiter.Allow(channelID); !allowed {
		return status.Newf(status.ConnectionRejected, "securechannel: channel %d is renewing too frequently", channelID)
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.State == StateClosed {
		return status.Newf(status.Internal, "securechannel: cannot renew closed channel %d", channelID)
	}

	lifetime := requestedLifetime
	if lifetime <= 0 || lifetime > m.maxChannelLifetime {
		lifetime = m.maxChannelLifetime
	}

	prev := ch.current
	ch.previous = &prev
	ch.current = token{id: prev.id + 1, createdAt: time.Now(), lifetime: lifetime}
	return nil
}

// Get returns the channel for channelID, or NotFound.
func (m *Manager) Get(channelID uint32) (*Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	if !ok {
		return nil, status.Newf(status.NotFound, "securechannel: unknown channel %d", channelID)
	}
	return ch, nil
}

// Close removes a channel and marks it CLOSED; a CLO on an
// unknown channel is reported as NotFound so the caller can decide whether
// that's benign (already torn down) or worth logging.
func (m *Manager) Close(channelID uint32) error {
	m.mu.Lock()
	ch, ok := m.channels[channelID]
	if ok {
		delete(m.channels, channelID)
	}
	m.mu.Unlock()
	if !ok {
		return status.Newf(status.NotFound, "securechannel: unknown channel %d", channelID)
	}
	ch.mu.Lock()
	ch.State = StateClosed
	ch.mu.Unlock()
	return nil
}

// Count returns the number of currently open channels.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}
