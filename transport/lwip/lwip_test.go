package lwip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uacore/eventcore/ioloop"
	"github.com/uacore/eventcore/kvparams"
	"github.com/uacore/eventcore/status"
	"github.com/uacore/eventcore/transport"
)

func TestOpenRejectsHostnameWithoutDNS(t *testing.T) {
	l, err := ioloop.New()
	require.NoError(t, err)
	defer l.Shutdown()

	m := New(l, false)
	_, err = m.Open(kvparams.Map{
		"address": "example.com",
		"port":    uint16(4840),
	}, nil, func(transport.ConnectionManager, transport.ConnectionID, any, transport.State, kvparams.Map, []byte) {})
	require.Error(t, err)
	assert.True(t, status.Is(err, status.InvalidArgument))
}

func TestOpenAcceptsIPv4LiteralWithoutDNS(t *testing.T) {
	l, err := ioloop.New()
	require.NoError(t, err)
	defer l.Shutdown()

	go func() { _ = l.Run() }()

	m := New(l, false)
	done := make(chan struct{}, 1)
	require.NoError(t, l.Submit(func() {
		_, err := m.Open(kvparams.Map{
			"address": "127.0.0.1",
			"port":    uint16(0),
			"listen":  true,
			"validate": true,
		}, nil, func(transport.ConnectionManager, transport.ConnectionID, any, transport.State, kvparams.Map, []byte) {})
		require.NoError(t, err)
		done <- struct{}{}
	}))
	<-done
}

func TestNameReportsLwip(t *testing.T) {
	l, err := ioloop.New()
	require.NoError(t, err)
	defer l.Shutdown()

	m := New(l, true)
	assert.Equal(t, "lwip", m.Name())
}
