// Package lwip implements the LWIP transport.ConnectionManager variant:
// the same state machine as transport/tcp, constrained to the LWIP socket
// API's narrower DNS story — when DNS is unavailable only IPv4 literal
// addresses are accepted. Grounded on the TCP variant this wraps and on
// the LWIP-vs-POSIX-sockets distinction called out for the Ethernet/LWIP
// variants in the original source's arch/ split (one POSIX arch, one
// embedded/LWIP arch sharing the same connection-manager contract).
package lwip

import (
	"net"

	"github.com/uacore/eventcore/ioloop"
	"github.com/uacore/eventcore/kvparams"
	"github.com/uacore/eventcore/status"
	"github.com/uacore/eventcore/transport"
	"github.com/uacore/eventcore/transport/tcp"
)

// Manager wraps a tcp.Manager, narrowing accepted "address" parameters to
// IPv4 literals whenever DNS is unavailable.
type Manager struct {
	*tcp.Manager
	dnsAvailable bool
}

// New constructs a Manager bound to loop. dnsAvailable mirrors whether the
// embedded LWIP stack was configured with a DNS resolver; when false, Open
// rejects any "address" that doesn't parse as an IPv4 literal instead of
// attempting a hostname lookup the real stack couldn't perform either.
func New(loop *ioloop.Loop, dnsAvailable bool) *Manager {
	return &Manager{Manager: tcp.New(loop), dnsAvailable: dnsAvailable}
}

func (m *Manager) Name() string { return "lwip" }

// Open validates the DNS constraint before delegating to the wrapped
// tcp.Manager, which already implements the rest of the POSIX-shaped TCP
// state machine LWIP's socket API mirrors.
func (m *Manager) Open(params kvparams.Map, appCtx any, cb transport.Callback) (transport.ConnectionID, error) {
	if !m.dnsAvailable {
		if address, ok := params["address"].(string); ok && address != "" {
			if ip := net.ParseIP(address); ip == nil || ip.To4() == nil {
				return 0, status.Newf(status.InvalidArgument, "lwip: DNS unavailable, %q is not an IPv4 literal", address)
			}
		}
	}
	return m.Manager.Open(params, appCtx, cb)
}
