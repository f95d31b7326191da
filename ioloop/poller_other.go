//go:build !linux && !darwin

package ioloop

import "github.com/uacore/eventcore/status"

type IOEvents uint32

const (
	EventRead IOEvents = 1 << iota
	EventWrite
	EventError
	EventHangup
)

type IOCallback func(IOEvents)

// FastPoller has no backing implementation on this GOOS; every method
// except Close (which returns nil) returns status.Internal. The transport/lwip variant, which targets a
// bare-metal/RTOS build rather than this poller, is unaffected.
type FastPoller struct{}

var errUnsupportedPlatform = status.New(status.Internal, "ioloop: no poller implementation for this platform")

func (p *FastPoller) Init() error                                       { return errUnsupportedPlatform }
func (p *FastPoller) Close() error                                      { return nil }
func (p *FastPoller) RegisterFD(int, IOEvents, IOCallback) error        { return errUnsupportedPlatform }
func (p *FastPoller) UnregisterFD(int) error                            { return errUnsupportedPlatform }
func (p *FastPoller) ModifyFD(int, IOEvents) error                      { return errUnsupportedPlatform }
func (p *FastPoller) PollIO(timeoutMs int) (int, error)                 { return 0, errUnsupportedPlatform }
