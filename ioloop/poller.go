// Poller registration is platform-specific:
//   - poller_linux.go implements FastPoller with epoll.
//   - poller_darwin.go implements FastPoller with kqueue.
//   - poller_other.go stubs FastPoller out on every other GOOS, returning
//     status.Internal from every method except Close, which returns nil.
//
// All three expose the same IOEvents/IOCallback/FastPoller surface so
// ioloop/loop.go never branches on platform.
package ioloop
