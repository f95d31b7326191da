// Package ioloop implements the single-threaded, cooperatively scheduled
// event loop that drives every OPC UA connection, channel and PubSub
// component: one goroutine owns a Timer, a platform poller (epoll on
// Linux, kqueue on Darwin) and a registry of [Source] instances, and
// processes all of it from a single Run call.
//
// Other goroutines interact with a running Loop exclusively through
// Submit (cross-goroutine task injection, fenced by a self-pipe/eventfd
// wakeup) and the lock-free delayed-callback queue used for deferred
// teardown. Everything else — registering an fd, adding a timer, starting
// or stopping a Source — must be called from inside the loop goroutine.
package ioloop
