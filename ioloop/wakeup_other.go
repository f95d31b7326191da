//go:build !linux && !darwin

package ioloop

import "github.com/uacore/eventcore/status"

func createWakeFd() (readFd, writeFd int, err error) {
	return -1, -1, status.New(status.Internal, "ioloop: no wakeup mechanism for this platform")
}

func closeWakeFd(readFd, writeFd int) {}

func signalWakeFd(writeFd int) error { return nil }

func drainWakeFd(readFd int) {}
