//go:build linux

package ioloop

import "golang.org/x/sys/unix"

// createWakeFd creates an eventfd: a single fd that is both the read and
// write end, used to interrupt PollIO from another goroutine.
func createWakeFd() (readFd, writeFd int, err error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	return fd, fd, err
}

func closeWakeFd(readFd, writeFd int) {
	if readFd >= 0 {
		_ = unix.Close(readFd)
	}
}

func signalWakeFd(writeFd int) error {
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(writeFd, buf[:])
	if err == unix.EAGAIN {
		// Counter already non-zero; a wakeup is already pending.
		return nil
	}
	return err
}

func drainWakeFd(readFd int) {
	var buf [8]byte
	for {
		if _, err := unix.Read(readFd, buf[:]); err != nil {
			return
		}
	}
}
