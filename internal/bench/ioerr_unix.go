//go:build unix

package bench

import (
	"errors"

	"golang.org/x/sys/unix"
)

func isInterrupted(err error) bool {
	return errors.Is(err, unix.EINTR)
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

func isConnReset(err error) bool {
	return errors.Is(err, unix.ECONNRESET) || errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNABORTED)
}

// isRefused matches the ICMP port-unreachable error surfaced on connected
// datagram sockets.
func isRefused(err error) bool {
	return errors.Is(err, unix.ECONNREFUSED)
}
