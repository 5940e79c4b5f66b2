//go:build !unix

package bench

import (
	"errors"
	"syscall"
)

func isInterrupted(error) bool { return false }

func isWouldBlock(error) bool { return false }

func isConnReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED)
}

func isRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}
