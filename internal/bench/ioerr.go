package bench

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
)

// errPeerClosed marks a stream that returned a zero-byte read.
var errPeerClosed = errors.New("connection closed by peer")

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || isWouldBlock(err) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isClosed(err error) bool {
	return errors.Is(err, errPeerClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		isConnReset(err)
}

// errorKind names an I/O error for logs.
func errorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case isTimeout(err):
		return "timeout"
	case isClosed(err):
		return "closed"
	case isRefused(err):
		return "refused"
	case isInterrupted(err):
		return "interrupted"
	default:
		return "other"
	}
}

// writeFull writes all of buf, resuming after short writes and interrupted
// calls.
func writeFull(w io.Writer, buf []byte) error {
	for n := 0; n < len(buf); {
		m, err := w.Write(buf[n:])
		n += m
		if err == nil && m == 0 {
			err = io.ErrShortWrite
		}
		if err == nil {
			continue
		}
		if isInterrupted(err) {
			continue
		}
		return fmt.Errorf("after %d of %d bytes: %w", n, len(buf), err)
	}
	return nil
}

// readFull reads exactly len(buf) bytes. Interrupted calls are retried; a
// zero-byte read, a timeout or any other error ends the read.
func readFull(r io.Reader, buf []byte) error {
	for n := 0; n < len(buf); {
		m, err := r.Read(buf[n:])
		n += m
		if n == len(buf) {
			return nil
		}
		switch {
		case err == nil && m > 0:
		case err == nil, errors.Is(err, io.EOF):
			return fmt.Errorf("%w after %d of %d bytes", errPeerClosed, n, len(buf))
		case isInterrupted(err):
		default:
			return fmt.Errorf("after %d of %d bytes: %w", n, len(buf), err)
		}
	}
	return nil
}
