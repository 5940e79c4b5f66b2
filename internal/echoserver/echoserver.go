// Package echoserver is a TCP/UDP echo server with optional fault injection.
// It backs the serve command and the benchmark tests.
package echoserver

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Options tune how faithfully the server echoes.
type Options struct {
	// DropRate is the probability in [0,1] that a datagram is not echoed.
	// Streams ignore it.
	DropRate float64
	// Delay is added before every echo.
	Delay time.Duration
	// Corrupt flips the first byte of every echo.
	Corrupt bool
	// Seed makes drops reproducible.
	Seed   uint64
	Logger *slog.Logger
}

type Server struct {
	network string
	opts    Options
	logger  *slog.Logger

	listener net.Listener
	packet   net.PacketConn

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	wg       sync.WaitGroup
	done     chan struct{}
	closed   atomic.Bool
	accepted atomic.Int64
	echoed   atomic.Int64
	dropped  atomic.Int64
}

// Listen binds network ("tcp" or "udp") on addr and starts serving in the
// background.
func Listen(network, addr string, opts Options) (*Server, error) {
	if opts.DropRate < 0 || opts.DropRate > 1 {
		return nil, fmt.Errorf("drop rate %v outside [0,1]", opts.DropRate)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		network: network,
		opts:    opts,
		logger:  opts.Logger.With("network", network),
		conns:   make(map[net.Conn]struct{}),
		done:    make(chan struct{}),
	}

	switch network {
	case "tcp", "tcp4", "tcp6":
		ln, err := net.Listen(network, addr)
		if err != nil {
			return nil, err
		}
		s.listener = ln
		s.wg.Add(1)
		go s.acceptConnections()
	case "udp", "udp4", "udp6":
		pc, err := net.ListenPacket(network, addr)
		if err != nil {
			return nil, err
		}
		s.packet = pc
		s.wg.Add(1)
		go s.servePackets()
	default:
		return nil, fmt.Errorf("unsupported network %q", network)
	}
	s.logger.Info("echo server listening", "addr", s.Addr().String())
	return s, nil
}

func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return s.packet.LocalAddr()
}

// Stats reports accepted streams, echoed messages and dropped datagrams.
func (s *Server) Stats() (accepted, echoed, dropped int64) {
	return s.accepted.Load(), s.echoed.Load(), s.dropped.Load()
}

func (s *Server) acceptConnections() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("accept", "err", err)
			}
			return
		}
		s.accepted.Add(1)
		s.mu.Lock()
		if s.closed.Load() {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	buf := make([]byte, 64*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if !s.mangle(buf[:n]) {
				return
			}
			if _, werr := conn.Write(buf[:n]); werr != nil {
				return
			}
			s.echoed.Add(1)
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) servePackets() {
	defer s.wg.Done()
	rng := rand.New(rand.NewPCG(s.opts.Seed, 0x5eed))
	buf := make([]byte, 64*1024)
	for {
		n, addr, err := s.packet.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Debug("read datagram", "err", err)
			continue
		}
		if s.opts.DropRate > 0 && rng.Float64() < s.opts.DropRate {
			s.dropped.Add(1)
			continue
		}
		if s.opts.Delay > 0 {
			out := append([]byte(nil), buf[:n]...)
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.replyPacket(out, addr)
			}()
			continue
		}
		s.replyPacket(buf[:n], addr)
	}
}

func (s *Server) replyPacket(p []byte, addr net.Addr) {
	if !s.mangle(p) {
		return
	}
	if _, err := s.packet.WriteTo(p, addr); err != nil {
		if !s.closed.Load() {
			s.logger.Debug("write datagram", "err", err)
		}
		return
	}
	s.echoed.Add(1)
}

// mangle applies the configured delay and corruption. It reports false when
// the server closed during the delay.
func (s *Server) mangle(p []byte) bool {
	if s.opts.Delay > 0 {
		t := time.NewTimer(s.opts.Delay)
		select {
		case <-t.C:
		case <-s.done:
			t.Stop()
			return false
		}
	}
	if s.opts.Corrupt && len(p) > 0 {
		p[0] ^= 0xff
	}
	return true
}

// Close stops accepting, closes every open stream and waits for the serving
// goroutines to exit.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	if s.packet != nil {
		err = s.packet.Close()
	}
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}
