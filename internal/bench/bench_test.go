package bench

import (
	"net"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/nettest"

	"echobench/internal/config"
	"echobench/internal/echoserver"
)

// recordingSink keeps flushed samples per worker.
type recordingSink struct {
	mu      sync.Mutex
	samples map[int][]time.Duration
}

func newRecordingSink() *recordingSink {
	return &recordingSink{samples: make(map[int][]time.Duration)}
}

func (s *recordingSink) Flush(worker int, samples []time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[worker] = samples
	return nil
}

func (s *recordingSink) get(worker int) ([]time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.samples[worker]
	return v, ok
}

// tallyCatcher is a Reporter that keeps the single tally of one worker.
type tallyCatcher struct {
	ch chan Tally
}

func newTallyCatcher() *tallyCatcher {
	return &tallyCatcher{ch: make(chan Tally, 1)}
}

func (c *tallyCatcher) Report(t Tally) error {
	c.ch <- t
	return nil
}

func (c *tallyCatcher) wait(t *testing.T, timeout time.Duration) Tally {
	t.Helper()
	select {
	case tally := <-c.ch:
		return tally
	case <-time.After(timeout):
		t.Fatalf("no tally within %v", timeout)
		return Tally{}
	}
}

func startEcho(t *testing.T, network string, opts echoserver.Options) *echoserver.Server {
	t.Helper()
	srv, err := echoserver.Listen(network, "127.0.0.1:0", opts)
	if err != nil {
		t.Fatalf("start %s echo server: %v", network, err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv
}

// closedAddr returns a loopback address nothing listens on.
func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := nettest.NewLocalListener("tcp")
	if err != nil {
		t.Fatalf("local listener: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func testConfig(transport config.Transport, addr string) config.BenchmarkConfig {
	cfg := config.Default()
	cfg.Transport = transport
	cfg.Address = addr
	cfg.Length = 64
	cfg.Workers = 1
	cfg.Duration = 300 * time.Millisecond
	cfg.Grace = 3 * time.Second
	cfg.DialTimeout = time.Second
	cfg.ReadTimeout = 500 * time.Millisecond
	cfg.WriteTimeout = 500 * time.Millisecond
	if transport == config.UDP {
		cfg.ReadTimeout = 50 * time.Millisecond
	}
	return cfg
}

func hostPort(a net.Addr) string { return a.String() }
