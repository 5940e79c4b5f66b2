package bench

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"echobench/internal/config"
	"echobench/internal/echoserver"
	"echobench/internal/latency"
	"echobench/internal/metrics"
)

func TestRunTCPAllSucceed(t *testing.T) {
	srv := startEcho(t, "tcp", echoserver.Options{})
	cfg := testConfig(config.TCP, hostPort(srv.Addr()))
	cfg.Workers = 5
	cfg.Length = 64
	cfg.Duration = 500 * time.Millisecond

	sink, err := latency.NewRunDir(t.TempDir(), config.Nanoseconds, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	res, err := Run(context.Background(), cfg, Options{Sink: sink, Metrics: metrics.New("tcp")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !res.Complete() || res.WorkersConnected != 5 {
		t.Fatalf("reporting=%d connected=%d, want 5/5", res.WorkersReporting, res.WorkersConnected)
	}
	if res.TotalSent == 0 || res.TotalSent != res.TotalReceived {
		t.Errorf("sent=%d received=%d, want equal and non-zero", res.TotalSent, res.TotalReceived)
	}
	if res.TotalLost != 0 || res.TotalMismatched != 0 {
		t.Errorf("lost=%d mismatched=%d", res.TotalLost, res.TotalMismatched)
	}
	for _, tl := range res.Tallies {
		info, err := os.Stat(sink.Path(tl.Worker))
		if err != nil {
			t.Errorf("latency file for worker %d: %v", tl.Worker, err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("latency file for worker %d is empty", tl.Worker)
		}
		if uint64(tl.Latency.Count) != tl.Received {
			t.Errorf("worker %d: %d samples for %d received", tl.Worker, tl.Latency.Count, tl.Received)
		}
	}
}

func TestRunUDPWithLoss(t *testing.T) {
	srv := startEcho(t, "udp", echoserver.Options{DropRate: 0.3, Seed: 11})
	cfg := testConfig(config.UDP, hostPort(srv.Addr()))
	cfg.Workers = 4
	cfg.Duration = 500 * time.Millisecond
	cfg.ReadTimeout = 10 * time.Millisecond
	cfg.Retries = 1
	cfg.Grace = 2 * time.Second

	start := time.Now()
	res, err := Run(context.Background(), cfg, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > cfg.Duration+cfg.Grace {
		t.Errorf("run took %v, longer than duration plus grace", elapsed)
	}
	if res.TotalLost == 0 {
		t.Error("expected lost datagrams")
	}
	if res.TotalSent != res.TotalReceived+res.TotalLost {
		t.Errorf("sent %d != received %d + lost %d", res.TotalSent, res.TotalReceived, res.TotalLost)
	}
	if !res.Complete() {
		t.Errorf("%d of %d workers reported", res.WorkersReporting, res.WorkersExpected)
	}
}

func TestRunNoTarget(t *testing.T) {
	cfg := testConfig(config.TCP, closedAddr(t))
	cfg.Workers = 6
	cfg.Duration = time.Minute

	start := time.Now()
	res, err := Run(context.Background(), cfg, Options{Sink: newRecordingSink()})
	if !errors.Is(err, ErrNoConnections) {
		t.Fatalf("err = %v, want ErrNoConnections", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("run took %v although every connect failed", elapsed)
	}
	if res.WorkersReporting != cfg.Workers || res.WorkersConnected != 0 {
		t.Errorf("reporting=%d connected=%d", res.WorkersReporting, res.WorkersConnected)
	}
	if res.TotalSent != 0 || res.TotalReceived != 0 || res.TotalLost != 0 {
		t.Errorf("totals not zero: %+v", res)
	}
}

// TestRunSlowServer stops the run while every message is still in flight.
func TestRunSlowServer(t *testing.T) {
	srv := startEcho(t, "tcp", echoserver.Options{Delay: 700 * time.Millisecond})
	cfg := testConfig(config.TCP, hostPort(srv.Addr()))
	cfg.Workers = 3
	cfg.Duration = 200 * time.Millisecond
	cfg.ReadTimeout = time.Second
	cfg.Grace = 2 * time.Second

	start := time.Now()
	res, err := Run(context.Background(), cfg, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > cfg.Duration+cfg.ReadTimeout+cfg.Grace {
		t.Errorf("run took %v", elapsed)
	}
	if !res.Complete() {
		t.Errorf("%d of %d workers reported", res.WorkersReporting, res.WorkersExpected)
	}
	if res.TotalSent != res.TotalReceived {
		t.Errorf("in-flight messages not completed: sent=%d received=%d", res.TotalSent, res.TotalReceived)
	}
}

// TestRunGraceExcludesWedgedWorkers uses a server that never answers and a
// read timeout far beyond the grace period.
func TestRunGraceExcludesWedgedWorkers(t *testing.T) {
	srv := startEcho(t, "tcp", echoserver.Options{Delay: time.Hour})
	cfg := testConfig(config.TCP, hostPort(srv.Addr()))
	cfg.Workers = 2
	cfg.Duration = 100 * time.Millisecond
	cfg.ReadTimeout = time.Hour
	cfg.Grace = 200 * time.Millisecond

	start := time.Now()
	res, err := Run(context.Background(), cfg, Options{})
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("wedged workers held the run for %v", elapsed)
	}
	if res.WorkersReporting != 0 || res.Missing() != 2 {
		t.Errorf("reporting=%d missing=%d", res.WorkersReporting, res.Missing())
	}
	if !errors.Is(err, ErrNoReports) {
		t.Errorf("err = %v, want ErrNoReports", err)
	}
}

func TestRunZeroDuration(t *testing.T) {
	for _, transport := range []config.Transport{config.TCP, config.UDP} {
		t.Run(string(transport), func(t *testing.T) {
			srv := startEcho(t, string(transport), echoserver.Options{})
			cfg := testConfig(transport, hostPort(srv.Addr()))
			cfg.Workers = 20
			cfg.Duration = 0

			for range 5 {
				res, err := Run(context.Background(), cfg, Options{})
				if err != nil {
					t.Fatalf("Run: %v", err)
				}
				if !res.Complete() || res.WorkersConnected != cfg.Workers {
					t.Fatalf("reporting=%d connected=%d, want %d", res.WorkersReporting, res.WorkersConnected, cfg.Workers)
				}
			}
		})
	}
}

func TestRunCancelled(t *testing.T) {
	srv := startEcho(t, "tcp", echoserver.Options{})
	cfg := testConfig(config.TCP, hostPort(srv.Addr()))
	cfg.Workers = 2
	cfg.Duration = time.Hour
	cfg.Stagger = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	res, err := Run(ctx, cfg, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("cancelled run took %v", elapsed)
	}
	if !res.Complete() || res.TotalReceived == 0 {
		t.Errorf("res = %+v", res)
	}
}

func TestRunInvalidConfig(t *testing.T) {
	cfg := testConfig(config.TCP, "127.0.0.1:1")
	cfg.Workers = 0
	if _, err := Run(context.Background(), cfg, Options{}); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestRunLatencyFilesLayout(t *testing.T) {
	srv := startEcho(t, "tcp", echoserver.Options{})
	cfg := testConfig(config.TCP, hostPort(srv.Addr()))
	cfg.Workers = 2
	cfg.Duration = 100 * time.Millisecond

	base := t.TempDir()
	sink, err := latency.NewRunDir(base, config.Microseconds, time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Run(context.Background(), cfg, Options{Sink: sink}); err != nil {
		t.Fatal(err)
	}
	for _, id := range []int{0, 1} {
		path := filepath.Join(base, "2025-03-04_05-06-07", "latency_thread_"+string(rune('0'+id))+".txt")
		if _, err := os.Stat(path); err != nil {
			t.Errorf("missing %s: %v", path, err)
		}
	}
}
