package bench

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/time/rate"

	"echobench/internal/config"
	"echobench/internal/latency"
	"echobench/internal/metrics"
)

// Worker drives one connection: it sends a message, waits for the echo,
// records the round trip and repeats until the stop signal is raised or the
// connection fails.
type Worker struct {
	id       int
	cfg      config.BenchmarkConfig
	stop     Signal
	reporter Reporter
	sink     latency.Sink
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewWorker(id int, cfg config.BenchmarkConfig, stop Signal, reporter Reporter, opts Options) *Worker {
	opts = opts.withDefaults()
	return &Worker{
		id:       id,
		cfg:      cfg,
		stop:     stop,
		reporter: reporter,
		sink:     opts.Sink,
		metrics:  opts.Metrics,
		logger: opts.Logger.With(
			"worker", id,
			"transport", string(cfg.Transport),
			"addr", cfg.Address,
		),
	}
}

// outcome is the result of one message exchange.
type outcome struct {
	sent     bool
	received bool
	lost     bool
	mismatch bool
	retries  int
	rtt      time.Duration
}

// udpSend is one attempt of a datagram exchange.
type udpSend struct {
	stamp uint64
	start time.Time
}

// Run executes the worker until it stops, then flushes its samples and
// reports its tally. It never panics on I/O failure and always reports.
func (w *Worker) Run() {
	tally := Tally{Worker: w.id}
	rec := latency.NewRecorder(1024)
	defer func() { w.finish(tally, rec) }()

	conn, err := w.dial()
	if err != nil {
		tally.Err = err.Error()
		w.metrics.ConnectFailed()
		w.logger.Warn("connect failed", "err", err)
		return
	}
	defer conn.Close()
	tally.Connected = true

	w.metrics.WorkerStarted()
	defer w.metrics.WorkerStopped()

	if w.stop.Stopped() {
		return
	}
	if w.cfg.Warmup > 0 && !sleep(w.stop, w.cfg.Warmup) {
		return
	}

	if err := w.loop(conn, &tally, rec); err != nil {
		tally.Err = err.Error()
		w.logger.Warn("worker aborted", "err", err, "kind", errorKind(err),
			"sent", tally.Sent, "received", tally.Received)
	}
}

// dial is bounded by the dial timeout only. A stop raised meanwhile does not
// cancel it, so a reachable target always counts as connected.
func (w *Worker) dial() (net.Conn, error) {
	d := net.Dialer{Timeout: w.cfg.DialTimeout}
	switch w.cfg.Transport {
	case config.UDP:
		// Binds an ephemeral local port and fixes the peer; nothing is sent.
		conn, err := d.Dial("udp", w.cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("associate udp %s: %w", w.cfg.Address, err)
		}
		return conn, nil
	default:
		conn, err := d.Dial("tcp", w.cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("connect tcp %s: %w", w.cfg.Address, err)
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			if err := tc.SetNoDelay(true); err != nil {
				w.logger.Debug("set TCP_NODELAY", "err", err)
			}
		}
		return conn, nil
	}
}

func (w *Worker) loop(conn net.Conn, tally *Tally, rec *latency.Recorder) error {
	var limiter *rate.Limiter
	if w.cfg.Interval > 0 {
		limiter = rate.NewLimiter(rate.Every(w.cfg.Interval), 1)
	}

	comp := newComposer(w.cfg.Payload, w.cfg.Length, w.cfg.Seed, w.id)
	in := make([]byte, w.cfg.Length+1)
	sends := make([]udpSend, 0, w.cfg.Retries)

	for !w.stop.Stopped() {
		if limiter != nil {
			if err := limiter.Wait(w.stop.Context()); err != nil {
				return nil
			}
		}

		msg := comp.next()
		var (
			o   outcome
			err error
		)
		if w.cfg.Transport == config.UDP {
			o, err = w.exchangeUDP(conn, comp, in, sends)
		} else {
			o, err = w.exchangeTCP(conn, msg, in[:len(msg)])
		}
		w.record(o, tally, rec)
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) record(o outcome, tally *Tally, rec *latency.Recorder) {
	tally.Retries += uint64(o.retries)
	for range o.retries {
		w.metrics.Retried()
	}
	if o.sent {
		tally.Sent++
		w.metrics.Sent()
	}
	if o.lost {
		tally.Lost++
		w.metrics.Lost()
	}
	if !o.received {
		return
	}
	tally.Received++
	rec.Add(o.rtt)
	w.metrics.Received(o.rtt)
	if o.mismatch {
		tally.Mismatched++
		w.metrics.Mismatched()
		w.logger.Debug("echo mismatch", "message", tally.Sent)
	}
}

// exchangeTCP writes the whole message and reads back exactly as many
// bytes. The read is bounded by the read timeout even after stop is raised,
// so a message already on the wire either completes or fails within one
// timeout window. Any error ends the worker: a half-read stream cannot be
// resynchronised.
func (w *Worker) exchangeTCP(conn net.Conn, msg, in []byte) (outcome, error) {
	var o outcome
	if err := conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout)); err != nil {
		return o, fmt.Errorf("set write deadline: %w", err)
	}
	if err := writeFull(conn, msg); err != nil {
		return o, fmt.Errorf("write: %w", err)
	}
	start := time.Now()
	o.sent = true

	if err := conn.SetReadDeadline(start.Add(w.cfg.ReadTimeout)); err != nil {
		return o, fmt.Errorf("set read deadline: %w", err)
	}
	if err := readFull(conn, in); err != nil {
		return o, fmt.Errorf("read: %w", err)
	}
	o.received = true
	o.rtt = time.Since(start)
	o.mismatch = !bytes.Equal(in, msg)
	return o, nil
}

// exchangeUDP tries up to Retries send/receive attempts for one datagram.
// Each attempt carries its own stamp. An echo of any attempt of the current
// message completes it, timed from that attempt's send; datagrams of the
// wrong length or stamp are leftovers of earlier messages and are skipped.
// Timeouts and send failures only fail the attempt; once the ceiling is
// reached, or stop is raised between attempts, the message is lost. Only a
// closed socket is fatal.
func (w *Worker) exchangeUDP(conn net.Conn, comp *composer, in []byte, sends []udpSend) (outcome, error) {
	var o outcome
	sends = sends[:0]
	msg := comp.buf
	for attempt := 1; attempt <= w.cfg.Retries; attempt++ {
		stamp, _ := comp.stampOf(msg)
		if attempt > 1 {
			if w.stop.Stopped() {
				break
			}
			o.retries++
			stamp = comp.stamp()
		}

		if err := conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout)); err != nil {
			return o, fmt.Errorf("set write deadline: %w", err)
		}
		if _, err := conn.Write(msg); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return o, fmt.Errorf("send: %w", err)
			}
			w.logger.Debug("send failed", "attempt", attempt, "err", err)
			continue
		}
		start := time.Now()
		sends = append(sends, udpSend{stamp: stamp, start: start})
		o.sent = true

		if err := conn.SetReadDeadline(start.Add(w.cfg.ReadTimeout)); err != nil {
			return o, fmt.Errorf("set read deadline: %w", err)
		}
		echo, send, err := w.awaitEcho(conn, comp, in, sends)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return o, fmt.Errorf("recv: %w", err)
			}
			w.logger.Debug("attempt failed", "attempt", attempt, "err", err, "kind", errorKind(err))
			continue
		}

		o.received = true
		o.rtt = time.Since(send.start)
		o.mismatch = !comp.sameContent(echo)
		return o, nil
	}
	o.lost = true
	return o, nil
}

// awaitEcho reads until a datagram answers one of sends or the read deadline
// passes. Without stamps any datagram of the right length answers the latest
// send.
func (w *Worker) awaitEcho(conn net.Conn, comp *composer, in []byte, sends []udpSend) ([]byte, udpSend, error) {
	for {
		n, err := conn.Read(in)
		if err != nil {
			return nil, udpSend{}, err
		}
		echo := in[:n]
		if n != len(comp.buf) {
			w.logger.Debug("skipping datagram of wrong length", "got", n, "want", len(comp.buf))
			continue
		}
		stamp, ok := comp.stampOf(echo)
		if !ok {
			return echo, sends[len(sends)-1], nil
		}
		for _, s := range sends {
			if s.stamp == stamp {
				return echo, s, nil
			}
		}
		w.logger.Debug("skipping stale echo", "stamp", stamp)
	}
}

// finish hands the samples to the sink and the tally to the collector.
// Neither failure is fatal.
func (w *Worker) finish(tally Tally, rec *latency.Recorder) {
	samples := rec.Samples()
	tally.Latency = latency.Summarize(samples)

	if tally.Connected {
		if err := w.sink.Flush(w.id, samples); err != nil {
			w.logger.Warn("flush latencies", "err", err, "samples", len(samples))
		}
	}
	if err := w.reporter.Report(tally); err != nil {
		w.logger.Warn("report tally", "err", err)
	}
}
