// Package bench runs the echo benchmark: one worker goroutine per
// connection, a shared stop signal, and a collector that folds the
// per-worker tallies into one result.
package bench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"echobench/internal/config"
	"echobench/internal/latency"
	"echobench/internal/metrics"
)

var (
	// ErrNoConnections is returned when every worker reported and none of
	// them could connect.
	ErrNoConnections = errors.New("no worker connected to target")
	// ErrNoReports is returned when no worker reported within the grace
	// period.
	ErrNoReports = errors.New("no worker reported")
)

// Options carries the collaborators of a run. Zero values are replaced with
// no-op implementations.
type Options struct {
	Sink     latency.Sink
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Progress io.Writer
}

func (o Options) withDefaults() Options {
	if o.Sink == nil {
		o.Sink = latency.Discard{}
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.Progress == nil {
		o.Progress = io.Discard
	}
	return o
}

// Run launches cfg.Workers workers, lets them run for cfg.Duration, raises the
// stop signal and waits at most cfg.Grace for their tallies. Cancelling ctx
// raises the stop signal early. Per-worker failures only show up in the
// result; the error is non-nil for an invalid config, when no worker
// connected, or when none reported at all.
func Run(ctx context.Context, cfg config.BenchmarkConfig, opts Options) (AggregateResult, error) {
	if err := cfg.Validate(); err != nil {
		return AggregateResult{}, err
	}
	opts = opts.withDefaults()
	logger := opts.Logger

	stop := NewStopSignal()
	defer stop.Stop()
	collector := NewCollector(cfg.Workers)

	if opts.Metrics != nil && cfg.Progress > 0 {
		go opts.Metrics.Progress(stop.Context(), cfg.Progress, opts.Progress)
	}

	logger.Info("starting benchmark",
		"transport", string(cfg.Transport),
		"addr", cfg.Address,
		"workers", cfg.Workers,
		"length", cfg.Length,
		"duration", cfg.Duration,
	)

	start := time.Now()
	for id := range cfg.Workers {
		if id > 0 && cfg.Stagger > 0 {
			sleepCtx(ctx, cfg.Stagger)
		}
		go NewWorker(id, cfg, stop, collector, opts).Run()
	}
	logger.Info("all workers launched", "workers", cfg.Workers, "took", time.Since(start))

	timer := time.NewTimer(cfg.Duration)
	select {
	case <-timer.C:
		logger.Info("time is up, signalling workers to stop")
	case <-collector.Complete():
		timer.Stop()
		logger.Info("every worker finished before the deadline")
	case <-ctx.Done():
		timer.Stop()
		logger.Warn("run aborted, signalling workers to stop", "err", ctx.Err())
	}
	stop.Stop()

	res := collector.Wait(cfg.Grace)
	res.Elapsed = time.Since(start)

	if !res.Complete() {
		logger.Warn("workers missing from the aggregate",
			"reporting", res.WorkersReporting, "expected", res.WorkersExpected, "grace", cfg.Grace)
	}
	logger.Info("collected results",
		"reporting", res.WorkersReporting,
		"expected", res.WorkersExpected,
		"connected", res.WorkersConnected,
	)
	switch {
	case res.WorkersReporting == 0:
		return res, fmt.Errorf("%w within %v of stop", ErrNoReports, cfg.Grace)
	case res.Complete() && res.WorkersConnected == 0:
		return res, fmt.Errorf("%w %s", ErrNoConnections, cfg.Address)
	}
	return res, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
