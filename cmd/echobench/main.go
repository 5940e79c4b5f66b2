package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"echobench/internal/bench"
	"echobench/internal/config"
	"echobench/internal/latency"
	"echobench/internal/metrics"
	"echobench/internal/report"
)

var version = "dev"

var logLevel string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// benchFlags binds the run flags onto a flag set. Defaults come from cfg,
// which already carries environment overrides.
type benchFlags struct {
	cfg       config.BenchmarkConfig
	seconds   string
	transport string
	payload   string
	unit      string
}

func (f *benchFlags) register(fs *pflag.FlagSet) {
	c := &f.cfg
	fs.StringVarP(&c.Address, "address", "a", c.Address, "Target echo server address")
	fs.IntVarP(&c.Length, "length", "l", c.Length, "Test message length in bytes")
	fs.IntVarP(&c.Workers, "number", "c", c.Workers, "Test connection number")
	fs.StringVarP(&f.seconds, "duration", "t", fmt.Sprint(int(c.Duration.Seconds())), "Test duration in seconds (or Go duration, e.g. 90s)")
	fs.StringVarP(&f.transport, "transport", "p", string(c.Transport), "Transport: tcp or udp")

	fs.DurationVar(&c.DialTimeout, "dial-timeout", c.DialTimeout, "TCP connect timeout")
	fs.DurationVar(&c.ReadTimeout, "read-timeout", 0, "Receive timeout per message (default 5s tcp, 1s udp)")
	fs.DurationVar(&c.WriteTimeout, "write-timeout", 0, "Send timeout per message (default 5s tcp, 1s udp)")
	fs.IntVar(&c.Retries, "retries", c.Retries, "UDP attempts per message before counting it lost")
	fs.DurationVar(&c.Interval, "interval", 0, "Minimum delay between messages of one worker (0 = saturate)")
	fs.DurationVar(&c.Warmup, "warmup", 0, "Idle time between connect and the first message")
	fs.DurationVar(&c.Stagger, "stagger", 0, "Delay between worker launches")
	fs.DurationVar(&c.Grace, "grace", c.Grace, "How long to wait for worker reports after stop")

	fs.StringVar(&f.payload, "payload", string(c.Payload), "Message body: zero, pattern or random")
	fs.Uint64Var(&c.Seed, "seed", c.Seed, "Seed for random payloads")
	fs.StringVar(&f.unit, "unit", string(c.Unit), "Latency file unit: ns or us")
	fs.StringVarP(&c.OutputDir, "out", "o", "", "Base directory for latency files (default latency, latency_udp for udp)")
	fs.BoolVar(&c.NoLatency, "no-latency", false, "Do not write latency files")

	fs.DurationVar(&c.Progress, "progress", 0, "Print partial stats at this period (0 = off)")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.StringVar(&c.JSONPath, "json", "", "Also write the report as JSON to this file")
}

// resolve parses the string flags and applies transport defaults.
func (f *benchFlags) resolve() (config.BenchmarkConfig, error) {
	c := f.cfg
	d, err := config.ParseSeconds(f.seconds)
	if err != nil {
		return c, fmt.Errorf("%w: duration %q: %v", config.ErrInvalidConfig, f.seconds, err)
	}
	c.Duration = d
	if c.Transport, err = config.ParseTransport(f.transport); err != nil {
		return c, err
	}
	if c.Payload, err = config.ParsePayloadMode(f.payload); err != nil {
		return c, err
	}
	if c.Unit, err = config.ParseLatencyUnit(f.unit); err != nil {
		return c, err
	}
	c = c.WithTransportDefaults()
	return c, c.Validate()
}

func newRootCmd() *cobra.Command {
	flags := &benchFlags{cfg: config.Default()}
	envErr := flags.cfg.ApplyEnv(os.LookupEnv)

	cmd := &cobra.Command{
		Use:   "echobench",
		Short: "Echo benchmark",
		Long: `Open many concurrent TCP or UDP connections to an echo server, drive
request/response traffic on each for a fixed duration, and report
throughput, loss and per-message latency.

Latency samples go to <out>/<YYYY-MM-DD_HH-MM-SS>/latency_thread_<id>.txt.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			slog.SetDefault(newLogger(logLevel))
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if envErr != nil {
				return reportErr(envErr)
			}
			cfg, err := flags.resolve()
			if err != nil {
				return reportErr(err)
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			_, err = runBenchmark(ctx, cfg, true)
			return reportErr(err)
		},
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	flags.register(cmd.Flags())

	cmd.AddCommand(newServeCmd(), newSweepCmd(), &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})
	return cmd
}

// runBenchmark wires the sink, metrics and report around bench.Run. When
// printReport is false only the result is returned.
func runBenchmark(ctx context.Context, cfg config.BenchmarkConfig, printReport bool) (bench.AggregateResult, error) {
	logger := slog.Default()
	m := metrics.New(string(cfg.Transport))

	opts := bench.Options{Metrics: m, Logger: logger, Progress: os.Stdout}
	if !cfg.NoLatency {
		sink, err := latency.NewRunDir(cfg.OutputDir, cfg.Unit, time.Now())
		if err != nil {
			return bench.AggregateResult{}, err
		}
		opts.Sink = sink
		fmt.Printf("Outputting latency files to: %s\n", sink.Dir)
	}

	if cfg.MetricsAddr != "" {
		_, shutdown, err := m.Serve(ctx, cfg.MetricsAddr, logger)
		if err != nil {
			return bench.AggregateResult{}, err
		}
		// The address is released before the next sweep level binds it.
		defer shutdown()
	}

	fmt.Printf("Starting benchmark with %d connections, %d byte messages, for %v, to %s over %s.\n",
		cfg.Workers, cfg.Length, cfg.Duration, cfg.Address, cfg.Transport)

	res, err := bench.Run(ctx, cfg, opts)
	if printReport {
		report.Print(os.Stdout, cfg, res)
	}
	if cfg.JSONPath != "" {
		if jerr := report.WriteJSON(cfg.JSONPath, report.NewDocument(cfg, res, time.Now())); jerr != nil {
			logger.Error("write json report", "err", jerr)
		}
	}
	return res, err
}

// reportErr prints run-fatal errors the way cobra would, then passes them on
// so main exits non-zero.
func reportErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, config.ErrInvalidConfig):
		fmt.Fprintf(os.Stderr, "Error: %v\nRun 'echobench --help' for usage.\n", err)
	case errors.Is(err, bench.ErrNoConnections), errors.Is(err, bench.ErrNoReports):
		fmt.Fprintf(os.Stderr, "Fatal: %v\n", err)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
