package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"echobench/internal/config"
	"echobench/internal/report"
)

func newSweepCmd() *cobra.Command {
	flags := &benchFlags{cfg: config.Default()}
	flags.cfg.Duration = 10 * time.Second
	envErr := flags.cfg.ApplyEnv(os.LookupEnv)
	var (
		levels []int
		pause  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the benchmark at several connection counts in turn",
		RunE: func(cmd *cobra.Command, args []string) error {
			if envErr != nil {
				return reportErr(envErr)
			}
			base, err := flags.resolve()
			if err != nil {
				return reportErr(err)
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Echo Server Performance Benchmark")
			fmt.Fprintln(out, "Testing different concurrency levels...")
			fmt.Fprintln(out)

			for i, c := range levels {
				if i > 0 {
					select {
					case <-time.After(pause):
					case <-ctx.Done():
						return nil
					}
				}
				cfg := base
				cfg.Workers = c
				cfg.OutputDir = filepath.Join(base.OutputDir, fmt.Sprintf("c%d", c))
				if err := cfg.Validate(); err != nil {
					return reportErr(err)
				}

				res, err := runBenchmark(ctx, cfg, false)
				reqs, _ := report.Throughput(cfg.Duration, res)
				fmt.Fprintf(out, "Concurrency %4d: %10d requests in %v = %10.2f req/s (%d/%d workers, lost %d)\n",
					c, res.TotalReceived, cfg.Duration, reqs, res.WorkersReporting, res.WorkersExpected, res.TotalLost)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Concurrency %d: %v\n", c, err)
				}
				if ctx.Err() != nil {
					return nil
				}
			}
			return nil
		},
	}
	flags.register(cmd.Flags())
	cmd.Flags().IntSliceVar(&levels, "levels", []int{50, 100, 200, 500, 1000}, "Connection counts to test")
	cmd.Flags().DurationVar(&pause, "pause", time.Second, "Pause between levels")
	return cmd
}
