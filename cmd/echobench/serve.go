package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"echobench/internal/config"
	"echobench/internal/echoserver"
)

func newServeCmd() *cobra.Command {
	var (
		listen    string
		transport string
		opts      echoserver.Options
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local echo server to benchmark against",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := config.ParseTransport(transport)
			if err != nil {
				return reportErr(err)
			}
			opts.Logger = slog.Default()
			srv, err := echoserver.Listen(string(t), listen, opts)
			if err != nil {
				return reportErr(fmt.Errorf("start %s echo server: %w", t, err))
			}
			defer srv.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Echo server listening on %s (%s). Press Ctrl+C to stop.\n", srv.Addr(), t)
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			<-ctx.Done()

			accepted, echoed, dropped := srv.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "Accepted %d connections, echoed %d messages, dropped %d datagrams.\n",
				accepted, echoed, dropped)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&listen, "listen", "a", config.DefaultAddress, "Address to listen on")
	f.StringVarP(&transport, "transport", "p", string(config.TCP), "Transport: tcp or udp")
	f.Float64Var(&opts.DropRate, "drop", 0, "Probability of not echoing a datagram (udp)")
	f.DurationVar(&opts.Delay, "delay", 0, "Delay added before every echo")
	f.BoolVar(&opts.Corrupt, "corrupt", false, "Flip the first byte of every echo")
	f.Uint64Var(&opts.Seed, "seed", 1, "Seed for datagram drops")
	return cmd
}
