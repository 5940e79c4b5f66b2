package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Serve exposes /metrics on addr until ctx is done or shutdown is called.
// The handler speaks HTTP/1.1 and cleartext HTTP/2 (h2c) on the same port.
// It returns the bound address. shutdown is safe to call more than once and
// returns after the listener is closed and the server has exited.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) (bound net.Addr, shutdown func(), err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "err", err)
		}
	}()

	var once sync.Once
	shutdown = func() {
		once.Do(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Debug("metrics server shutdown", "err", err)
				srv.Close()
			}
		})
		<-served
	}
	go func() {
		select {
		case <-ctx.Done():
			shutdown()
		case <-served:
		}
	}()

	logger.Info("serving metrics", "addr", ln.Addr().String())
	return ln.Addr(), shutdown, nil
}

// Progress prints a partial-stats line every period until ctx is done.
func (m *Metrics) Progress(ctx context.Context, every time.Duration, w io.Writer) {
	if every <= 0 {
		return
	}
	start := time.Now()
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := m.Snapshot()
			fmt.Fprintf(w, "[%ds] partial: sent=%d received=%d lost=%d active=%d\n",
				int(time.Since(start).Round(time.Second).Seconds()), s.Sent, s.Received, s.Lost, s.ActiveWorkers)
		}
	}
}
