// Package report renders an aggregate result for humans and machines.
package report

import (
	"fmt"
	"io"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"echobench/internal/bench"
	"echobench/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Throughput returns requests/sec and responses/sec over the configured
// duration. A zero duration yields zero rates.
func Throughput(duration time.Duration, res bench.AggregateResult) (requests, responses float64) {
	secs := duration.Seconds()
	if secs <= 0 {
		return 0, 0
	}
	return float64(res.TotalSent) / secs, float64(res.TotalReceived) / secs
}

// LossPercent is the share of sent messages without a response.
func LossPercent(res bench.AggregateResult) float64 {
	if res.TotalSent == 0 || res.TotalSent <= res.TotalReceived {
		return 0
	}
	return float64(res.TotalSent-res.TotalReceived) * 100 / float64(res.TotalSent)
}

// Print writes the summary report.
func Print(w io.Writer, cfg config.BenchmarkConfig, res bench.AggregateResult) {
	p := message.NewPrinter(language.English)

	p.Fprintf(w, "\n--- Benchmark Results ---\n")
	p.Fprintf(w, "Target: %s (%s)\n", cfg.Address, cfg.Transport)
	p.Fprintf(w, "Configuration: %d connections, %d byte messages, %v duration.\n",
		cfg.Workers, cfg.Length, cfg.Duration)
	p.Fprintf(w, "Workers reporting: %d of %d (%d connected)\n",
		res.WorkersReporting, res.WorkersExpected, res.WorkersConnected)
	if missing := res.Missing(); missing > 0 {
		p.Fprintf(w, "Warning: %d workers did not report before the grace period ended; their counts are excluded.\n", missing)
	}
	fmt.Fprintln(w)

	if cfg.Duration <= 0 {
		p.Fprintf(w, "Duration was 0, cannot calculate per-second metrics.\n")
	} else {
		reqs, resps := Throughput(cfg.Duration, res)
		p.Fprintf(w, "Throughput: %.2f requests/sec, %.2f responses/sec\n", reqs, resps)
	}
	p.Fprintf(w, "Total Requests Sent: %d\n", res.TotalSent)
	p.Fprintf(w, "Total Responses Received: %d\n", res.TotalReceived)
	if cfg.Transport == config.UDP {
		p.Fprintf(w, "Total Lost: %d (retries: %d)\n", res.TotalLost, res.TotalRetries)
	}
	if res.TotalMismatched > 0 {
		p.Fprintf(w, "Warning: %d responses did not match the request payload.\n", res.TotalMismatched)
	}

	switch {
	case res.TotalSent > res.TotalReceived:
		p.Fprintf(w, "Warning: %d responses were lost or not fully received (%.2f%%).\n",
			res.TotalSent-res.TotalReceived, LossPercent(res))
	case res.TotalSent < res.TotalReceived:
		p.Fprintf(w, "Warning: More responses received than requests sent. This is unusual. (%d extra)\n",
			res.TotalReceived-res.TotalSent)
	}

	if l := res.Latency; l.Count > 0 {
		p.Fprintf(w, "Latency: min %v, avg %v, max %v over %d samples\n", l.Min, l.Mean, l.Max, l.Count)
	}
	fmt.Fprintln(w, "Benchmark finished.")
}

// Document is the JSON form of a run.
type Document struct {
	Timestamp   time.Time             `json:"timestamp"`
	Address     string                `json:"address"`
	Transport   config.Transport      `json:"transport"`
	Length      int                   `json:"length"`
	Workers     int                   `json:"workers"`
	DurationSec float64               `json:"duration_sec"`
	RequestsPS  float64               `json:"requests_per_sec"`
	ResponsesPS float64               `json:"responses_per_sec"`
	LossPercent float64               `json:"loss_percent"`
	Result      bench.AggregateResult `json:"result"`
}

func NewDocument(cfg config.BenchmarkConfig, res bench.AggregateResult, now time.Time) Document {
	reqs, resps := Throughput(cfg.Duration, res)
	return Document{
		Timestamp:   now.UTC(),
		Address:     cfg.Address,
		Transport:   cfg.Transport,
		Length:      cfg.Length,
		Workers:     cfg.Workers,
		DurationSec: cfg.Duration.Seconds(),
		RequestsPS:  reqs,
		ResponsesPS: resps,
		LossPercent: LossPercent(res),
		Result:      res,
	}
}

// WriteJSON saves doc to path, indented.
func WriteJSON(path string, doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}
