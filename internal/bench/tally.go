package bench

import (
	"slices"
	"time"

	"echobench/internal/latency"
)

// Tally is one worker's final count. A worker owns its tally until it hands
// it to the collector, once, when it exits.
type Tally struct {
	Worker     int             `json:"worker"`
	Connected  bool            `json:"connected"`
	Sent       uint64          `json:"sent"`
	Received   uint64          `json:"received"`
	Lost       uint64          `json:"lost"`
	Mismatched uint64          `json:"mismatched"`
	Retries    uint64          `json:"retries"`
	Latency    latency.Summary `json:"latency"`
	Err        string          `json:"error,omitempty"`
}

// AggregateResult is the fold of every tally that reached the collector in
// time. WorkersReporting never exceeds WorkersExpected.
type AggregateResult struct {
	TotalSent        uint64          `json:"total_sent"`
	TotalReceived    uint64          `json:"total_received"`
	TotalLost        uint64          `json:"total_lost"`
	TotalMismatched  uint64          `json:"total_mismatched"`
	TotalRetries     uint64          `json:"total_retries"`
	WorkersExpected  int             `json:"workers_expected"`
	WorkersReporting int             `json:"workers_reporting"`
	WorkersConnected int             `json:"workers_connected"`
	Latency          latency.Summary `json:"latency"`
	Elapsed          time.Duration   `json:"elapsed_ns"`
	Tallies          []Tally         `json:"workers"`
}

// Complete reports whether every expected worker reported.
func (a AggregateResult) Complete() bool {
	return a.WorkersReporting == a.WorkersExpected
}

// Missing is the number of workers excluded for not reporting in time.
func (a AggregateResult) Missing() int {
	return a.WorkersExpected - a.WorkersReporting
}

// Aggregate sums tallies. It does not modify its input, and the same input
// always yields the same result. Tallies beyond expected are ignored.
func Aggregate(expected int, tallies []Tally) AggregateResult {
	sorted := slices.Clone(tallies)
	slices.SortStableFunc(sorted, func(a, b Tally) int { return a.Worker - b.Worker })
	if len(sorted) > expected {
		sorted = sorted[:expected]
	}

	res := AggregateResult{
		WorkersExpected:  expected,
		WorkersReporting: len(sorted),
		Tallies:          sorted,
	}
	for _, t := range sorted {
		res.TotalSent += t.Sent
		res.TotalReceived += t.Received
		res.TotalLost += t.Lost
		res.TotalMismatched += t.Mismatched
		res.TotalRetries += t.Retries
		if t.Connected {
			res.WorkersConnected++
		}
		res.Latency = res.Latency.Merge(t.Latency)
	}
	return res
}
