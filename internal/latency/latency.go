// Package latency records per-worker round-trip samples and writes them to
// one file per worker.
package latency

import (
	"math"
	"slices"
	"time"
)

// Recorder is an append-only sequence of samples owned by a single worker.
// It is not safe for concurrent use.
type Recorder struct {
	samples []time.Duration
}

func NewRecorder(capacity int) *Recorder {
	return &Recorder{samples: make([]time.Duration, 0, capacity)}
}

func (r *Recorder) Add(d time.Duration) {
	r.samples = append(r.samples, d)
}

func (r *Recorder) Len() int {
	return len(r.samples)
}

// Samples hands off the recorded sequence. The recorder must not be used
// afterwards.
func (r *Recorder) Samples() []time.Duration {
	s := r.samples
	r.samples = nil
	return s
}

// Summary describes a sample set. Percentiles are only meaningful for a
// single worker; Merge keeps count, extremes and the mean.
type Summary struct {
	Count  int           `json:"count"`
	Min    time.Duration `json:"min_ns"`
	Max    time.Duration `json:"max_ns"`
	Mean   time.Duration `json:"mean_ns"`
	StdDev time.Duration `json:"stddev_ns"`
	P50    time.Duration `json:"p50_ns,omitempty"`
	P90    time.Duration `json:"p90_ns,omitempty"`
	P99    time.Duration `json:"p99_ns,omitempty"`
}

// Summarize computes statistics without reordering samples.
func Summarize(samples []time.Duration) Summary {
	if len(samples) == 0 {
		return Summary{}
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	mean := sum / time.Duration(len(sorted))

	var variance float64
	for _, d := range sorted {
		diff := float64(d - mean)
		variance += diff * diff
	}

	return Summary{
		Count:  len(sorted),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Mean:   mean,
		StdDev: time.Duration(math.Sqrt(variance / float64(len(sorted)))),
		P50:    percentile(sorted, 50),
		P90:    percentile(sorted, 90),
		P99:    percentile(sorted, 99),
	}
}

// percentile uses the nearest-rank method on sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	rank := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	rank = max(0, min(rank, len(sorted)-1))
	return sorted[rank]
}

// Merge combines two summaries. Percentiles and deviation are dropped.
func (s Summary) Merge(o Summary) Summary {
	switch {
	case o.Count == 0:
		return Summary{Count: s.Count, Min: s.Min, Max: s.Max, Mean: s.Mean}
	case s.Count == 0:
		return Summary{Count: o.Count, Min: o.Min, Max: o.Max, Mean: o.Mean}
	}
	n := s.Count + o.Count
	mean := time.Duration((float64(s.Mean)*float64(s.Count) + float64(o.Mean)*float64(o.Count)) / float64(n))
	return Summary{
		Count: n,
		Min:   min(s.Min, o.Min),
		Max:   max(s.Max, o.Max),
		Mean:  mean,
	}
}
