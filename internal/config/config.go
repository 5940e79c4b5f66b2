// Package config holds the benchmark configuration shared read-only by every
// worker of a run.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Transport selects the socket type used by the workers.
type Transport string

const (
	TCP Transport = "tcp"
	UDP Transport = "udp"
)

// ParseTransport accepts "tcp" or "udp" in any case.
func ParseTransport(s string) (Transport, error) {
	switch t := Transport(strings.ToLower(strings.TrimSpace(s))); t {
	case TCP, UDP:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown transport %q (expected tcp or udp)", ErrInvalidConfig, s)
	}
}

// PayloadMode controls how the body of each message is filled. The last byte
// is always the sentinel.
type PayloadMode string

const (
	PayloadZero    PayloadMode = "zero"
	PayloadPattern PayloadMode = "pattern"
	PayloadRandom  PayloadMode = "random"
)

func ParsePayloadMode(s string) (PayloadMode, error) {
	switch m := PayloadMode(strings.ToLower(strings.TrimSpace(s))); m {
	case PayloadZero, PayloadPattern, PayloadRandom:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown payload mode %q (expected zero, pattern or random)", ErrInvalidConfig, s)
	}
}

// LatencyUnit is the integer unit written to latency files.
type LatencyUnit string

const (
	Nanoseconds  LatencyUnit = "ns"
	Microseconds LatencyUnit = "us"
)

func ParseLatencyUnit(s string) (LatencyUnit, error) {
	switch u := LatencyUnit(strings.ToLower(strings.TrimSpace(s))); u {
	case Nanoseconds, Microseconds:
		return u, nil
	default:
		return "", fmt.Errorf("%w: unknown latency unit %q (expected ns or us)", ErrInvalidConfig, s)
	}
}

// Convert expresses d as an integer count of the unit.
func (u LatencyUnit) Convert(d time.Duration) int64 {
	if u == Microseconds {
		return d.Microseconds()
	}
	return d.Nanoseconds()
}

const (
	DefaultAddress   = "127.0.0.1:12345"
	DefaultLength    = 512
	DefaultWorkers   = 50
	DefaultDuration  = 60 * time.Second
	DefaultRetries   = 3
	DefaultGrace     = 15 * time.Second
	DefaultSeed      = 1
	DefaultOutputDir = "latency"
)

// Sentinel terminates every message.
const Sentinel byte = '\n'

// BenchmarkConfig describes one run. It is built once at startup and never
// mutated after the run starts.
type BenchmarkConfig struct {
	Address   string
	Length    int
	Workers   int
	Duration  time.Duration
	Transport Transport

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Retries      int
	Interval     time.Duration
	Warmup       time.Duration
	Stagger      time.Duration
	Grace        time.Duration

	Payload PayloadMode
	Seed    uint64

	Unit      LatencyUnit
	OutputDir string
	NoLatency bool

	Progress    time.Duration
	MetricsAddr string
	JSONPath    string
}

// Default returns the configuration used when nothing is overridden.
func Default() BenchmarkConfig {
	return BenchmarkConfig{
		Address:     DefaultAddress,
		Length:      DefaultLength,
		Workers:     DefaultWorkers,
		Duration:    DefaultDuration,
		Transport:   TCP,
		DialTimeout: 5 * time.Second,
		Retries:     DefaultRetries,
		Grace:       DefaultGrace,
		Payload:     PayloadZero,
		Seed:        DefaultSeed,
		Unit:        Nanoseconds,
	}
}

// WithTransportDefaults fills the zero timeouts and output directory with the
// values appropriate for the selected transport.
func (c BenchmarkConfig) WithTransportDefaults() BenchmarkConfig {
	ioTimeout := 5 * time.Second
	dir := DefaultOutputDir
	if c.Transport == UDP {
		ioTimeout = time.Second
		dir = DefaultOutputDir + "_udp"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = ioTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = ioTimeout
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.OutputDir == "" {
		c.OutputDir = dir
	}
	return c
}

// Validate checks every field a worker relies on.
func (c BenchmarkConfig) Validate() error {
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return fmt.Errorf("%w: address %q: %v", ErrInvalidConfig, c.Address, err)
	}
	if c.Length <= 0 {
		return fmt.Errorf("%w: length must be positive, got %d", ErrInvalidConfig, c.Length)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: worker count must be positive, got %d", ErrInvalidConfig, c.Workers)
	}
	if c.Duration < 0 {
		return fmt.Errorf("%w: duration must not be negative, got %v", ErrInvalidConfig, c.Duration)
	}
	if _, err := ParseTransport(string(c.Transport)); err != nil {
		return err
	}
	if _, err := ParsePayloadMode(string(c.Payload)); err != nil {
		return err
	}
	if _, err := ParseLatencyUnit(string(c.Unit)); err != nil {
		return err
	}
	if c.Retries < 1 {
		return fmt.Errorf("%w: retries must be at least 1, got %d", ErrInvalidConfig, c.Retries)
	}
	type field struct {
		name string
		d    time.Duration
	}
	for _, f := range []field{
		{"dial timeout", c.DialTimeout},
		{"read timeout", c.ReadTimeout},
		{"write timeout", c.WriteTimeout},
	} {
		if f.d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidConfig, f.name, f.d)
		}
	}
	for _, f := range []field{
		{"interval", c.Interval},
		{"warmup", c.Warmup},
		{"stagger", c.Stagger},
		{"grace", c.Grace},
		{"progress", c.Progress},
	} {
		if f.d < 0 {
			return fmt.Errorf("%w: %s must not be negative, got %v", ErrInvalidConfig, f.name, f.d)
		}
	}
	return nil
}

// Env variable names understood by ApplyEnv.
const (
	EnvAddress   = "ECHOBENCH_ADDRESS"
	EnvLength    = "ECHOBENCH_LENGTH"
	EnvWorkers   = "ECHOBENCH_WORKERS"
	EnvDuration  = "ECHOBENCH_DURATION"
	EnvTransport = "ECHOBENCH_TRANSPORT"
)

// ApplyEnv overrides the core fields from the environment. lookup is usually
// os.LookupEnv. Durations accept Go syntax ("90s") or plain seconds.
func (c *BenchmarkConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvAddress); ok && v != "" {
		c.Address = v
	}
	if v, ok := lookup(EnvLength); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, EnvLength, v, err)
		}
		c.Length = n
	}
	if v, ok := lookup(EnvWorkers); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, EnvWorkers, v, err)
		}
		c.Workers = n
	}
	if v, ok := lookup(EnvDuration); ok && v != "" {
		d, err := ParseSeconds(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, EnvDuration, v, err)
		}
		c.Duration = d
	}
	if v, ok := lookup(EnvTransport); ok && v != "" {
		t, err := ParseTransport(v)
		if err != nil {
			return err
		}
		c.Transport = t
	}
	return nil
}

// ParseSeconds reads "60" as sixty seconds and anything else with
// time.ParseDuration.
func ParseSeconds(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}
