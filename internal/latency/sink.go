package latency

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"echobench/internal/config"
)

// Sink is the durable destination of a worker's samples. Flush is called once
// per worker, from that worker's goroutine.
type Sink interface {
	Flush(worker int, samples []time.Duration) error
}

// Discard drops every sample.
type Discard struct{}

func (Discard) Flush(int, []time.Duration) error { return nil }

// DirSink writes latency_thread_<worker>.txt files into Dir, one integer per
// line in Unit, in recording order.
type DirSink struct {
	Dir  string
	Unit config.LatencyUnit
}

// RunDirLayout is the timestamp format of run directories.
const RunDirLayout = "2006-01-02_15-04-05"

// NewRunDir creates <base>/<timestamp> and returns a sink writing into it.
func NewRunDir(base string, unit config.LatencyUnit, now time.Time) (*DirSink, error) {
	dir := filepath.Join(base, now.Format(RunDirLayout))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create latency dir %s: %w", dir, err)
	}
	return &DirSink{Dir: dir, Unit: unit}, nil
}

// FileName returns the per-worker file name inside the run directory.
func FileName(worker int) string {
	return fmt.Sprintf("latency_thread_%d.txt", worker)
}

func (s *DirSink) Path(worker int) string {
	return filepath.Join(s.Dir, FileName(worker))
}

func (s *DirSink) Flush(worker int, samples []time.Duration) (err error) {
	path := s.Path(worker)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create latency file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close latency file %s: %w", path, cerr)
		}
	}()

	w := bufio.NewWriter(f)
	buf := make([]byte, 0, 24)
	for _, d := range samples {
		buf = strconv.AppendInt(buf[:0], s.Unit.Convert(d), 10)
		buf = append(buf, '\n')
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("write latency file %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write latency file %s: %w", path, err)
	}
	return nil
}
