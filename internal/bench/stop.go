package bench

import (
	"context"
	"sync/atomic"
	"time"
)

// Signal is the read side of a StopSignal. Workers only ever see this view.
type Signal interface {
	Stopped() bool
	Done() <-chan struct{}
	Context() context.Context
}

// StopSignal is a write-once broadcast flag. It starts false, and the first
// Stop flips it to true for good.
type StopSignal struct {
	stopped atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewStopSignal() *StopSignal {
	ctx, cancel := context.WithCancel(context.Background())
	return &StopSignal{ctx: ctx, cancel: cancel}
}

// Stop raises the flag. It reports whether this call was the one that
// raised it.
func (s *StopSignal) Stop() bool {
	if !s.stopped.CompareAndSwap(false, true) {
		return false
	}
	s.cancel()
	return true
}

func (s *StopSignal) Stopped() bool {
	return s.stopped.Load()
}

// Done is closed once Stop has been called.
func (s *StopSignal) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Context is cancelled once Stop has been called.
func (s *StopSignal) Context() context.Context {
	return s.ctx
}

// sleep waits for d or until sig is raised. It reports whether the full
// duration elapsed.
func sleep(sig Signal, d time.Duration) bool {
	if d <= 0 {
		return !sig.Stopped()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-sig.Done():
		return false
	}
}
