package bench

import (
	"errors"
	"slices"
	"sync"
	"time"
)

// ErrCollectorClosed is returned by Report once collection has ended.
var ErrCollectorClosed = errors.New("collector closed")

// Reporter accepts a worker's final tally.
type Reporter interface {
	Report(Tally) error
}

// Collector funnels tallies from every worker into one goroutine. It accepts
// reports until Close; anything arriving later is rejected, never counted.
type Collector struct {
	expected int

	reports  chan Tally
	closed   chan struct{}
	complete chan struct{}
	done     chan struct{}
	once     sync.Once

	tallies []Tally // owned by the loop goroutine until done is closed
}

func NewCollector(expected int) *Collector {
	c := &Collector{
		expected: expected,
		reports:  make(chan Tally),
		closed:   make(chan struct{}),
		complete: make(chan struct{}),
		done:     make(chan struct{}),
		tallies:  make([]Tally, 0, expected),
	}
	go c.loop()
	return c
}

func (c *Collector) loop() {
	defer close(c.done)
	if c.expected <= 0 {
		close(c.complete)
	}
	for {
		select {
		case t := <-c.reports:
			c.tallies = append(c.tallies, t)
			if len(c.tallies) == c.expected {
				close(c.complete)
			}
		case <-c.closed:
			return
		}
	}
}

// Report hands a tally to the collector. It blocks until the collector
// takes it or has been closed.
func (c *Collector) Report(t Tally) error {
	select {
	case <-c.closed:
		return ErrCollectorClosed
	default:
	}
	select {
	case c.reports <- t:
		return nil
	case <-c.closed:
		return ErrCollectorClosed
	}
}

// Complete is closed once every expected worker has reported.
func (c *Collector) Complete() <-chan struct{} {
	return c.complete
}

// Close ends collection. It is safe to call more than once.
func (c *Collector) Close() {
	c.once.Do(func() { close(c.closed) })
	<-c.done
}

// Wait blocks until every expected worker has reported or grace elapses,
// then closes the collector and aggregates what arrived.
func (c *Collector) Wait(grace time.Duration) AggregateResult {
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-c.complete:
	case <-t.C:
	}
	c.Close()
	return Aggregate(c.expected, slices.Clone(c.tallies))
}
