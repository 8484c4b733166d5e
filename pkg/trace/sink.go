package trace

import (
	"log"
	"sync/atomic"
)

// SinkCapacity is the bounded capacity of the capture channel shared by
// every capture backend and the UI/persistence tick loop.
const SinkCapacity = 4096

// Sink is the bounded FIFO between a CaptureBackend and whatever drains
// it (the terminal UI's tick loop, or the jsonl output loop). Emission
// never blocks: once the channel is full, the newest trace is dropped
// and a warning is logged, matching the async queue behavior the
// teacher's backend.AsyncTrafficStoreWrapper used for buffered storage
// writes, adapted here for the capture path instead.
type Sink struct {
	ch      chan *HttpTrace
	dropped atomic.Int64
}

// NewSink allocates a Sink with the standard capacity.
func NewSink() *Sink {
	return &Sink{ch: make(chan *HttpTrace, SinkCapacity)}
}

// Push attempts to enqueue t without blocking. On a full channel it
// drops t, increments the drop counter, and logs a warning.
func (s *Sink) Push(t *HttpTrace) {
	select {
	case s.ch <- t:
	default:
		s.dropped.Add(1)
		log.Printf("capture: channel full (capacity %d), dropping trace span=%s", SinkCapacity, t.SpanId)
	}
}

// TryRecv drains at most one pending trace without blocking. It reports
// ok=false when nothing is currently queued.
func (s *Sink) TryRecv() (t *HttpTrace, ok bool) {
	select {
	case t = <-s.ch:
		return t, true
	default:
		return nil, false
	}
}

// Recv blocks until a trace is available or the channel is closed.
func (s *Sink) Recv() (t *HttpTrace, ok bool) {
	t, ok = <-s.ch
	return t, ok
}

// Dropped returns the running count of traces dropped due to backpressure.
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

// Close closes the underlying channel. Only the producer side should call it.
func (s *Sink) Close() {
	close(s.ch)
}
