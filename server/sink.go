package server

import "sync"

// Sink is a per-connection outbound mailbox. The handler's write pump is
// the only consumer; any goroutine may deliver. Delivery never blocks: a
// full mailbox means the recipient is too slow and the envelope is
// dropped for that recipient only.
type Sink struct {
	ch   chan any
	done chan struct{}
	once sync.Once
}

func NewSink(buffer int) *Sink {
	return &Sink{
		ch:   make(chan any, buffer),
		done: make(chan struct{}),
	}
}

// Deliver enqueues an envelope for the connection. It reports false when
// the sink is closed or full.
func (s *Sink) Deliver(envelope any) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- envelope:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

// Close stops the sink. Envelopes already queued are still drained by the
// write pump; later deliveries report false. Safe to call more than once.
func (s *Sink) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Sink) Queue() <-chan any { return s.ch }

func (s *Sink) Done() <-chan struct{} { return s.done }
