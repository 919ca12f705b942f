// Package sink is the hand-off point between the compression pipeline and
// whatever ships frames to the network. Exactly one consumer is attached at
// a time; frames published with no consumer attached are dropped silently,
// matching the contract of a live stream where stale frames have no value.
package sink

import (
	"sync"
	"sync/atomic"

	"github.com/fieldlens/uplink/media"
)

// Consumer receives network frames in publish order, one call at a time.
type Consumer interface {
	OnNetworkFrame(frame *media.NetworkFrame)
}

// ConsumerFunc adapts a plain function to the Consumer interface.
type ConsumerFunc func(frame *media.NetworkFrame)

// OnNetworkFrame calls f.
func (f ConsumerFunc) OnNetworkFrame(frame *media.NetworkFrame) { f(frame) }

// Sink delivers each published frame to the registered consumer exactly
// once, in order. Publish calls are expected to arrive from a single
// goroutine (the compressor's emission goroutine); the mutex exists so
// SetConsumer can swap consumers mid-stream without racing a delivery.
type Sink struct {
	mu       sync.Mutex
	consumer Consumer

	delivered atomic.Int64
	dropped   atomic.Int64
}

// New creates an empty Sink with no consumer attached.
func New() *Sink {
	return &Sink{}
}

// SetConsumer attaches the consumer, replacing any previous one. Passing
// nil detaches, after which published frames are dropped.
func (s *Sink) SetConsumer(c Consumer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumer = c
}

// Publish hands one frame to the current consumer. The consumer owns the
// frame after the call returns; the sink never retains it.
func (s *Sink) Publish(frame *media.NetworkFrame) {
	s.mu.Lock()
	c := s.consumer
	if c == nil {
		s.mu.Unlock()
		s.dropped.Add(1)
		return
	}
	// Deliver under the lock so a concurrent SetConsumer cannot interleave
	// with an in-flight delivery and break the exactly-once contract.
	c.OnNetworkFrame(frame)
	s.mu.Unlock()
	s.delivered.Add(1)
}

// Delivered reports frames handed to a consumer.
func (s *Sink) Delivered() int64 { return s.delivered.Load() }

// Dropped reports frames published while no consumer was attached.
func (s *Sink) Dropped() int64 { return s.dropped.Load() }
