// Package bus decouples the driver from slow consumers: values published
// on the hot path are copied to buffered subscriber channels, and a full
// subscriber loses the value instead of stalling the pipeline.
package bus

import (
	"context"
	"log"
	"sync"

	"github.com/pondem87/kraken/internal/model"
)

// FanOut broadcasts values to N output channels.
// If an output channel is full, the value is dropped for that consumer to
// prevent a slow consumer from blocking the pipeline.
type FanOut[T any] struct {
	mu      sync.RWMutex
	outputs []chan T
	bufSize int
	closed  bool

	// OnDrop is called when a value is dropped for a subscriber.
	// subscriberIdx is the 0-based index of the slow consumer.
	OnDrop func(subscriberIdx int)
}

// New creates a FanOut with the given buffer size for output channels.
func New[T any](outputBufferSize int) *FanOut[T] {
	return &FanOut[T]{
		bufSize: outputBufferSize,
	}
}

// Subscribe creates and returns a new output channel.
func (f *FanOut[T]) Subscribe() <-chan T {
	ch := make(chan T, f.bufSize)
	f.mu.Lock()
	if f.closed {
		close(ch)
	} else {
		f.outputs = append(f.outputs, ch)
	}
	f.mu.Unlock()
	return ch
}

// Publish hands v to every subscriber without blocking.
func (f *FanOut[T]) Publish(v T) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	for i, ch := range f.outputs {
		select {
		case ch <- v:
		default:
			if f.OnDrop != nil {
				f.OnDrop(i)
			} else {
				log.Printf("[bus] output channel %d full, dropping value", i)
			}
		}
	}
}

// Run reads from the input channel and fans out to all subscribers.
// Blocks until ctx is cancelled or input is closed, then closes every
// subscriber channel.
func (f *FanOut[T]) Run(ctx context.Context, input <-chan T) {
	defer f.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-input:
			if !ok {
				return
			}
			f.Publish(v)
		}
	}
}

// Close closes every subscriber channel. Later publishes are ignored.
func (f *FanOut[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for _, ch := range f.outputs {
		close(ch)
	}
}

// ChannelStat reports the saturation of one subscriber channel.
type ChannelStat struct {
	Len int
	Cap int
}

// ChannelStats returns (length, capacity) for each subscriber channel.
func (f *FanOut[T]) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, ch := range f.outputs {
		stats[i] = ChannelStat{Len: len(ch), Cap: cap(ch)}
	}
	return stats
}

// Signals is a signal sink that fans signals out to asynchronous consumers
// such as notifiers.
type Signals struct {
	*FanOut[model.Signal]
}

// NewSignals creates a signal bus.
func NewSignals(bufSize int) *Signals {
	return &Signals{FanOut: New[model.Signal](bufSize)}
}

// OnSignal publishes sig. It never fails; slow consumers lose signals.
func (s *Signals) OnSignal(_ context.Context, sig model.Signal) error {
	s.Publish(sig)
	return nil
}

// Consume subscribes fn to the bus and drains the subscription in a new
// goroutine until the bus is closed. Errors from fn are logged and do not
// stop consumption. The returned channel is closed once draining is done.
func (s *Signals) Consume(ctx context.Context, name string, fn func(context.Context, model.Signal) error) <-chan struct{} {
	ch := s.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for sig := range ch {
			if err := fn(ctx, sig); err != nil {
				log.Printf("[bus] %s: signal %s: %v", name, sig.ID, err)
			}
		}
	}()
	return done
}
