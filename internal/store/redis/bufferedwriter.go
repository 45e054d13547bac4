package redis

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/pondem87/kraken/internal/model"
	"github.com/pondem87/kraken/internal/pipeline"
)

// pendingWrite is a write buffered during circuit-open state. Exactly one
// field is set.
type pendingWrite struct {
	candle *model.Candle
	signal *model.Signal
}

// BufferedWriter wraps a Writer with a circuit breaker.
// During circuit-open state, candles and signals are buffered locally and
// flushed when the circuit closes again. Only the newest snapshot is kept.
type BufferedWriter struct {
	writer *Writer
	cb     *CircuitBreaker
	ctx    context.Context

	mu       sync.Mutex
	buffer   []pendingWrite
	snapshot *pipeline.Snapshot
	maxBuf   int // max buffered writes before dropping oldest (default: 10000)

	// Callbacks
	OnBuffer func()          // called when a write is buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered writes
}

// NewBufferedWriter creates a BufferedWriter wrapping the given Writer.
// ctx bounds flushes that run after the circuit closes.
func NewBufferedWriter(ctx context.Context, w *Writer, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bw := &BufferedWriter{
		writer: w,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]pendingWrite, 0, 256),
		maxBuf: maxBufferSize,
	}

	// Register flush on circuit close
	prevCallback := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == StateClosed {
			go bw.Flush()
		}
	}

	return bw
}

// OnCandle publishes a candle through the circuit breaker.
// If the circuit is open, the write is buffered locally.
func (bw *BufferedWriter) OnCandle(ctx context.Context, c model.Candle) error {
	err := bw.cb.Execute(func() error { return bw.writer.OnCandle(ctx, c) })
	if errors.Is(err, ErrCircuitOpen) {
		bw.bufferWrite(pendingWrite{candle: &c})
		return nil // buffered, not lost
	}
	return err
}

// OnSignal publishes a signal through the circuit breaker.
func (bw *BufferedWriter) OnSignal(ctx context.Context, sig model.Signal) error {
	err := bw.cb.Execute(func() error { return bw.writer.OnSignal(ctx, sig) })
	if errors.Is(err, ErrCircuitOpen) {
		bw.bufferWrite(pendingWrite{signal: &sig})
		return nil
	}
	return err
}

// OnSnapshot publishes a snapshot through the circuit breaker. While the
// circuit is open only the latest snapshot is retained.
func (bw *BufferedWriter) OnSnapshot(ctx context.Context, snap pipeline.Snapshot) error {
	err := bw.cb.Execute(func() error { return bw.writer.OnSnapshot(ctx, snap) })
	if errors.Is(err, ErrCircuitOpen) {
		bw.mu.Lock()
		bw.snapshot = &snap
		bw.mu.Unlock()
		if bw.OnBuffer != nil {
			bw.OnBuffer()
		}
		return nil
	}
	return err
}

func (bw *BufferedWriter) bufferWrite(pw pendingWrite) {
	bw.mu.Lock()
	if len(bw.buffer) >= bw.maxBuf {
		// Buffer full, drop oldest
		bw.buffer = bw.buffer[1:]
	}
	bw.buffer = append(bw.buffer, pw)
	bw.mu.Unlock()

	if bw.OnBuffer != nil {
		bw.OnBuffer()
	}
}

// Flush replays all buffered writes through the underlying writer. Writes
// that fail again are logged and dropped.
func (bw *BufferedWriter) Flush() {
	bw.mu.Lock()
	toFlush, snap := bw.buffer, bw.snapshot
	bw.buffer, bw.snapshot = make([]pendingWrite, 0, 256), nil
	bw.mu.Unlock()

	if len(toFlush) == 0 && snap == nil {
		return
	}

	flushed := 0
	for _, pw := range toFlush {
		var err error
		switch {
		case pw.candle != nil:
			err = bw.writer.OnCandle(bw.ctx, *pw.candle)
		case pw.signal != nil:
			err = bw.writer.OnSignal(bw.ctx, *pw.signal)
		}
		if err != nil {
			log.Printf("[buffered-writer] flush: %v", err)
			continue
		}
		flushed++
	}
	if snap != nil {
		if err := bw.writer.OnSnapshot(bw.ctx, *snap); err != nil {
			log.Printf("[buffered-writer] flush snapshot: %v", err)
		} else {
			flushed++
		}
	}

	log.Printf("[buffered-writer] flushed %d buffered writes", flushed)
	if bw.OnFlush != nil {
		bw.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered writes waiting to be flushed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	n := len(bw.buffer)
	if bw.snapshot != nil {
		n++
	}
	return n
}

// Underlying returns the wrapped writer.
func (bw *BufferedWriter) Underlying() *Writer {
	return bw.writer
}
