package gateway

import "sync"

// replayEntry holds a single broadcasted envelope.
type replayEntry struct {
	Seq  int64
	Data []byte
}

// ReplayBuffer is a fixed-size circular buffer of recent envelopes of one
// channel, queried by sequence range when a client reports a gap.
// Safe for concurrent use.
type ReplayBuffer struct {
	mu    sync.RWMutex
	buf   []replayEntry
	start int // physical index of the oldest entry
	n     int
}

// NewReplayBuffer creates a replay buffer with the given capacity.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{buf: make([]replayEntry, capacity)}
}

// Push appends an envelope, evicting the oldest when full. data must not be
// modified afterwards.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.n < len(rb.buf) {
		rb.buf[(rb.start+rb.n)%len(rb.buf)] = replayEntry{Seq: seq, Data: data}
		rb.n++
		return
	}
	rb.buf[rb.start] = replayEntry{Seq: seq, Data: data}
	rb.start = (rb.start + 1) % len(rb.buf)
}

// Range returns entries with seq in [fromSeq, toSeq], oldest first.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) []replayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out []replayEntry
	for i := 0; i < rb.n; i++ {
		e := rb.buf[(rb.start+i)%len(rb.buf)]
		if e.Seq >= fromSeq && e.Seq <= toSeq {
			out = append(out, e)
		}
	}
	return out
}

// Oldest returns the lowest sequence still buffered, or 0 when empty.
func (rb *ReplayBuffer) Oldest() int64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.n == 0 {
		return 0
	}
	return rb.buf[rb.start].Seq
}

// Len returns the number of entries currently in the buffer.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.n
}
