package gateway

import (
	"sync"

	"breakout-trader/internal/ringbuf"
)

// replayEntry holds a single broadcasted message for replay.
type replayEntry struct {
	Seq  int64
	Data []byte // pre-built envelope JSON
}

// ReplayBuffer keeps the most recent envelopes of one channel so a client
// that saw a channel_seq gap can backfill it.
//
// Thread-safe for concurrent writes and reads.
type ReplayBuffer struct {
	mu    sync.RWMutex
	ring  *ringbuf.Ring[replayEntry]
	limit int
}

// NewReplayBuffer creates a replay buffer holding at most capacity entries.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{
		ring:  ringbuf.New[replayEntry](capacity),
		limit: capacity,
	}
}

// Push appends an envelope, evicting the oldest entry when full.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)

	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.ring.Len() == rb.limit {
		rb.ring.Pop()
	}
	rb.ring.Push(replayEntry{Seq: seq, Data: cp})
}

// Range returns all entries with seq in [fromSeq, toSeq], oldest first.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) []replayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var result []replayEntry
	for i := 0; i < rb.ring.Len(); i++ {
		e := rb.ring.At(i)
		if e.Seq >= fromSeq && e.Seq <= toSeq {
			result = append(result, e)
		}
	}
	return result
}

// Len returns the number of entries currently in the buffer.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.ring.Len()
}
