package mtu

import (
	"context"
	"sync/atomic"
	"time"
)

// bitQueue is the bounded single-producer/single-consumer queue that
// carries sampled DATA bits from the sampler goroutine to the reassembler
// goroutine (spec.md section 4.1: "a fixed-capacity queue, never a
// dynamically growing one; a full queue drops the newest bit and counts
// the drop, it never blocks the sampler and it never panics").
type bitQueue struct {
	ch      chan uint8
	dropped atomic.Uint64
}

// newBitQueue allocates a queue of the given capacity. Per spec.md section
// 9 the minimum usable capacity is 64 bits (enough to outrun one full
// 7E2-framed character plus slack); callers below that are rounded up.
func newBitQueue(capacity int) *bitQueue {
	if capacity < 64 {
		capacity = 64
	}
	return &bitQueue{ch: make(chan uint8, capacity)}
}

// trySend enqueues bit without blocking. If the queue is full the bit is
// dropped and the drop counter incremented; the sampler's cycle timing is
// never affected by reassembler backpressure.
func (q *bitQueue) trySend(bit uint8) {
	select {
	case q.ch <- bit:
	default:
		q.dropped.Add(1)
	}
}

// receive waits up to timeout (no limit if timeout <= 0) for a bit,
// returning errBitTimeout on expiry or ctx.Err() if ctx is cancelled
// first.
func (q *bitQueue) receive(ctx context.Context, timeout time.Duration) (uint8, error) {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case bit := <-q.ch:
		return bit, nil
	case <-timeoutCh:
		return 0, errBitTimeout
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// droppedCount reports how many bits have been dropped for queue-full
// since the queue was created.
func (q *bitQueue) droppedCount() uint64 { return q.dropped.Load() }
