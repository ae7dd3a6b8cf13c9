package mtu

import (
	"context"
	"testing"
	"time"
)

func TestBitQueue_FIFOOrdering(t *testing.T) {
	q := newBitQueue(64)
	for i := 0; i < 10; i++ {
		q.trySend(uint8(i % 2))
	}
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		bit, err := q.receive(ctx, time.Second)
		if err != nil {
			t.Fatalf("receive %d: %v", i, err)
		}
		if bit != uint8(i%2) {
			t.Fatalf("bit %d: got %d, want %d", i, bit, i%2)
		}
	}
}

func TestBitQueue_OverflowDropsNeverPanics(t *testing.T) {
	q := newBitQueue(64) // minimum capacity, no consumer draining
	for i := 0; i < 1000; i++ {
		q.trySend(uint8(i % 2))
	}
	if got := q.droppedCount(); got == 0 {
		t.Fatalf("expected drops once capacity was exceeded, got 0")
	}
	if got := q.droppedCount(); got != 1000-64 {
		t.Fatalf("dropped = %d, want %d", got, 1000-64)
	}
}

func TestBitQueue_ReceiveTimesOutWhenEmpty(t *testing.T) {
	q := newBitQueue(64)
	_, err := q.receive(context.Background(), 10*time.Millisecond)
	if err != errBitTimeout {
		t.Fatalf("err = %v, want errBitTimeout", err)
	}
}

func TestBitQueue_ReceiveRespectsContextCancellation(t *testing.T) {
	q := newBitQueue(64)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	_, err := q.receive(ctx, 0)
	if err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
