package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestBus_SubscribeReceivesEmit(t *testing.T) {
	b := New()
	defer b.Stop()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{}, 1)
	unsub := b.Subscribe(func(ctx context.Context, ev Event) {
		mu.Lock()
		got = append(got, ev.Name)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	})
	defer unsub()

	b.Emit(context.Background(), "apply_start", map[string]any{"batchId": "b1"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscriber delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "apply_start" {
		t.Fatalf("got %v", got)
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	defer b.Stop()

	var calls int
	var mu sync.Mutex
	unsub := b.Subscribe(func(ctx context.Context, ev Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	unsub()

	b.Emit(context.Background(), "dom_apply", nil)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Fatalf("expected no delivery after unsubscribe, got %d calls", calls)
	}
}

func TestBus_EmitNeverBlocksOnFullQueue(t *testing.T) {
	b := New(WithQueueSize(1))
	defer b.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Emit(context.Background(), "window_update", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a full queue")
	}
}

func TestBus_StartSpanReturnsUsableContext(t *testing.T) {
	b := New()
	defer b.Stop()
	ctx, end := b.StartSpan(context.Background(), "apply_start", map[string]any{"batchId": "b1"})
	if ctx == nil {
		t.Fatal("expected non-nil context")
	}
	end()
}
