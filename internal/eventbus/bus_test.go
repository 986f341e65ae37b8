package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPublishReachesSubscribers(t *testing.T) {
	b := NewWithConfig(1, 16)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		b.Close(ctx)
	})

	received := make(chan Event, 1)
	b.Subscribe(EventTypeStateSaved, func(evt Event) {
		received <- evt
	})

	b.Publish(Event{Type: EventTypeStateSaved, Data: map[string]any{"entity_id": "light.kitchen"}})

	select {
	case evt := <-received:
		if evt.Data["entity_id"] != "light.kitchen" {
			t.Errorf("entity_id = %v", evt.Data["entity_id"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not receive event")
	}
}

func TestPublishOnlyMatchingType(t *testing.T) {
	b := NewWithConfig(1, 16)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		b.Close(ctx)
	})

	var saved, restored atomic.Int64
	b.Subscribe(EventTypeStateSaved, func(Event) { saved.Add(1) })
	b.Subscribe(EventTypeStateRestored, func(Event) { restored.Add(1) })

	b.Publish(Event{Type: EventTypeStateSaved})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && saved.Load() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if saved.Load() != 1 {
		t.Fatalf("saved handler ran %d times", saved.Load())
	}
	if restored.Load() != 0 {
		t.Fatalf("restored handler must not run for saved events")
	}
}

func TestPublishAfterCloseIsDropped(t *testing.T) {
	b := NewWithConfig(1, 16)

	var count atomic.Int64
	b.Subscribe(EventTypeStateSaved, func(Event) { count.Add(1) })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	b.Close(ctx)

	b.Publish(Event{Type: EventTypeStateSaved})
	time.Sleep(20 * time.Millisecond)
	if count.Load() != 0 {
		t.Fatalf("event delivered after close")
	}
}

func TestCloseWithConcurrentPublishers(t *testing.T) {
	// A publisher racing Close must have its event delivered or dropped,
	// never panic on the closed work queue. Small bus to keep the queue
	// contended; many rounds to widen the window.
	for i := 0; i < 200; i++ {
		b := NewWithConfig(1, 1)
		b.Subscribe(EventTypeStateRestored, func(Event) {})

		var wg sync.WaitGroup
		for p := 0; p < 4; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 25; j++ {
					b.Publish(Event{Type: EventTypeStateRestored})
				}
			}()
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		b.Close(ctx)
		cancel()

		wg.Wait()
	}
}

func TestHandlerPanicDoesNotKillWorker(t *testing.T) {
	b := NewWithConfig(1, 16)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		b.Close(ctx)
	})

	var count atomic.Int64
	b.Subscribe(EventTypeStateSaved, func(Event) { panic("boom") })
	b.Subscribe(EventTypeStateRestored, func(Event) { count.Add(1) })

	b.Publish(Event{Type: EventTypeStateSaved})
	b.Publish(Event{Type: EventTypeStateRestored})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && count.Load() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if count.Load() != 1 {
		t.Fatal("worker died after handler panic")
	}
}
