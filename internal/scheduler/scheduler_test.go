package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func waitForCount(t *testing.T, counter *atomic.Int64, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if counter.Load() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("counter did not reach %d, got %d", want, counter.Load())
}

func TestScheduleRecurringRuns(t *testing.T) {
	s := New()
	defer s.Stop()

	var count atomic.Int64
	cancel := s.ScheduleRecurring(context.Background(), 10*time.Millisecond, func(context.Context) {
		count.Add(1)
	})
	defer cancel()

	waitForCount(t, &count, 3)
}

func TestCancelStopsJob(t *testing.T) {
	s := New()
	defer s.Stop()

	var count atomic.Int64
	cancel := s.ScheduleRecurring(context.Background(), 10*time.Millisecond, func(context.Context) {
		count.Add(1)
	})

	waitForCount(t, &count, 1)
	cancel()

	settled := count.Load()
	time.Sleep(50 * time.Millisecond)
	if got := count.Load(); got > settled+1 {
		t.Fatalf("job kept running after cancel: %d -> %d", settled, got)
	}

	// Cancelling twice is safe.
	cancel()
}

func TestStopCancelsAllJobs(t *testing.T) {
	s := New()

	var count atomic.Int64
	s.ScheduleRecurring(context.Background(), 10*time.Millisecond, func(context.Context) {
		count.Add(1)
	})
	s.ScheduleRecurring(context.Background(), 10*time.Millisecond, func(context.Context) {
		count.Add(1)
	})

	waitForCount(t, &count, 2)
	s.Stop()

	settled := count.Load()
	time.Sleep(50 * time.Millisecond)
	if got := count.Load(); got != settled {
		t.Fatalf("jobs kept running after Stop: %d -> %d", settled, got)
	}

	// A stopped scheduler ignores new jobs.
	cancel := s.ScheduleRecurring(context.Background(), 10*time.Millisecond, func(context.Context) {
		count.Add(1)
	})
	cancel()
	time.Sleep(30 * time.Millisecond)
	if got := count.Load(); got != settled {
		t.Fatalf("stopped scheduler ran a new job: %d -> %d", settled, got)
	}
}

func TestContextCancelStopsJob(t *testing.T) {
	s := New()
	defer s.Stop()

	ctx, cancel := context.WithCancel(context.Background())

	var count atomic.Int64
	s.ScheduleRecurring(ctx, 10*time.Millisecond, func(context.Context) {
		count.Add(1)
	})

	waitForCount(t, &count, 1)
	cancel()

	settled := count.Load()
	time.Sleep(50 * time.Millisecond)
	if got := count.Load(); got > settled+1 {
		t.Fatalf("job kept running after context cancel: %d -> %d", settled, got)
	}
}
