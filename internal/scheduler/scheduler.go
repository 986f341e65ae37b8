// Package scheduler runs recurring jobs on fixed intervals. Each job gets a
// cancel handle; the scheduler itself can stop all jobs at shutdown.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Scheduler manages recurring interval jobs.
type Scheduler struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// New creates a new scheduler.
func New() *Scheduler {
	return &Scheduler{
		cancels: make(map[string]context.CancelFunc),
	}
}

// ScheduleRecurring starts a job that runs fn every interval until the
// returned cancel handle is called, the scheduler is stopped, or ctx is
// cancelled. The first run happens one interval after scheduling.
func (s *Scheduler) ScheduleRecurring(ctx context.Context, interval time.Duration, fn func(context.Context)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		log.Warn().Msg("Scheduler stopped, ignoring new recurring job")
		return func() {}
	}

	id := uuid.NewString()
	jobCtx, cancel := context.WithCancel(ctx)
	s.cancels[id] = cancel

	s.wg.Add(1)
	go s.run(jobCtx, id, interval, fn)

	log.Debug().Str("job", id).Dur("interval", interval).Msg("Recurring job scheduled")

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			s.mu.Lock()
			delete(s.cancels, id)
			s.mu.Unlock()
		})
	}
}

func (s *Scheduler) run(ctx context.Context, id string, interval time.Duration, fn func(context.Context)) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("job", id).Msg("Recurring job stopped")
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// Stop cancels all jobs and waits for them to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, cancel := range s.cancels {
		cancel()
		delete(s.cancels, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
	log.Debug().Msg("Scheduler stopped")
}
