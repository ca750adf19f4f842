package cmcd

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/grip/recovery"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// JobFunc is the body of a scheduled job.
type JobFunc func(ctx context.Context)

// DefaultWorkers is the size of the shared worker pool.
const DefaultWorkers = 16

// Scheduler runs named jobs at fixed intervals. Every trigger fires
// once immediately and then once per interval; bodies run on a shared,
// bounded pool of workers. A job name never overlaps itself: if a
// body scheduled under that name is still running when the trigger
// fires, that firing is skipped. This holds across a Deschedule and
// Schedule of the same name.
type Scheduler struct {
	mu       sync.Mutex
	ctx      context.Context
	triggers map[string]*trigger
	busy     map[string]*atomic.Bool
	pool     *semaphore.Weighted
	wg       sync.WaitGroup
	stopped  bool
}

type trigger struct {
	name     string
	interval time.Duration
	fn       JobFunc
	cancel   context.CancelFunc
	running  *atomic.Bool
}

// NewScheduler builds a scheduler whose bodies share a pool of workers
// slots. Non-positive values select DefaultWorkers.
func NewScheduler(workers int) *Scheduler {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	return &Scheduler{
		triggers: map[string]*trigger{},
		busy:     map[string]*atomic.Bool{},
		pool:     semaphore.NewWeighted(int64(workers)),
	}
}

// Schedule registers a job. If the scheduler is running, the job's
// first execution starts right away. Names must be unique.
func (s *Scheduler) Schedule(name string, interval time.Duration, fn JobFunc) error {
	if interval <= 0 {
		return errors.Errorf("invalid interval %s for job '%s'", interval, name)
	}
	if fn == nil {
		return errors.Errorf("job '%s' has no body", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return errors.Errorf("cannot schedule '%s' on a stopped scheduler", name)
	}
	if _, ok := s.triggers[name]; ok {
		return errors.Errorf("job '%s' is already scheduled", name)
	}

	running, ok := s.busy[name]
	if !ok {
		running = &atomic.Bool{}
		s.busy[name] = running
	}

	t := &trigger{name: name, interval: interval, fn: fn, running: running}
	s.triggers[name] = t
	if s.ctx != nil {
		s.launch(t)
	}

	grip.Debug(message.Fields{
		"message":  "scheduled job",
		"job":      name,
		"interval": interval.String(),
	})

	return nil
}

// Deschedule cancels a job's trigger. It does not wait for a running
// body to return, so a job may deschedule itself. A job scheduled
// again under the same name skips its firings until that body returns.
func (s *Scheduler) Deschedule(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.triggers[name]
	if !ok {
		return false
	}
	delete(s.triggers, name)
	if t.cancel != nil {
		t.cancel()
	}

	grip.Info(message.Fields{
		"message": "descheduled job",
		"job":     name,
	})

	return true
}

func (s *Scheduler) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.triggers[name]
	return ok
}

// Names returns the scheduled job names, sorted.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.triggers))
	for name := range s.triggers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Start launches every registered trigger. Triggers stop when ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return errors.New("scheduler has been stopped")
	}
	if s.ctx != nil {
		return errors.New("scheduler is already running")
	}

	s.ctx = ctx
	for _, t := range s.triggers {
		s.launch(t)
	}

	return nil
}

// Stop cancels every trigger and waits for running bodies to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for name, t := range s.triggers {
		if t.cancel != nil {
			t.cancel()
		}
		delete(s.triggers, name)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// launch must be called with s.mu held.
func (s *Scheduler) launch(t *trigger) {
	ctx, cancel := context.WithCancel(s.ctx)
	t.cancel = cancel

	s.wg.Add(1)
	go s.loop(ctx, t)
}

func (s *Scheduler) loop(ctx context.Context, t *trigger) {
	defer s.wg.Done()
	defer recovery.LogStackTraceAndContinue("scheduler trigger", t.name)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		s.fire(ctx, t)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, t *trigger) {
	if !t.running.CompareAndSwap(false, true) {
		grip.Debug(message.Fields{
			"message": "previous execution still running, skipping",
			"job":     t.name,
		})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer t.running.Store(false)
		defer recovery.LogStackTraceAndContinue("scheduled job", t.name)

		if err := s.pool.Acquire(ctx, 1); err != nil {
			return
		}
		defer s.pool.Release(1)

		if ctx.Err() != nil {
			return
		}

		t.fn(ctx)
	}()
}
