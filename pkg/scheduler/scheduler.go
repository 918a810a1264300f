package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskFunc is a unit of periodic work.
type TaskFunc func(context.Context) error

type task struct {
	name     string
	interval time.Duration
	run      TaskFunc
}

// Scheduler runs registered tasks on fixed intervals. It is an explicitly
// owned value with a Start/Stop lifecycle; construct one per process and
// inject it where needed.
type Scheduler struct {
	logger *zap.Logger

	mu      sync.Mutex
	tasks   []task
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New constructs an empty scheduler.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{logger: logger}
}

// Register adds a named periodic task. Must be called before Start.
func (s *Scheduler) Register(name string, interval time.Duration, fn TaskFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || interval <= 0 || fn == nil {
		return
	}
	s.tasks = append(s.tasks, task{name: name, interval: interval, run: fn})
}

// Start launches one goroutine per registered task. Safe to call once.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(t)
	}
	s.started = true
	s.logger.Sugar().Infow("scheduler started", "tasks", len(s.tasks))
}

// Stop cancels all task loops and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Sugar().Infow("scheduler stopped")
}

func (s *Scheduler) loop(t task) {
	defer s.wg.Done()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := t.run(s.ctx); err != nil {
				s.logger.Sugar().Errorw("scheduled task failed", "task", t.name, "error", err)
			}
		}
	}
}
