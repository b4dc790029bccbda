// Package scheduler runs named periodic tasks whose intervals are scaled by
// the clock speed.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gregtusar/positrader/pkg/clock"
	"github.com/sirupsen/logrus"
)

// ErrDone is returned by a task that has finished for good.
var ErrDone = errors.New("task done")

// minInterval floors scaled intervals at high clock speeds.
const minInterval = time.Millisecond

type Task struct {
	Name       string
	Interval   time.Duration
	StartDelay time.Duration
	RunNow     bool
	Run        func(ctx context.Context) error
}

type task struct {
	Task
	paused atomic.Bool
	runs   atomic.Int64
}

type Scheduler struct {
	clock  clock.Clock
	logger *logrus.Entry

	mu      sync.RWMutex
	tasks   map[string]*task
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(clk clock.Clock, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		clock:  clk,
		logger: logger.WithField("component", "scheduler"),
		tasks:  make(map[string]*task),
	}
}

// Add registers a task. Tasks added after Start begin immediately.
func (s *Scheduler) Add(t Task) error {
	if t.Name == "" || t.Run == nil || t.Interval <= 0 {
		return fmt.Errorf("invalid task %q", t.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.Name]; exists {
		return fmt.Errorf("task %s already registered", t.Name)
	}
	tk := &task{Task: t}
	s.tasks[t.Name] = tk
	if s.started {
		s.launch(tk)
	}
	return nil
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, tk := range s.tasks {
		s.launch(tk)
	}
	s.logger.WithField("tasks", len(s.tasks)).Info("Scheduler started")
}

// Stop cancels all tasks and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.started = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// Pause stops a task from running until Continue. Unknown names are
// tolerated and reported as false.
func (s *Scheduler) Pause(name string) bool {
	tk, ok := s.lookup(name)
	if ok {
		tk.paused.Store(true)
		s.logger.WithField("task", name).Debug("Task paused")
	}
	return ok
}

func (s *Scheduler) Continue(name string) bool {
	tk, ok := s.lookup(name)
	if ok {
		tk.paused.Store(false)
		s.logger.WithField("task", name).Debug("Task continued")
	}
	return ok
}

func (s *Scheduler) Paused(name string) bool {
	tk, ok := s.lookup(name)
	return ok && tk.paused.Load()
}

// Runs reports how many times a task has run.
func (s *Scheduler) Runs(name string) int64 {
	tk, ok := s.lookup(name)
	if !ok {
		return 0
	}
	return tk.runs.Load()
}

func (s *Scheduler) lookup(name string) (*task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tk, ok := s.tasks[name]
	return tk, ok
}

// launch must be called with s.mu held.
func (s *Scheduler) launch(tk *task) {
	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx, tk)
	}()
}

func (s *Scheduler) loop(ctx context.Context, tk *task) {
	log := s.logger.WithField("task", tk.Name)

	if delay := clock.Scale(s.clock, tk.StartDelay); delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	if tk.RunNow && !s.execute(ctx, tk, log) {
		return
	}

	interval := clock.Scale(s.clock, tk.Interval)
	if interval < minInterval {
		interval = minInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.execute(ctx, tk, log) {
				return
			}
		}
	}
}

// execute runs the task once unless paused and reports whether the loop
// should keep going.
func (s *Scheduler) execute(ctx context.Context, tk *task, log *logrus.Entry) bool {
	if tk.paused.Load() {
		return true
	}
	tk.runs.Add(1)
	err := tk.Run(ctx)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrDone):
		log.Info("Task finished")
		return false
	case ctx.Err() != nil:
		return false
	default:
		log.WithError(err).Error("Task failed")
		return true
	}
}
