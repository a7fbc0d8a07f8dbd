// Package scheduler drives every periodic task in the daemon from a single
// ticker per task: mixing deposit/intermediate watches, coinjoin round
// formation, and round idle-timeout sweeps. Each task runs on its own
// goroutine so a slow tick on one never delays another.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"kasmix/internal/config"
)

// Task is one periodically-invoked unit of work. name is used only for
// logging; it should be stable across restarts.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(context.Context) error
}

// Scheduler runs a fixed set of Tasks on independent tickers until Stop is
// called or its context is canceled.
type Scheduler struct {
	tasks []Task

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a Scheduler for the given tasks. Tasks are not started until
// Start is called.
func New(tasks []Task) *Scheduler {
	return &Scheduler{tasks: tasks}
}

// Start launches every registered task on its own goroutine. Tasks run with
// a context derived from ctx that Stop cancels.
func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, task := range s.tasks {
		task := task
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runTask(runCtx, task)
		}()
	}
}

// Stop cancels every task's context and waits for each goroutine to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) runTask(ctx context.Context, task Task) {
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	slog.Info("scheduler task started", "task", task.Name, "interval", task.Interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler task stopped", "task", task.Name)
			return
		case <-ticker.C:
			if err := task.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("scheduler task tick failed", "task", task.Name, "error", err)
			}
		}
	}
}

// DefaultTickPeriod is used by tasks that have no domain-specific cadence of
// their own (§9).
const DefaultTickPeriod = config.SchedulerTickPeriod
