package worker

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds pool settings
type Config struct {
	MaxWorkers  int           // ceiling on concurrent tasks
	TaskTimeout time.Duration // per task; 0 means no timeout
}

// Size returns min(available CPUs, tasks, ceiling), and at least 1.
func Size(tasks, ceiling int) int {
	n := runtime.NumCPU()
	if tasks < n {
		n = tasks
	}
	if ceiling > 0 && ceiling < n {
		n = ceiling
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Manager distributes tasks to a bounded set of workers
type Manager struct {
	cfg    Config
	logger *zap.Logger
}

// NewManager creates a new manager
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{cfg: cfg, logger: logger}
}

// Workers returns the pool size used for a batch of n tasks.
func (m *Manager) Workers(n int) int {
	return Size(n, m.cfg.MaxWorkers)
}

// Run starts the batch and returns a channel of outcomes in completion
// order. The channel is closed once every task has an outcome. A timed
// out task yields an outcome immediately and does not delay the others.
func Run[T any](ctx context.Context, m *Manager, tasks []Task[T]) <-chan Outcome[T] {
	type job struct {
		index int
		task  Task[T]
	}

	jobChan := make(chan job, len(tasks))
	for i, t := range tasks {
		jobChan <- job{index: i, task: t}
	}
	close(jobChan)

	results := make(chan Outcome[T], len(tasks))
	workers := m.Workers(len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := range jobChan {
				out := runTask(ctx, j.index, j.task, m.cfg.TaskTimeout)
				if out.TimedOut {
					m.logger.Warn("Task timed out",
						zap.Int("worker", workerID),
						zap.String("task", out.ID),
						zap.Duration("timeout", m.cfg.TaskTimeout))
				}
				results <- out
			}
		}(i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}
