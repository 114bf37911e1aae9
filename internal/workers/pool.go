// Package workers provides a bounded goroutine pool for parallel backtest
// evaluation.
package workers

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of work to be processed by the pool.
type Task interface {
	Execute() error
}

// TaskFunc adapts a plain function to the Task interface.
type TaskFunc func() error

func (f TaskFunc) Execute() error { return f() }

// PoolConfig configures the worker pool.
type PoolConfig struct {
	Name            string // pool name for logging
	NumWorkers      int
	QueueSize       int
	ShutdownTimeout time.Duration
}

// DefaultPoolConfig returns defaults tuned for CPU-bound evaluation work.
func DefaultPoolConfig(name string) *PoolConfig {
	return &PoolConfig{
		Name:            name,
		NumWorkers:      runtime.NumCPU(),
		QueueSize:       1024,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Pool manages a fixed set of worker goroutines draining a shared queue.
type Pool struct {
	logger *zap.Logger
	config *PoolConfig

	taskQueue chan Task
	wg        sync.WaitGroup

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	tasksSubmitted  atomic.Int64
	tasksCompleted  atomic.Int64
	tasksFailed     atomic.Int64
	panicsRecovered atomic.Int64
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	TasksSubmitted  int64 `json:"tasks_submitted"`
	TasksCompleted  int64 `json:"tasks_completed"`
	TasksFailed     int64 `json:"tasks_failed"`
	PanicsRecovered int64 `json:"panics_recovered"`
	QueueLength     int   `json:"queue_length"`
}

// NewPool creates a worker pool. Workers do not run until Start.
func NewPool(logger *zap.Logger, config *PoolConfig) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config == nil {
		config = DefaultPoolConfig("default")
	}
	if config.NumWorkers < 1 {
		config.NumWorkers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		logger:    logger,
		config:    config,
		taskQueue: make(chan Task, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return
	}

	p.logger.Info("starting worker pool",
		zap.String("name", p.config.Name),
		zap.Int("workers", p.config.NumWorkers),
		zap.Int("queue_size", p.config.QueueSize),
	)

	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("worker_id", id))

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.execute(logger, task)
		}
	}
}

func (p *Pool) execute(logger *zap.Logger, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.panicsRecovered.Add(1)
			p.tasksFailed.Add(1)
			logger.Error("worker recovered from panic", zap.Any("panic", r))
		}
	}()

	if err := task.Execute(); err != nil {
		p.tasksFailed.Add(1)
		logger.Debug("task failed", zap.Error(err))
		return
	}
	p.tasksCompleted.Add(1)
}

// Submit enqueues a task, blocking while the queue is full. It returns an
// error once the pool is stopped or ctx is cancelled.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}

	select {
	case p.taskQueue <- task:
		p.tasksSubmitted.Add(1)
		return nil
	case <-p.ctx.Done():
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitFunc enqueues a plain function.
func (p *Pool) SubmitFunc(ctx context.Context, fn func() error) error {
	return p.Submit(ctx, TaskFunc(fn))
}

// Stop drains nothing: queued-but-unstarted tasks are abandoned. It waits up
// to ShutdownTimeout for in-flight tasks to finish.
func (p *Pool) Stop() error {
	if !p.running.Swap(false) {
		return nil
	}

	p.logger.Info("stopping worker pool", zap.String("name", p.config.Name))
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out",
			zap.String("name", p.config.Name),
			zap.Duration("timeout", p.config.ShutdownTimeout),
		)
		return ErrShutdownTimeout
	}
}

// IsRunning reports whether the pool accepts work.
func (p *Pool) IsRunning() bool { return p.running.Load() }

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		TasksSubmitted:  p.tasksSubmitted.Load(),
		TasksCompleted:  p.tasksCompleted.Load(),
		TasksFailed:     p.tasksFailed.Load(),
		PanicsRecovered: p.panicsRecovered.Load(),
		QueueLength:     len(p.taskQueue),
	}
}

// PoolError is a sentinel pool failure.
type PoolError struct {
	Message string
}

func (e *PoolError) Error() string { return e.Message }

var (
	ErrPoolStopped     = &PoolError{Message: "pool is stopped"}
	ErrShutdownTimeout = &PoolError{Message: "shutdown timed out"}
)
