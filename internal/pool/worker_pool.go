// Package pool provides a bounded goroutine pool for controlled concurrency.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
)

// Task represents a unit of work.
type Task func(ctx context.Context) error

// WorkerPool runs tasks on a bounded set of worker goroutines. Workers spawn
// on demand up to MaxWorkers and exit after IdleTimeout without work. Panics
// inside a task are recovered and routed to the panic handler.
type WorkerPool struct {
	maxWorkers  int
	taskQueue   chan queuedTask
	workerCount atomic.Int32
	activeCount atomic.Int32
	closed      atomic.Bool
	wg          sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64

	idleTimeout  time.Duration
	panicHandler func(any)
}

type queuedTask struct {
	task Task
	ctx  context.Context
}

// WorkerPoolConfig configures the pool.
type WorkerPoolConfig struct {
	MaxWorkers   int           `json:"max_workers"`
	QueueSize    int           `json:"queue_size"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	PanicHandler func(any)     `json:"-"`
}

// DefaultWorkerPoolConfig returns sensible defaults.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		MaxWorkers:  64,
		QueueSize:   1024,
		IdleTimeout: 60 * time.Second,
	}
}

// NewWorkerPool creates a worker pool.
func NewWorkerPool(config WorkerPoolConfig) *WorkerPool {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = DefaultWorkerPoolConfig().MaxWorkers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultWorkerPoolConfig().QueueSize
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultWorkerPoolConfig().IdleTimeout
	}
	return &WorkerPool{
		maxWorkers:   config.MaxWorkers,
		taskQueue:    make(chan queuedTask, config.QueueSize),
		idleTimeout:  config.IdleTimeout,
		panicHandler: config.PanicHandler,
	}
}

// Submit enqueues a task. Returns ErrPoolFull when the queue is saturated and
// no worker slot is free, ErrPoolClosed after Close.
func (p *WorkerPool) Submit(ctx context.Context, task Task) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	p.submitted.Add(1)
	qt := queuedTask{task: task, ctx: ctx}

	select {
	case p.taskQueue <- qt:
		p.ensureWorker()
		return nil
	default:
		if p.trySpawnWorker() {
			select {
			case p.taskQueue <- qt:
				return nil
			default:
			}
		}
		p.rejected.Add(1)
		return ErrPoolFull
	}
}

func (p *WorkerPool) ensureWorker() {
	if p.workerCount.Load() < int32(p.maxWorkers) {
		p.trySpawnWorker()
	}
}

func (p *WorkerPool) trySpawnWorker() bool {
	for {
		current := p.workerCount.Load()
		if current >= int32(p.maxWorkers) {
			return false
		}
		if p.workerCount.CompareAndSwap(current, current+1) {
			p.wg.Add(1)
			go p.worker()
			return true
		}
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	defer p.workerCount.Add(-1)

	timer := time.NewTimer(p.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case qt, ok := <-p.taskQueue:
			if !ok {
				return
			}

			p.activeCount.Add(1)
			err := p.run(qt)
			p.activeCount.Add(-1)

			if err != nil {
				p.failed.Add(1)
			} else {
				p.completed.Add(1)
			}

			timer.Reset(p.idleTimeout)

		case <-timer.C:
			// Idle, exit unless we are the last worker.
			if p.workerCount.Load() > 1 {
				return
			}
			timer.Reset(p.idleTimeout)
		}
	}
}

func (p *WorkerPool) run(qt queuedTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if p.panicHandler != nil {
				p.panicHandler(r)
			}
			err = errors.New("task panicked")
		}
	}()
	return qt.task(qt.ctx)
}

// Close stops accepting work and waits for queued tasks to drain.
func (p *WorkerPool) Close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.taskQueue)
	p.wg.Wait()
}

// Stats returns pool statistics.
func (p *WorkerPool) Stats() WorkerPoolStats {
	return WorkerPoolStats{
		Workers:   int(p.workerCount.Load()),
		Active:    int(p.activeCount.Load()),
		Queued:    len(p.taskQueue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// WorkerPoolStats contains pool statistics.
type WorkerPoolStats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}
